// Package model holds the entity types from spec §3, shared by every
// component. A Job's state fields are owned exclusively by JLM, an
// Auction's by AE, a Reputation's by RHR — this package only defines the
// shapes; ownership is enforced by which package calls the mutating
// methods, never by the type system.
package model

import (
	"time"

	"github.com/meshcompute/coordinator/internal/ids"
)

// JobState is a value in the §4.5 state DAG.
type JobState string

const (
	JobReceived    JobState = "received"
	JobAnnounced   JobState = "announced"
	JobAuctioning  JobState = "auctioning"
	JobAssigned    JobState = "assigned"
	JobExecuting   JobState = "executing"
	JobCollecting  JobState = "collecting"
	JobAggregating JobState = "aggregating"
	JobSubmitting  JobState = "submitting"
	JobReassigning JobState = "reassigning"
	JobConfirmed   JobState = "confirmed"
	JobFailed      JobState = "failed"
	JobCancelled   JobState = "cancelled"
)

// Terminal reports whether s is a terminal state a Job never leaves
// (spec invariant 1).
func (s JobState) Terminal() bool {
	switch s {
	case JobConfirmed, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// VerificationMethod selects the Result Aggregator's aggregation policy
// (spec §3, §4.4).
type VerificationMethod string

const (
	VerificationNone                VerificationMethod = "none"
	VerificationStatisticalSampling VerificationMethod = "statistical_sampling"
	VerificationZKProof             VerificationMethod = "zk_proof"
	VerificationConsensusValidation VerificationMethod = "consensus_validation"
)

// ComputeRequirements enumerates the minimums a candidate Worker must meet
// (spec §3 JobSpec, §4.2 capability matching).
type ComputeRequirements struct {
	MinGPUMemoryMB  uint64
	MinCPUCores     uint32
	MinRAMMB        uint64
	RequiredFrameworks []string
	RequiredHardwareTags []string
}

// JobSpec is the immutable description of work to perform (spec §3).
type JobSpec struct {
	Kind                string
	ModelRef            string
	InputDigest         [32]byte
	OutputFormat        string
	VerificationMethod  VerificationMethod
	ComputeRequirements ComputeRequirements
	Metadata            map[string]string
}

// Job is the JLM-owned lifecycle record (spec §3). Only JLM mutates
// State, Assignment, ConsensusResult, and RetryCount.
type Job struct {
	ID             ids.JobID
	Spec           JobSpec
	Priority       int
	MaxReward      uint64
	SubmittedAt    time.Time
	SLADeadline    time.Time
	ClientRef      string
	State          JobState
	Assignment     *Assignment
	ConsensusResult *ConsensusArtifact
	RetryCount     int
	Tags           map[string]string
}

// WorkerState is the Worker lifecycle value owned by PD, with the
// Reputation fields authoritatively owned by RHR (spec §3).
type WorkerState string

const (
	WorkerOnline    WorkerState = "online"
	WorkerBusy      WorkerState = "busy"
	WorkerOffline   WorkerState = "offline"
	WorkerUnhealthy WorkerState = "unhealthy"
	WorkerBanned    WorkerState = "banned"
)

// Capabilities is the enumerated set matched "all required ≤ advertised"
// against a JobSpec's ComputeRequirements, with an equality check on tag
// sets (spec §3, §4.2).
type Capabilities struct {
	GPUMemoryMB uint64
	CPUCores    uint32
	RAMMB       uint64
	StorageMB   uint64
	BandwidthMbps uint64
	FrameworkSupport []string
	HardwareTags     []string
}

// Satisfies reports whether c meets req under the spec §4.2 matching
// rule: every required field is ≤ advertised, and the hardware tag set
// matches exactly (not merely a superset), since spec §3 calls for "an
// equality check on tag sets".
func (c Capabilities) Satisfies(req ComputeRequirements) bool {
	if c.GPUMemoryMB < req.MinGPUMemoryMB ||
		c.CPUCores < req.MinCPUCores ||
		c.RAMMB < req.MinRAMMB {
		return false
	}
	if !containsAll(c.FrameworkSupport, req.RequiredFrameworks) {
		return false
	}
	return equalTagSets(c.HardwareTags, req.RequiredHardwareTags)
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func equalTagSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	for _, y := range b {
		if _, ok := set[y]; !ok {
			return false
		}
	}
	return true
}

// ReputationSnapshot is the cached copy PD holds; RHR is authoritative
// (spec §3, §9).
type ReputationSnapshot struct {
	Score       float64
	SuccessRate float64
	Banned      bool
	TakenAt     time.Time
}

// Worker is the PD-owned directory record (spec §3).
type Worker struct {
	ID                   ids.WorkerID
	AdvertisedCapabilities Capabilities
	LocationHint         string
	LastSeen             time.Time
	ReputationSnapshot   ReputationSnapshot
	CurrentLoad          float64
	NetworkLatency       time.Duration
	State                WorkerState
}

// PenaltyKind enumerates the RHR penalty taxonomy (spec §4.1, §8).
type PenaltyKind string

const (
	PenaltyJobTimeout      PenaltyKind = "job_timeout"
	PenaltyInvalidResult   PenaltyKind = "invalid_result"
	PenaltySuspiciousBid   PenaltyKind = "suspicious_activity"
	PenaltyMaliciousBehavior PenaltyKind = "malicious_behavior"
)

// PenaltyRecord is one entry in a Worker's RHR-owned penalty history.
type PenaltyRecord struct {
	Kind     PenaltyKind
	Severity float64
	Reason   string
	JobID    ids.JobID
	At       time.Time
}

// Reputation is the RHR-owned authoritative record (spec §3, §4.1).
type Reputation struct {
	WorkerID        ids.WorkerID
	Score           float64
	JobsCompleted   uint64
	JobsFailed      uint64
	JobsTimeout     uint64
	MaliciousEvents uint64
	AverageCompletionTime time.Duration
	Penalties       []PenaltyRecord
	LastDecayAt     time.Time
	BannedUntil     *time.Time
}

// SuccessRate returns completed / (completed + failed + timeout), or 1.0
// when the worker has no history yet (new-worker default, spec §4.1
// is_eligible requires success_rate ≥ 0.5).
func (r Reputation) SuccessRate() float64 {
	total := r.JobsCompleted + r.JobsFailed + r.JobsTimeout
	if total == 0 {
		return 1.0
	}
	return float64(r.JobsCompleted) / float64(total)
}

// Health is the RHR-derived metric (spec §3, §4.1).
type Health struct {
	WorkerID           ids.WorkerID
	Score              float64
	LastHeartbeat      time.Time
	CPUUse             float64
	MemUse             float64
	NetLatency         time.Duration
	Temperature        float64
	ConsecutiveFailures int
}

// HealthMetrics is the raw sample passed to RHR.RecordHealth.
type HealthMetrics struct {
	CPUUse      float64
	MemUse      float64
	DiskUse     float64
	NetLatency  time.Duration
	Temperature float64
	Failed      bool
}

// Bid is a worker's immutable offer (spec §3).
type Bid struct {
	ID                  ids.ID
	AuctionID           ids.AuctionID
	WorkerID            ids.WorkerID
	Amount              uint64
	EstimatedDuration   time.Duration
	ReputationAtBid     float64
	HealthAtBid         float64
	SubmittedAt         time.Time
}

// NoWinnerReason categorizes why an Auction closed without a winner
// (spec §4.3).
type NoWinnerReason string

const (
	NoBids         NoWinnerReason = "no_bids"
	NoEligibleBids NoWinnerReason = "no_eligible_bids"
	AllBanned      NoWinnerReason = "all_banned"
)

// Auction is the AE-owned bid-collection window (spec §3).
type Auction struct {
	ID                ids.AuctionID
	JobID             ids.JobID
	Kind              string
	Requirements      ComputeRequirements
	OpenedAt          time.Time
	ClosesAt          time.Time
	Bids              []Bid
	EligibleBidsCache []Bid
	Winner            *Bid
	NoWinnerReason    NoWinnerReason
}

// Assignment is created atomically with the on-chain assign_job enqueue
// (spec §3).
type Assignment struct {
	ID          ids.AssignmentID
	JobID       ids.JobID
	WorkerID    ids.WorkerID
	Reward      uint64
	Deadline    time.Time
	StartedAt   time.Time
	Contributors []ids.WorkerID
}

// WorkerResult is one worker's submitted output (spec §3).
type WorkerResult struct {
	ID            ids.ResultID
	JobID         ids.JobID
	WorkerID      ids.WorkerID
	Bytes         []byte
	Digest        [32]byte
	ExecutionTime time.Duration
	Confidence    float64
	Proof         []byte
	SubmittedAt   time.Time
}

// VerificationState tracks RA's optional verification sub-phase (spec §4.4).
type VerificationState string

const (
	VerificationPending    VerificationState = "pending"
	VerificationInProgress VerificationState = "in_progress"
	VerificationVerified   VerificationState = "verified"
	VerificationFailed     VerificationState = "failed"
)

// AggregationMethod names the strategy RA used to pick consensus bytes
// (spec §4.4).
type AggregationMethod string

const (
	MethodHighestConfidence AggregationMethod = "highest_confidence"
	MethodMajorityVote      AggregationMethod = "majority_vote"
	MethodProofVerified     AggregationMethod = "proof_verified"
)

// ConsensusArtifact is RA's output, transferred to JLM (spec §3).
type ConsensusArtifact struct {
	JobID            ids.JobID
	Bytes            []byte
	Digest           [32]byte
	Confidence       float64
	Contributors     []ids.WorkerID
	Method           AggregationMethod
	CreatedAt        time.Time
	VerificationState VerificationState
	FailureReason    string
}
