// Package jlm implements the Job Lifecycle Manager (spec §4.5): the only
// component that owns a Job's state machine, enforces its timeouts, drives
// reassignment, and talks to the chain. Grounded on the teacher's
// quorum/poll pair wired together by an orchestrating caller
// (networking/timer and executor/executor.go's "one registered timeout
// per pending operation, driven by an external tick" shape), generalized
// here from one voting round to the full Received→...→terminal DAG, with
// a single explicit Tick replacing the teacher's per-op timer goroutines
// so the whole manager stays driven by one injected clock.
package jlm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/chainclient"
	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/errs"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
	"github.com/meshcompute/coordinator/internal/ra"
	"github.com/meshcompute/coordinator/internal/telemetry"
)

// ReputationWriter is the narrow RHR surface JLM writes through (spec §9:
// every component owns exactly one writer).
type ReputationWriter interface {
	RecordJobOutcome(workerID ids.WorkerID, success bool, execTime time.Duration, reward uint64, resultQuality *float64)
	RecordTimeout(workerID ids.WorkerID)
	ApplyPenalty(workerID ids.WorkerID, kind model.PenaltyKind, severity float64, reason string, jobID ids.JobID)
}

// AuctionEngine is the narrow AE surface JLM drives.
type AuctionEngine interface {
	Open(jobID ids.JobID, kind string, req model.ComputeRequirements) *model.Auction
	SubmitBid(auctionID ids.AuctionID, bid model.Bid) error
	Close(auctionID ids.AuctionID) (*model.Auction, error)
	Discard(auctionID ids.AuctionID)
}

// ResultAggregator is the narrow RA surface JLM drives.
type ResultAggregator interface {
	Open(jobID ids.JobID, assignment model.Assignment, method model.VerificationMethod)
	SubmitResult(result model.WorkerResult) (quorumReached bool, err error)
	Close(jobID ids.JobID) (*model.ConsensusArtifact, error)
	Discard(jobID ids.JobID)
}

// jobRecord is JLM's private bookkeeping for one active Job, kept
// separate from model.Job so the public entity stays a plain data
// record (spec §3: "Job ... owned by JLM").
type jobRecord struct {
	job        model.Job
	auctionID  ids.AuctionID
	deadline   time.Time
	txHash     string
	txAttempts int
}

// pendingReward tracks one outstanding distribute_rewards submission so
// Tick can poll it to confirmation before crediting the earnings view
// (SPEC_FULL § SUPPLEMENTED FEATURES "Earnings/settlement view").
type pendingReward struct {
	handle       chainclient.TxHandle
	jobID        ids.JobID
	reward       uint64
	contributors []ids.WorkerID
}

// Manager is the Job Lifecycle Manager.
type Manager struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *telemetry.Metrics
	rhr     ReputationWriter
	ae      AuctionEngine
	ra      ResultAggregator
	chain   chainclient.Client
	pub     Publisher
	now     func() time.Time

	jobs  map[ids.JobID]*jobRecord
	txLog []chainclient.TxHandle

	pendingRewards []*pendingReward
	earnings       map[ids.WorkerID]uint64

	mu sync.Mutex
}

func New(cfg config.Config, log *zap.Logger, metrics *telemetry.Metrics, rhr ReputationWriter, ae AuctionEngine, ra_ ResultAggregator, chain chainclient.Client, pub Publisher, now func() time.Time) *Manager {
	return &Manager{
		cfg: cfg, log: log, metrics: metrics, rhr: rhr, ae: ae, ra: ra_, chain: chain, pub: pub, now: now,
		jobs:     make(map[ids.JobID]*jobRecord),
		earnings: make(map[ids.WorkerID]uint64),
	}
}

// Submit validates a new JobSpec, admits it as Received, and immediately
// announces and opens its auction (spec §4.5 Received→Announced→Auctioning).
func (m *Manager) Submit(spec model.JobSpec, priority int, maxReward uint64, slaDeadline time.Time, clientRef string, tags map[string]string) (ids.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := validateSpec(spec, slaDeadline, now); err != nil {
		return ids.JobID{}, err
	}
	if len(m.jobs) >= m.cfg.MaxConcurrentJobs {
		return ids.JobID{}, errs.New(errs.KindValidation, errs.ReasonOversizedPayload, nil)
	}

	job := model.Job{
		ID:          ids.NewJobID(),
		Spec:        spec,
		Priority:    priority,
		MaxReward:   maxReward,
		SubmittedAt: now,
		SLADeadline: slaDeadline,
		ClientRef:   clientRef,
		State:       model.JobReceived,
		Tags:        tags,
	}
	rec := &jobRecord{job: job}
	m.jobs[job.ID] = rec
	m.emit("JobReceived", job.ID, nil, nil)

	m.openAuctionLocked(rec)
	return job.ID, nil
}

func validateSpec(spec model.JobSpec, sla, now time.Time) error {
	if spec.Kind == "" {
		return errs.New(errs.KindValidation, errs.ReasonInvalidSpec, nil)
	}
	if len(spec.Metadata) > 64 {
		return errs.New(errs.KindValidation, errs.ReasonOversizedPayload, nil)
	}
	if !sla.After(now) {
		return errs.New(errs.KindValidation, errs.ReasonInvalidSpec, nil)
	}
	return nil
}

func (m *Manager) openAuctionLocked(rec *jobRecord) {
	rec.job.State = model.JobAnnounced
	m.emit("JobAnnounced", rec.job.ID, nil, nil)

	auction := m.ae.Open(rec.job.ID, rec.job.Spec.Kind, rec.job.Spec.ComputeRequirements)
	rec.auctionID = auction.ID
	rec.deadline = auction.ClosesAt
	rec.job.State = model.JobAuctioning
}

// SubmitBid forwards a bid to the Job's open auction.
func (m *Manager) SubmitBid(jobID ids.JobID, bid model.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok || rec.job.State != model.JobAuctioning {
		return errs.ErrUnknownJob
	}
	if err := m.ae.SubmitBid(rec.auctionID, bid); err != nil {
		if errors.Is(err, errs.ErrBidBelowFloor) {
			m.rhr.ApplyPenalty(bid.WorkerID, model.PenaltySuspiciousBid, 0.3, errs.ReasonBidBelowFloor, jobID)
		}
		return err
	}
	m.emit("BidAccepted", jobID, &bid.WorkerID, map[string]any{"amount": bid.Amount})
	return nil
}

// SubmitResult forwards a WorkerResult to the Job's open collection
// window, advancing Executing→Collecting on first arrival and closing
// collection immediately if quorum is reached (spec §4.5).
func (m *Manager) SubmitResult(result model.WorkerResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[result.JobID]
	if !ok {
		return errs.ErrUnknownJob
	}
	if rec.job.State != model.JobExecuting && rec.job.State != model.JobCollecting {
		return errs.ErrInvalidTransition
	}

	quorum, err := m.ra.SubmitResult(result)
	if err != nil {
		return err
	}

	if rec.job.State == model.JobExecuting {
		rec.job.State = model.JobCollecting
		rec.deadline = m.now().Add(m.cfg.CollectionWindow)
	}
	m.emit("ResultSubmitted", result.JobID, &result.WorkerID, nil)

	if quorum {
		m.closeCollectionLocked(rec)
	}
	return nil
}

// Cancel moves an active Job to Cancelled on explicit client request,
// discarding any open auction or collection window without reputation
// effect (spec §5).
func (m *Manager) Cancel(jobID ids.JobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return errs.ErrUnknownJob
	}
	if rec.job.State.Terminal() {
		return errs.ErrInvalidTransition
	}
	m.discardLocked(rec)
	rec.job.State = model.JobCancelled
	m.emit("JobFailed", jobID, nil, map[string]any{"reason": reason, "terminal": "cancelled"})
	return nil
}

func (m *Manager) discardLocked(rec *jobRecord) {
	switch rec.job.State {
	case model.JobAuctioning:
		m.ae.Discard(rec.auctionID)
	case model.JobExecuting, model.JobCollecting:
		m.ra.Discard(rec.job.ID)
	}
}

// Status returns a copy of a Job's current record.
func (m *Manager) Status(jobID ids.JobID) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, errs.ErrUnknownJob
	}
	return rec.job, nil
}

// PublishWorkerOffline satisfies pd.Notifier: a worker going offline
// while holding an assignment is treated the same as execution silence,
// triggering immediate reassignment instead of waiting out the full
// execution timer.
func (m *Manager) PublishWorkerOffline(workerID ids.WorkerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.jobs {
		if rec.job.Assignment == nil || rec.job.Assignment.WorkerID != workerID {
			continue
		}
		if rec.job.State != model.JobAssigned && rec.job.State != model.JobExecuting && rec.job.State != model.JobCollecting {
			continue
		}
		m.timeoutAssignmentLocked(rec)
	}
}

// Tick advances every active Job whose current deadline has passed. It is
// the sole driver of time-based transitions (spec §4.5 "one soft-timer
// per active Job"); callers invoke it on a real ticker in production and
// explicitly in tests after advancing a virtual clock.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, rec := range m.jobs {
		if rec.job.State.Terminal() {
			continue
		}
		switch rec.job.State {
		case model.JobAuctioning:
			if !now.Before(rec.deadline) {
				m.closeAuctionLocked(rec)
			}
		case model.JobExecuting, model.JobCollecting:
			if !now.Before(rec.deadline) {
				if rec.job.State == model.JobCollecting {
					m.closeCollectionLocked(rec)
				} else {
					m.timeoutAssignmentLocked(rec)
				}
			}
		case model.JobSubmitting:
			m.pollChainLocked(rec)
		}
	}
	m.pollRewardsLocked()
}

// pollRewardsLocked advances every outstanding distribute_rewards
// submission and credits the earnings view once the chain confirms it.
// Confirmation is the only source of truth here — a reward is never
// counted on the strength of the submission alone. distribute_rewards
// pays the job's single reward amount once on-chain, so it is split
// evenly across the job's contributors rather than credited in full to
// each (RecordJobOutcome's full-reward-per-contributor figure, passed in
// pollChainLocked, is a
// reputation signal, not a payment, and is unrelated to this split).
func (m *Manager) pollRewardsLocked() {
	remaining := m.pendingRewards[:0]
	for _, pr := range m.pendingRewards {
		handle, err := m.chain.Poll(context.Background(), pr.handle)
		if err != nil || handle.State == chainclient.TxPending {
			remaining = append(remaining, pr)
			continue
		}
		if handle.State == chainclient.TxConfirmed && len(pr.contributors) > 0 {
			share := pr.reward / uint64(len(pr.contributors))
			for _, w := range pr.contributors {
				m.earnings[w] += share
			}
		}
		// TxFailed: dropped from tracking; the job itself already reached
		// a terminal state before distribute_rewards was attempted, so
		// there is nothing left to retry here.
	}
	m.pendingRewards = remaining
}

// EarningsSnapshot returns each worker's cumulative confirmed
// distribute_rewards total. It is recomputed only from chain-confirmed
// receipts, never from submission alone, and is read-only: JLM never
// treats it as a source of truth for settlement.
func (m *Manager) EarningsSnapshot() map[ids.WorkerID]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ids.WorkerID]uint64, len(m.earnings))
	for w, total := range m.earnings {
		out[w] = total
	}
	return out
}

func (m *Manager) closeAuctionLocked(rec *jobRecord) {
	auction, err := m.ae.Close(rec.auctionID)
	if err != nil {
		m.reassignOrFailLocked(rec, errs.KindEligibility, errs.ReasonNoBids)
		return
	}
	if m.metrics != nil {
		m.metrics.AuctionDuration.Observe(m.now().Sub(auction.OpenedAt).Seconds())
	}
	if auction.Winner == nil {
		code := errs.ReasonNoBids
		switch auction.NoWinnerReason {
		case model.NoEligibleBids:
			code = errs.ReasonNoEligibleBids
		case model.AllBanned:
			code = errs.ReasonAllBanned
		}
		m.reassignOrFailLocked(rec, errs.KindEligibility, code)
		return
	}

	winner := auction.Winner
	assignment := model.Assignment{
		ID:           ids.NewAssignmentID(),
		JobID:        rec.job.ID,
		WorkerID:     winner.WorkerID,
		Reward:       winner.Amount,
		StartedAt:    m.now(),
		Deadline:     m.now().Add(time.Duration(float64(winner.EstimatedDuration) * m.cfg.SafetyFactor)),
		Contributors: m.contributorsFor(rec.job.Spec.VerificationMethod, winner.WorkerID, auction.EligibleBidsCache),
	}
	rec.job.Assignment = &assignment
	rec.job.State = model.JobAssigned
	m.emit("JobAssigned", rec.job.ID, &winner.WorkerID, map[string]any{"reward": winner.Amount})

	if handle, err := m.chain.AssignJob(context.Background(), rec.job.ID, winner.WorkerID); err == nil {
		m.txLog = append(m.txLog, handle)
	}

	rec.job.State = model.JobExecuting
	rec.deadline = assignment.Deadline
	m.ra.Open(rec.job.ID, assignment, rec.job.Spec.VerificationMethod)
}

// contributorsFor decides who gets to submit a result. A verification
// method that only looks at one answer (none, zk_proof) assigns the
// sole auction winner; a quorum-based method (statistical_sampling,
// consensus_validation) instead assigns every eligible bidder, up to
// the configured result cap, so RA has multiple independent answers to
// compare (spec §4.4 assumes "results" plural under those policies).
func (m *Manager) contributorsFor(method model.VerificationMethod, winner ids.WorkerID, eligible []model.Bid) []ids.WorkerID {
	contributors := []ids.WorkerID{winner}
	if method != model.VerificationStatisticalSampling && method != model.VerificationConsensusValidation {
		return contributors
	}
	for _, b := range eligible {
		if b.WorkerID == winner {
			continue
		}
		if len(contributors) >= m.cfg.MaxResultsPerJob {
			break
		}
		contributors = append(contributors, b.WorkerID)
	}
	return contributors
}

func (m *Manager) timeoutAssignmentLocked(rec *jobRecord) {
	if rec.job.Assignment != nil {
		m.rhr.RecordTimeout(rec.job.Assignment.WorkerID)
		m.rhr.ApplyPenalty(rec.job.Assignment.WorkerID, model.PenaltyJobTimeout, 0.5, errs.ReasonWorkerSilent, rec.job.ID)
	}
	m.ra.Discard(rec.job.ID)
	m.reassignOrFailLocked(rec, errs.KindTimeout, errs.ReasonWorkerSilent)
}

func (m *Manager) closeCollectionLocked(rec *jobRecord) {
	artifact, err := m.ra.Close(rec.job.ID)
	if m.metrics != nil {
		m.metrics.CollectionDuration.Observe(m.now().Sub(rec.job.Assignment.StartedAt).Seconds())
	}
	if err != nil {
		switch {
		case ra.IsNoConsensus(err):
			rec.job.State = model.JobFailed
			m.emit("JobFailed", rec.job.ID, nil, map[string]any{"kind": string(errs.KindConsensus), "reason": errs.ReasonNoConsensus})
		case ra.IsCollectionFailed(err):
			m.reassignOrFailLocked(rec, errs.KindTimeout, errs.ReasonWorkerSilent)
		default:
			rec.job.State = model.JobFailed
			m.emit("JobFailed", rec.job.ID, nil, map[string]any{"kind": string(errs.KindConsensus)})
		}
		return
	}

	rec.job.ConsensusResult = artifact
	rec.job.State = model.JobAggregating
	m.emit("ConsensusReached", rec.job.ID, nil, map[string]any{"method": string(artifact.Method), "confidence": artifact.Confidence})

	handle, err := m.chain.SubmitResult(context.Background(), rec.job.ID, *artifact)
	if err != nil {
		rec.job.State = model.JobFailed
		m.emit("JobFailed", rec.job.ID, nil, map[string]any{"kind": string(errs.KindChain)})
		return
	}
	m.txLog = append(m.txLog, handle)
	rec.txHash = handle.Hash
	rec.txAttempts = 1
	rec.job.State = model.JobSubmitting
	rec.deadline = m.now().Add(m.cfg.ConfirmationTimeout)
}

func (m *Manager) pollChainLocked(rec *jobRecord) {
	handle, err := m.chain.Poll(context.Background(), chainclient.TxHandle{Hash: rec.txHash, Op: "submit_result", JobID: rec.job.ID, State: chainclient.TxPending})
	if err != nil {
		return
	}

	switch handle.State {
	case chainclient.TxConfirmed:
		rec.job.State = model.JobConfirmed
		artifact := rec.job.ConsensusResult
		execTime := m.now().Sub(rec.job.Assignment.StartedAt)
		for _, w := range artifact.Contributors {
			m.rhr.RecordJobOutcome(w, true, execTime, rec.job.Assignment.Reward, &artifact.Confidence)
		}
		if m.metrics != nil {
			m.metrics.JobsTerminal.WithLabelValues("confirmed").Inc()
			// rec.deadline is the latest submit_result time plus ConfirmationTimeout.
			submittedAt := rec.deadline.Add(-m.cfg.ConfirmationTimeout)
			m.metrics.ChainConfirmLatency.Observe(m.now().Sub(submittedAt).Seconds())
		}
		m.emit("JobConfirmed", rec.job.ID, nil, map[string]any{"block": handle.Block})
		if h, err := m.chain.DistributeRewards(context.Background(), rec.job.ID); err == nil {
			m.txLog = append(m.txLog, h)
			m.pendingRewards = append(m.pendingRewards, &pendingReward{
				handle:       h,
				jobID:        rec.job.ID,
				reward:       rec.job.Assignment.Reward,
				contributors: artifact.Contributors,
			})
		}

	case chainclient.TxFailed, chainclient.TxPending:
		if handle.State == chainclient.TxPending && m.now().Before(rec.deadline) {
			return
		}
		if rec.txAttempts >= m.cfg.RetryMax {
			rec.job.State = model.JobFailed
			if m.metrics != nil {
				m.metrics.JobsTerminal.WithLabelValues("failed").Inc()
			}
			m.emit("JobFailed", rec.job.ID, nil, map[string]any{"kind": string(errs.KindChain), "reason": errs.ReasonChainSubmitExhausted})
			return
		}
		newHandle, err := m.chain.SubmitResult(context.Background(), rec.job.ID, *rec.job.ConsensusResult)
		if err != nil {
			rec.job.State = model.JobFailed
			m.emit("JobFailed", rec.job.ID, nil, map[string]any{"kind": string(errs.KindChain)})
			return
		}
		m.txLog = append(m.txLog, newHandle)
		rec.txHash = newHandle.Hash
		rec.txAttempts++
		rec.deadline = m.now().Add(m.cfg.ConfirmationTimeout)
	}
}

// reassignOrFailLocked transitions rec through Reassigning back to
// Announced/Auctioning if retries remain and the failure kind is
// reassignable, otherwise to Failed (spec §4.5).
func (m *Manager) reassignOrFailLocked(rec *jobRecord, kind errs.Kind, code string) {
	if kind.Reassignable() && rec.job.RetryCount < m.cfg.RetryMax {
		rec.job.RetryCount++
		rec.job.Assignment = nil
		rec.job.State = model.JobReassigning
		m.emit("JobAnnounced", rec.job.ID, nil, map[string]any{"retry": rec.job.RetryCount, "reason": code})
		m.openAuctionLocked(rec)
		return
	}
	rec.job.State = model.JobFailed
	if m.metrics != nil {
		m.metrics.JobsTerminal.WithLabelValues("failed").Inc()
	}
	m.emit("JobFailed", rec.job.ID, nil, map[string]any{"kind": string(kind), "reason": code})
}

// TxLog returns every chain transaction handle observed so far, in
// submission order, for audit/test inspection (spec §8: "event stream
// shows all three tx handles").
func (m *Manager) TxLog() []chainclient.TxHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chainclient.TxHandle(nil), m.txLog...)
}
