// Package ra implements the Result Aggregator (spec §4.4): collects
// WorkerResults for an assigned job until quorum, a result cap, or a
// timeout, verifies hash integrity on arrival, and derives a consensus
// artifact using the policy selected by the job's VerificationMethod.
// The digest-tally half is grounded on the teacher's utils.Bag
// (utils/bag.go, adapted here as collection.Bag) and quorum's notion of
// a termination condition (quorum/types.go: alphaConfidence + beta)
// generalized from repeated-poll finality into a single early-exit
// result count.
package ra

import (
	"crypto/sha256"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/collection"
	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/errs"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
	"github.com/meshcompute/coordinator/internal/telemetry"
)

// PenaltyApplier is the narrow RHR surface RA writes through: every
// rejected result becomes an invalid_result penalty (spec §4.4).
type PenaltyApplier interface {
	ApplyPenalty(workerID ids.WorkerID, kind model.PenaltyKind, severity float64, reason string, jobID ids.JobID)
}

// ProofVerifier is the external zk-proof predicate (spec §4.4, §9: "the
// binding between a job result and its proof ... must be supplied by the
// caller"). The core only ever treats it as a boolean.
type ProofVerifier interface {
	Verify(result model.WorkerResult) bool
}

type collectionState struct {
	jobID        ids.JobID
	assignment   model.Assignment
	method       model.VerificationMethod
	results      []model.WorkerResult
	digestTally  *collection.Bag[[32]byte]
	firstByDigest map[[32]byte]model.WorkerResult
	openedAt     time.Time
}

// Aggregator is the Result Aggregator.
type Aggregator struct {
	mu       sync.Mutex
	cfg      config.Config
	log      *zap.Logger
	metrics  *telemetry.Metrics
	rhr      PenaltyApplier
	proof    ProofVerifier
	now      func() time.Time

	open map[ids.JobID]*collectionState
}

func New(cfg config.Config, log *zap.Logger, metrics *telemetry.Metrics, rhr PenaltyApplier, proof ProofVerifier, now func() time.Time) *Aggregator {
	return &Aggregator{
		cfg: cfg, log: log, metrics: metrics, rhr: rhr, proof: proof, now: now,
		open: make(map[ids.JobID]*collectionState),
	}
}

// Open starts a collection window for jobID against the given
// assignment's contributor list and the job's verification method.
func (ra *Aggregator) Open(jobID ids.JobID, assignment model.Assignment, method model.VerificationMethod) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.open[jobID] = &collectionState{
		jobID: jobID, assignment: assignment, method: method,
		digestTally:   collection.NewBag[[32]byte](),
		firstByDigest: make(map[[32]byte]model.WorkerResult),
		openedAt:      ra.now(),
	}
}

// isContributor reports whether workerID is on the assignment's
// contributor list (spec §3 invariant 3).
func isContributor(a model.Assignment, workerID ids.WorkerID) bool {
	if a.WorkerID == workerID {
		return true
	}
	for _, c := range a.Contributors {
		if c == workerID {
			return true
		}
	}
	return false
}

func (ra *Aggregator) reject(jobID ids.JobID, workerID ids.WorkerID, reason string) {
	if ra.metrics != nil {
		ra.metrics.ResultsRejected.WithLabelValues(reason).Inc()
	}
	if ra.rhr != nil {
		ra.rhr.ApplyPenalty(workerID, model.PenaltyInvalidResult, 0.5, reason, jobID)
	}
}

// SubmitResult validates and ingests a result, returning whether
// early-exit quorum has now been reached (spec §4.4).
func (ra *Aggregator) SubmitResult(result model.WorkerResult) (quorumReached bool, err error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	st, ok := ra.open[result.JobID]
	if !ok {
		return false, errs.ErrUnknownJob
	}

	if len(result.Bytes) == 0 {
		ra.reject(result.JobID, result.WorkerID, "empty_bytes")
		return false, errs.New(errs.KindIntegrity, errs.ReasonHashMismatch, nil)
	}
	if sha256.Sum256(result.Bytes) != result.Digest {
		ra.reject(result.JobID, result.WorkerID, "hash_mismatch")
		return false, errs.New(errs.KindIntegrity, errs.ReasonHashMismatch, nil)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		ra.reject(result.JobID, result.WorkerID, "invalid_confidence")
		return false, errs.New(errs.KindValidation, "invalid_confidence", nil)
	}
	if !isContributor(st.assignment, result.WorkerID) {
		ra.reject(result.JobID, result.WorkerID, "not_a_contributor")
		return false, errs.New(errs.KindIntegrity, "not_a_contributor", nil)
	}

	if len(st.results) >= ra.cfg.MaxResultsPerJob {
		return true, nil
	}

	result.SubmittedAt = ra.now()
	st.results = append(st.results, result)
	st.digestTally.Add(result.Digest)
	if _, seen := st.firstByDigest[result.Digest]; !seen {
		st.firstByDigest[result.Digest] = result
	}

	if st.method == model.VerificationConsensusValidation || st.method == model.VerificationStatisticalSampling {
		_, count, hasMode := st.digestTally.Mode()
		if hasMode && count >= ra.cfg.MinConsensusResults {
			return true, nil
		}
	}
	return len(st.results) >= ra.cfg.MaxResultsPerJob, nil
}

// errNoConsensus and errCollectionFailed are returned by Close to let
// JLM distinguish the two failure kinds spec §4.4/§4.5 call for.
var (
	errNoConsensus      = errs.New(errs.KindConsensus, errs.ReasonNoConsensus, nil)
	errCollectionFailed = errs.New(errs.KindTimeout, "collection_failed", nil)
)

// Close derives a consensus artifact from whatever results have arrived,
// choosing the aggregation policy from the job's VerificationMethod
// (spec §4.4). Called on quorum, on MaxResultsPerJob, or on the
// collection timeout.
func (ra *Aggregator) Close(jobID ids.JobID) (*model.ConsensusArtifact, error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	st, ok := ra.open[jobID]
	if !ok {
		return nil, errs.ErrUnknownJob
	}
	defer delete(ra.open, jobID)

	if len(st.results) == 0 {
		return nil, errCollectionFailed
	}

	var artifact *model.ConsensusArtifact
	var err error
	switch st.method {
	case model.VerificationZKProof:
		artifact, err = ra.aggregateZKProof(st)
	case model.VerificationConsensusValidation:
		artifact, err = ra.aggregateMajorityVote(st, true)
	case model.VerificationStatisticalSampling:
		artifact, err = ra.aggregateMajorityVote(st, false)
	default:
		artifact, err = ra.aggregateHighestConfidence(st)
	}
	if err != nil {
		return nil, err
	}

	// The optional verification sub-phase (spec §4.4) only applies on top
	// of an already-selected consensus result; zk_proof already bound its
	// winning result to an external proof via aggregateZKProof and never
	// re-enters it here.
	if st.method != model.VerificationZKProof {
		if err := ra.verifySample(st, artifact); err != nil {
			return nil, err
		}
	}
	return artifact, nil
}

// verifySample runs the optional verification sub-phase (spec §4.4): a
// configured fraction of results is handed to the external verifier, and
// verification_state moves pending → in_progress → verified | failed. A
// failed sample escalates every contributing worker's malicious-event
// counter and aborts submission, mirroring aggregateZKProof's penalty on
// an unverifiable result. Disabled (verification_state stays Verified,
// as buildArtifact already set it) unless both a verifier and a nonzero
// sample fraction are configured.
func (ra *Aggregator) verifySample(st *collectionState, artifact *model.ConsensusArtifact) error {
	if ra.proof == nil || ra.cfg.VerificationSampleFraction <= 0 {
		return nil
	}
	artifact.VerificationState = model.VerificationInProgress
	for _, r := range selectVerificationSample(st.results, ra.cfg.VerificationSampleFraction) {
		if ra.proof.Verify(r) {
			continue
		}
		artifact.VerificationState = model.VerificationFailed
		if ra.rhr != nil {
			for _, c := range artifact.Contributors {
				ra.rhr.ApplyPenalty(c, model.PenaltyMaliciousBehavior, 0.5, "verification_sample_failed", st.jobID)
			}
		}
		return errs.New(errs.KindConsensus, "verification_sample_failed", nil)
	}
	artifact.VerificationState = model.VerificationVerified
	return nil
}

// selectVerificationSample picks the leading ceil(len(results)*fraction)
// results in submission order — deterministic, so the same collection
// window always samples the same subset.
func selectVerificationSample(results []model.WorkerResult, fraction float64) []model.WorkerResult {
	n := int(math.Ceil(float64(len(results)) * fraction))
	if n < 1 {
		n = 1
	}
	if n > len(results) {
		n = len(results)
	}
	return results[:n]
}

func contributorsFrom(results []model.WorkerResult, matchDigest [32]byte, matchAll bool) []ids.WorkerID {
	var out []ids.WorkerID
	for _, r := range results {
		if matchAll || r.Digest == matchDigest {
			out = append(out, r.WorkerID)
		}
	}
	return out
}

func (ra *Aggregator) aggregateHighestConfidence(st *collectionState) (*model.ConsensusArtifact, error) {
	best := st.results[0]
	for _, r := range st.results[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return ra.buildArtifact(st, best.Digest, model.MethodHighestConfidence, 1.0/float64(len(st.results)), []ids.WorkerID{best.WorkerID}), nil
}

// digestGroup tallies one distinct result digest within a collection
// window, for majority-vote selection.
type digestGroup struct {
	digest   [32]byte
	count    int
	meanConf float64
	earliest time.Time
}

// majorityGroups tallies st.results by digest and orders the groups by
// the spec §4.4/§8 majority-vote tie-break: largest group first; ties
// broken by highest mean confidence; remaining ties broken by whichever
// group's earliest member was submitted first. Iterating st.results (a
// submission-ordered slice, never a map) keeps every step of this
// ordering deterministic — unlike Bag.Mode, which returns an arbitrary
// max-count key under Go's randomized map iteration.
func majorityGroups(results []model.WorkerResult) []digestGroup {
	type tally struct {
		count    int
		sumConf  float64
		earliest time.Time
	}
	tallies := make(map[[32]byte]*tally)
	var order [][32]byte
	for _, r := range results {
		t, seen := tallies[r.Digest]
		if !seen {
			t = &tally{earliest: r.SubmittedAt}
			tallies[r.Digest] = t
			order = append(order, r.Digest)
		} else if r.SubmittedAt.Before(t.earliest) {
			t.earliest = r.SubmittedAt
		}
		t.count++
		t.sumConf += r.Confidence
	}

	groups := make([]digestGroup, 0, len(order))
	for _, d := range order {
		t := tallies[d]
		groups = append(groups, digestGroup{
			digest:   d,
			count:    t.count,
			meanConf: t.sumConf / float64(t.count),
			earliest: t.earliest,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		if groups[i].meanConf != groups[j].meanConf {
			return groups[i].meanConf > groups[j].meanConf
		}
		return groups[i].earliest.Before(groups[j].earliest)
	})
	return groups
}

func (ra *Aggregator) aggregateMajorityVote(st *collectionState, strict bool) (*model.ConsensusArtifact, error) {
	groups := majorityGroups(st.results)
	if len(groups) == 0 {
		return nil, errCollectionFailed
	}
	winner := groups[0]
	if strict && winner.count < ra.cfg.MinConsensusResults {
		return nil, errNoConsensus
	}
	ratio := float64(winner.count) / float64(len(st.results))
	contributors := contributorsFrom(st.results, winner.digest, false)
	return ra.buildArtifact(st, winner.digest, model.MethodMajorityVote, ratio, contributors), nil
}

func (ra *Aggregator) aggregateZKProof(st *collectionState) (*model.ConsensusArtifact, error) {
	for _, r := range st.results {
		if ra.proof != nil && ra.proof.Verify(r) {
			return ra.buildArtifact(st, r.Digest, model.MethodProofVerified, 1.0, []ids.WorkerID{r.WorkerID}), nil
		}
	}
	for _, r := range st.results {
		if ra.rhr != nil {
			ra.rhr.ApplyPenalty(r.WorkerID, model.PenaltyMaliciousBehavior, 0.3, "proof_verification_failed", st.jobID)
		}
	}
	return nil, errs.New(errs.KindConsensus, "proof_verification_failed", nil)
}

func (ra *Aggregator) buildArtifact(st *collectionState, digest [32]byte, method model.AggregationMethod, consensusRatio float64, contributors []ids.WorkerID) *model.ConsensusArtifact {
	src := st.firstByDigest[digest]

	var sumConf float64
	for _, c := range contributors {
		for _, r := range st.results {
			if r.WorkerID == c && r.Digest == digest {
				sumConf += r.Confidence
				break
			}
		}
	}
	meanConf := 0.0
	if len(contributors) > 0 {
		meanConf = sumConf / float64(len(contributors))
	}
	confidence := 0.7*consensusRatio + 0.3*meanConf

	return &model.ConsensusArtifact{
		JobID:             st.jobID,
		Bytes:             src.Bytes,
		Digest:            digest,
		Confidence:        confidence,
		Contributors:      contributors,
		Method:            method,
		CreatedAt:         ra.now(),
		VerificationState: model.VerificationVerified,
	}
}

// Discard drops an open collection window without aggregating, used when
// JLM cancels the owning Job (spec §5: in-flight results for cancelled
// jobs are discarded without reputation effect).
func (ra *Aggregator) Discard(jobID ids.JobID) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	delete(ra.open, jobID)
}

// IsNoConsensus reports whether err is the strict-quorum failure.
func IsNoConsensus(err error) bool { return errors.Is(err, errNoConsensus) }

// IsCollectionFailed reports whether err is the zero-results timeout failure.
func IsCollectionFailed(err error) bool { return errors.Is(err, errCollectionFailed) }
