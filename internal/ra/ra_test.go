package ra

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

type fakeRHR struct {
	penalties []model.PenaltyKind
}

func (f *fakeRHR) ApplyPenalty(workerID ids.WorkerID, kind model.PenaltyKind, severity float64, reason string, jobID ids.JobID) {
	f.penalties = append(f.penalties, kind)
}

func digestOf(b []byte) [32]byte { return sha256.Sum256(b) }

func newAssignment(jobID ids.JobID, contributors ...ids.WorkerID) model.Assignment {
	return model.Assignment{JobID: jobID, Contributors: contributors}
}

// Scenario A — happy path, single worker result.
func TestHighestConfidencePicksSingleResult(t *testing.T) {
	now := time.Now()
	rhr := &fakeRHR{}
	agg := New(config.Local(), nil, nil, rhr, nil, func() time.Time { return now })

	jobID := ids.NewJobID()
	w := ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w), model.VerificationNone)

	bytes := []byte{0xAA, 0xBB}
	_, err := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w, Bytes: bytes, Digest: digestOf(bytes), Confidence: 0.95})
	require.NoError(t, err)

	artifact, err := agg.Close(jobID)
	require.NoError(t, err)
	require.Equal(t, bytes, artifact.Bytes)
}

// Scenario B — quorum path, three workers, majority vote.
func TestMajorityVoteQuorumAndConfidence(t *testing.T) {
	now := time.Now()
	rhr := &fakeRHR{}
	cfg := config.Local()
	cfg.MinConsensusResults = 2
	agg := New(cfg, nil, nil, rhr, nil, func() time.Time { return now })

	jobID := ids.NewJobID()
	w1, w2, w3 := ids.NewWorkerID(), ids.NewWorkerID(), ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w1, w2, w3), model.VerificationStatisticalSampling)

	aa := []byte{0xAA}
	bb := []byte{0xBB}

	reached, err := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w1, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	require.NoError(t, err)
	require.False(t, reached)

	reached, err = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w2, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	require.NoError(t, err)
	require.True(t, reached, "quorum of 2 on 0xAA should early-exit")

	_, err = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w3, Bytes: bb, Digest: digestOf(bb), Confidence: 0.8})
	require.NoError(t, err)

	artifact, err := agg.Close(jobID)
	require.NoError(t, err)
	require.Equal(t, digestOf(aa), artifact.Digest)
	require.InDelta(t, 0.74, artifact.Confidence, 0.01)
	require.Empty(t, rhr.penalties, "honest dissent from w3 must not be penalized")
}

// Scenario C — integrity violation.
func TestHashMismatchRejectedAndPenalized(t *testing.T) {
	now := time.Now()
	rhr := &fakeRHR{}
	agg := New(config.Local(), nil, nil, rhr, nil, func() time.Time { return now })

	jobID := ids.NewJobID()
	w1 := ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w1), model.VerificationNone)

	bogusDigest := digestOf([]byte{0xCC})
	_, err := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w1, Bytes: []byte{0xAA}, Digest: bogusDigest, Confidence: 0.9})
	require.Error(t, err)
	require.Len(t, rhr.penalties, 1)
	require.Equal(t, model.PenaltyInvalidResult, rhr.penalties[0])
}

func TestNonContributorResultRejected(t *testing.T) {
	now := time.Now()
	rhr := &fakeRHR{}
	agg := New(config.Local(), nil, nil, rhr, nil, func() time.Time { return now })

	jobID := ids.NewJobID()
	contributor := ids.NewWorkerID()
	outsider := ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, contributor), model.VerificationNone)

	b := []byte{0x01}
	_, err := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: outsider, Bytes: b, Digest: digestOf(b), Confidence: 0.9})
	require.Error(t, err)
}

// When two digests tie on count, the higher mean-confidence group wins,
// and the outcome must not depend on map iteration order.
func TestMajorityVoteTieBrokenByMeanConfidence(t *testing.T) {
	now := time.Now()
	cfg := config.Local()
	cfg.MinConsensusResults = 2
	cfg.MaxResultsPerJob = 10

	agg := New(cfg, nil, nil, &fakeRHR{}, nil, func() time.Time { return now })
	jobID := ids.NewJobID()
	w1, w2, w3, w4 := ids.NewWorkerID(), ids.NewWorkerID(), ids.NewWorkerID(), ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w1, w2, w3, w4), model.VerificationStatisticalSampling)

	aa := []byte{0xAA}
	bb := []byte{0xBB}
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w1, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w2, Bytes: aa, Digest: digestOf(aa), Confidence: 0.5})
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w3, Bytes: bb, Digest: digestOf(bb), Confidence: 0.99})
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w4, Bytes: bb, Digest: digestOf(bb), Confidence: 0.99})

	artifact, err := agg.Close(jobID)
	require.NoError(t, err)
	require.Equal(t, digestOf(bb), artifact.Digest, "0xBB has the higher mean confidence despite an equal 2-2 count")
}

// When groups tie on both count and mean confidence, the group whose
// earliest member was submitted first wins (spec §8 fairness rule).
func TestMajorityVoteTieBrokenByEarliestSubmission(t *testing.T) {
	clockNow := time.Now()
	cfg := config.Local()
	cfg.MinConsensusResults = 2
	cfg.MaxResultsPerJob = 10
	agg := New(cfg, nil, nil, &fakeRHR{}, nil, func() time.Time { return clockNow })

	jobID := ids.NewJobID()
	w1, w2, w3, w4 := ids.NewWorkerID(), ids.NewWorkerID(), ids.NewWorkerID(), ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w1, w2, w3, w4), model.VerificationStatisticalSampling)

	aa := []byte{0xAA}
	bb := []byte{0xBB}
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w1, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	clockNow = clockNow.Add(time.Millisecond)
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w3, Bytes: bb, Digest: digestOf(bb), Confidence: 0.9})
	clockNow = clockNow.Add(time.Millisecond)
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w2, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	clockNow = clockNow.Add(time.Millisecond)
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w4, Bytes: bb, Digest: digestOf(bb), Confidence: 0.9})

	artifact, err := agg.Close(jobID)
	require.NoError(t, err)
	require.Equal(t, digestOf(aa), artifact.Digest, "0xAA's first member (w1) was submitted before 0xBB's first member (w3)")
}

type stubVerifier struct {
	ok map[[32]byte]bool
}

func (s *stubVerifier) Verify(result model.WorkerResult) bool { return s.ok[result.Digest] }

// With a verifier and a nonzero sample fraction configured, a winning
// artifact whose sampled results all verify ends up VerificationVerified.
func TestVerificationSamplePassesMarksArtifactVerified(t *testing.T) {
	now := time.Now()
	cfg := config.Local()
	cfg.VerificationSampleFraction = 1.0
	aa := []byte{0xAA}
	verifier := &stubVerifier{ok: map[[32]byte]bool{digestOf(aa): true}}
	agg := New(cfg, nil, nil, &fakeRHR{}, verifier, func() time.Time { return now })

	jobID := ids.NewJobID()
	w := ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w), model.VerificationNone)
	_, err := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	require.NoError(t, err)

	artifact, err := agg.Close(jobID)
	require.NoError(t, err)
	require.Equal(t, model.VerificationVerified, artifact.VerificationState)
}

// When the sampled result fails external verification, Close aborts the
// submission and every contributor is hit with a malicious-behavior
// penalty (spec §4.4).
func TestVerificationSampleFailurePenalizesContributorsAndAborts(t *testing.T) {
	now := time.Now()
	cfg := config.Local()
	cfg.VerificationSampleFraction = 1.0
	aa := []byte{0xAA}
	verifier := &stubVerifier{ok: map[[32]byte]bool{}}
	rhr := &fakeRHR{}
	agg := New(cfg, nil, nil, rhr, verifier, func() time.Time { return now })

	jobID := ids.NewJobID()
	w := ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w), model.VerificationNone)
	_, err := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	require.NoError(t, err)

	artifact, err := agg.Close(jobID)
	require.Error(t, err)
	require.Nil(t, artifact)
	require.Contains(t, rhr.penalties, model.PenaltyMaliciousBehavior)
}

func TestStrictConsensusReportsNoConsensusBelowThreshold(t *testing.T) {
	now := time.Now()
	cfg := config.Local()
	cfg.MinConsensusResults = 3
	cfg.MaxResultsPerJob = 3
	agg := New(cfg, nil, nil, &fakeRHR{}, nil, func() time.Time { return now })

	jobID := ids.NewJobID()
	w1, w2, w3 := ids.NewWorkerID(), ids.NewWorkerID(), ids.NewWorkerID()
	agg.Open(jobID, newAssignment(jobID, w1, w2, w3), model.VerificationConsensusValidation)

	aa := []byte{0xAA}
	bb := []byte{0xBB}
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w1, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	_, _ = agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w2, Bytes: bb, Digest: digestOf(bb), Confidence: 0.9})
	reached, _ := agg.SubmitResult(model.WorkerResult{JobID: jobID, WorkerID: w3, Bytes: aa, Digest: digestOf(aa), Confidence: 0.9})
	require.True(t, reached, "max results per job reached")

	_, err := agg.Close(jobID)
	require.True(t, IsNoConsensus(err))
}
