package ae

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/errs"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

type fakeRHR struct {
	eligible map[ids.WorkerID]bool
	scores   map[ids.WorkerID]float64
	health   map[ids.WorkerID]float64
	banned   map[ids.WorkerID]bool
}

func newFakeRHR() *fakeRHR {
	return &fakeRHR{
		eligible: map[ids.WorkerID]bool{},
		scores:   map[ids.WorkerID]float64{},
		health:   map[ids.WorkerID]float64{},
		banned:   map[ids.WorkerID]bool{},
	}
}

func (f *fakeRHR) IsEligible(id ids.WorkerID) bool { return f.eligible[id] }
func (f *fakeRHR) HealthScore(id ids.WorkerID) (float64, bool) {
	h, ok := f.health[id]
	if !ok {
		return 1.0, false
	}
	return h, false
}
func (f *fakeRHR) Snapshot(id ids.WorkerID) model.ReputationSnapshot {
	return model.ReputationSnapshot{Score: f.scores[id], Banned: f.banned[id]}
}

func TestCloseWithZeroBidsReportsNoBids(t *testing.T) {
	now := time.Now()
	e := New(config.Local(), nil, nil, newFakeRHR(), func() time.Time { return now })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})

	closed, err := e.Close(a.ID)
	require.NoError(t, err)
	require.Nil(t, closed.Winner)
	require.Equal(t, model.NoBids, closed.NoWinnerReason)
}

func TestWinnerMaximizesCompositeScore(t *testing.T) {
	now := time.Now()
	rhr := newFakeRHR()
	w1, w2 := ids.NewWorkerID(), ids.NewWorkerID()
	rhr.eligible[w1], rhr.eligible[w2] = true, true
	rhr.scores[w1], rhr.scores[w2] = 0.9, 0.5
	rhr.health[w1], rhr.health[w2] = 0.9, 0.9

	e := New(config.Local(), nil, nil, rhr, func() time.Time { return now })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})

	require.NoError(t, e.SubmitBid(a.ID, model.Bid{WorkerID: w1, Amount: 800, EstimatedDuration: 300 * time.Second}))
	require.NoError(t, e.SubmitBid(a.ID, model.Bid{WorkerID: w2, Amount: 800, EstimatedDuration: 300 * time.Second}))

	closed, err := e.Close(a.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.Winner)
	require.Equal(t, w1, closed.Winner.WorkerID)
}

func TestBannedWorkerNeverWinsEvenIfPrefiltered(t *testing.T) {
	now := time.Now()
	rhr := newFakeRHR()
	w := ids.NewWorkerID()
	rhr.eligible[w] = true
	rhr.scores[w] = 0.9
	rhr.health[w] = 0.9

	e := New(config.Local(), nil, nil, rhr, func() time.Time { return now })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})
	require.NoError(t, e.SubmitBid(a.ID, model.Bid{WorkerID: w, Amount: 500, EstimatedDuration: time.Minute}))

	// Ban happens concurrently with the window, observed only at decision time.
	rhr.banned[w] = true

	closed, err := e.Close(a.ID)
	require.NoError(t, err)
	require.Nil(t, closed.Winner)
	require.Equal(t, model.AllBanned, closed.NoWinnerReason)
}

func TestBidAfterCloseRejectedNoPenalty(t *testing.T) {
	now := time.Now()
	e := New(config.Local(), nil, nil, newFakeRHR(), func() time.Time { return now })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})

	now = now.Add(e.cfg.BidWindow + time.Millisecond)
	err := e.SubmitBid(a.ID, model.Bid{WorkerID: ids.NewWorkerID(), Amount: 1})
	require.Error(t, err)
}

func TestBidBelowPaymentFloorRejected(t *testing.T) {
	now := time.Now()
	cfg := config.Local()
	cfg.MinPaymentPerKind = map[string]uint64{"inference": 100}
	e := New(cfg, nil, nil, newFakeRHR(), func() time.Time { return now })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})

	err := e.SubmitBid(a.ID, model.Bid{WorkerID: ids.NewWorkerID(), Amount: 99})
	require.ErrorIs(t, err, errs.ErrBidBelowFloor)

	closed, err := e.Close(a.ID)
	require.NoError(t, err)
	require.Equal(t, model.NoBids, closed.NoWinnerReason, "the underpriced bid must not be recorded")
}

func TestBidAtOrAbovePaymentFloorAccepted(t *testing.T) {
	now := time.Now()
	cfg := config.Local()
	cfg.MinPaymentPerKind = map[string]uint64{"inference": 100}
	rhr := newFakeRHR()
	w := ids.NewWorkerID()
	rhr.eligible[w] = true
	rhr.scores[w] = 0.9
	rhr.health[w] = 0.9

	e := New(cfg, nil, nil, rhr, func() time.Time { return now })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})
	require.NoError(t, e.SubmitBid(a.ID, model.Bid{WorkerID: w, Amount: 100, EstimatedDuration: time.Minute}))

	closed, err := e.Close(a.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.Winner)
}

func TestExactTieBrokenByEarliestSubmission(t *testing.T) {
	now := time.Now()
	rhr := newFakeRHR()
	w1, w2 := ids.NewWorkerID(), ids.NewWorkerID()
	rhr.eligible[w1], rhr.eligible[w2] = true, true
	rhr.scores[w1], rhr.scores[w2] = 0.9, 0.9
	rhr.health[w1], rhr.health[w2] = 0.9, 0.9

	clockNow := now
	e := New(config.Local(), nil, nil, rhr, func() time.Time { return clockNow })
	a := e.Open(ids.NewJobID(), "inference", model.ComputeRequirements{})

	require.NoError(t, e.SubmitBid(a.ID, model.Bid{WorkerID: w1, Amount: 100, EstimatedDuration: time.Minute}))
	clockNow = clockNow.Add(time.Millisecond)
	require.NoError(t, e.SubmitBid(a.ID, model.Bid{WorkerID: w2, Amount: 100, EstimatedDuration: time.Minute}))

	closed, err := e.Close(a.ID)
	require.NoError(t, err)
	require.Equal(t, w1, closed.Winner.WorkerID)
}
