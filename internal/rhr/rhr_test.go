package rhr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

func newTestRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	cfg := config.Local()
	r := New(cfg, nil, nil, func() time.Time { return *clock })
	return r, clock
}

func TestUnknownWorkerAutoCreatesDefaultRecord(t *testing.T) {
	r, _ := newTestRegistry(t)
	w := ids.NewWorkerID()
	require.True(t, r.IsEligible(w))
}

func TestScoreNeverExceedsOneOrFloor(t *testing.T) {
	r, _ := newTestRegistry(t)
	w := ids.NewWorkerID()
	for i := 0; i < 50; i++ {
		r.RecordJobOutcome(w, true, time.Second, 100, nil)
	}
	snap := r.Snapshot(w)
	require.LessOrEqual(t, snap.Score, 1.0)

	for i := 0; i < 50; i++ {
		r.RecordJobOutcome(w, false, time.Second, 100, nil)
	}
	snap = r.Snapshot(w)
	require.GreaterOrEqual(t, snap.Score, r.cfg.ReputationFloor)
}

// Scenario E — Ban cascade (spec §8).
func TestBanCascadeAfterThreeMaliciousEvents(t *testing.T) {
	r, clock := newTestRegistry(t)
	w := ids.NewWorkerID()

	for i := 0; i < 3; i++ {
		r.ApplyPenalty(w, model.PenaltyMaliciousBehavior, 1.0, "confidence-0 result", ids.NewJobID())
	}

	require.False(t, r.IsEligible(w), "worker should be banned after repeated malicious events")

	*clock = clock.Add(24*time.Hour + time.Second)
	r.PeriodicMaintenance()

	// Eligibility after unban depends on score; a badly penalized worker
	// may still fail the reputation floor even once unbanned.
	snap := r.Snapshot(w)
	require.False(t, snap.Banned)
}

func TestBanThenUnbanRestoresEligibilityIffScoreSatisfiesThreshold(t *testing.T) {
	r, _ := newTestRegistry(t)
	w := ids.NewWorkerID()

	r.Ban(w, "manual test ban", time.Now().Add(time.Hour))
	require.False(t, r.IsEligible(w))

	r.Unban(w)
	require.True(t, r.IsEligible(w))
}

func TestApplyPenaltySubtractsPointOneTimesSeverity(t *testing.T) {
	r, _ := newTestRegistry(t)
	w := ids.NewWorkerID()

	before := r.Snapshot(w).Score
	r.ApplyPenalty(w, model.PenaltyInvalidResult, 0.5, "hash mismatch", ids.NewJobID())
	after := r.Snapshot(w).Score

	require.InDelta(t, before-0.05, after, 1e-9)
}

func TestHeartbeatExactlyAtTimeoutStillOnlineOneTickLaterOffline(t *testing.T) {
	r, clock := newTestRegistry(t)
	w := ids.NewWorkerID()
	r.RecordHealth(w, model.HealthMetrics{CPUUse: 0.1, MemUse: 0.1})

	*clock = clock.Add(r.cfg.HeartbeatTimeout)
	_, stale := r.HealthScore(w)
	require.False(t, stale, "exactly at the timeout boundary should still be considered live")

	*clock = clock.Add(time.Nanosecond)
	score, stale := r.HealthScore(w)
	require.True(t, stale)
	require.Equal(t, 0.0, score)
}
