package pd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

type fakeRHR struct{ eligible map[ids.WorkerID]bool }

func (f fakeRHR) IsEligible(id ids.WorkerID) bool { return f.eligible[id] }
func (f fakeRHR) Snapshot(id ids.WorkerID) model.ReputationSnapshot {
	return model.ReputationSnapshot{Score: 0.9}
}

func caps() model.Capabilities {
	return model.Capabilities{GPUMemoryMB: 8192, CPUCores: 8, RAMMB: 16384}
}

func req() model.ComputeRequirements {
	return model.ComputeRequirements{MinGPUMemoryMB: 8192, MinCPUCores: 8, MinRAMMB: 16384}
}

func TestRegisterThenFindCandidates(t *testing.T) {
	now := time.Now()
	d := New(config.Local(), nil, nil, nil, func() time.Time { return now })
	w := ids.NewWorkerID()
	d.Register(w, caps(), "us-east")
	d.Heartbeat(w, 0.1, 10*time.Millisecond)

	got := d.FindCandidates(req(), 0.5, time.Second, 10)
	require.Len(t, got, 1)
	require.Equal(t, w, got[0].ID)
}

func TestFindCandidatesExcludesIneligible(t *testing.T) {
	now := time.Now()
	rhr := fakeRHR{eligible: map[ids.WorkerID]bool{}}
	d := New(config.Local(), nil, rhr, nil, func() time.Time { return now })
	w := ids.NewWorkerID()
	d.Register(w, caps(), "")
	d.Heartbeat(w, 0, 0)

	got := d.FindCandidates(req(), 1, time.Second, 10)
	require.Empty(t, got)
}

func TestExpireStaleBoundary(t *testing.T) {
	now := time.Now()
	clockNow := now
	cfg := config.Local()
	d := New(cfg, nil, nil, nil, func() time.Time { return clockNow })
	w := ids.NewWorkerID()
	d.Register(w, caps(), "")

	clockNow = now.Add(cfg.HeartbeatTimeout)
	d.ExpireStale()
	got, ok := d.Get(w)
	require.True(t, ok)
	require.Equal(t, model.WorkerOnline, got.State, "exactly at the timeout boundary must still be online")

	clockNow = now.Add(cfg.HeartbeatTimeout + time.Nanosecond)
	d.ExpireStale()
	got, _ = d.Get(w)
	require.Equal(t, model.WorkerOffline, got.State)
}

func TestReRegisterOverwritesCapabilitiesKeepsOneRecord(t *testing.T) {
	now := time.Now()
	d := New(config.Local(), nil, nil, nil, func() time.Time { return now })
	w := ids.NewWorkerID()
	d.Register(w, caps(), "us-east")
	d.Register(w, model.Capabilities{GPUMemoryMB: 1}, "eu-west")

	got, ok := d.Get(w)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.AdvertisedCapabilities.GPUMemoryMB)
	require.Equal(t, "eu-west", got.LocationHint)
}
