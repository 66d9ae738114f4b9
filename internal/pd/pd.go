// Package pd implements the Peer Directory (spec §4.2): the live set of
// workers, their advertised capabilities, and liveness. Modeled on the
// teacher's networking/tracker.resourceTracker (tracker/new.go) — a
// single map guarded by one mutex, read back through narrow query
// methods — generalized from per-node resource usage to the full Worker
// record, plus the teacher's networking/benchlist expiry-on-read idiom
// for last-seen staleness.
package pd

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

// Eligibility is the subset of RHR that PD needs: a snapshot read and an
// eligibility predicate, kept narrow so PD can never write Reputation
// (spec §9 "PD never writes Reputation").
type Eligibility interface {
	IsEligible(workerID ids.WorkerID) bool
	Snapshot(workerID ids.WorkerID) model.ReputationSnapshot
}

// Notifier lets PD announce a worker's transition to offline over EBG
// (spec §4.2 expire_stale "notifies JLM via EBG").
type Notifier interface {
	PublishWorkerOffline(workerID ids.WorkerID)
}

// Directory is the Peer Directory.
type Directory struct {
	mu      sync.RWMutex
	cfg     config.Config
	log     *zap.Logger
	rhr     Eligibility
	notifier Notifier
	now     func() time.Time

	workers map[ids.WorkerID]*model.Worker
}

func New(cfg config.Config, log *zap.Logger, rhr Eligibility, notifier Notifier, now func() time.Time) *Directory {
	return &Directory{
		cfg: cfg, log: log, rhr: rhr, notifier: notifier, now: now,
		workers: make(map[ids.WorkerID]*model.Worker),
	}
}

// Register creates or overwrites a worker's capabilities and location,
// preserving the RHR-owned lifetime stats (spec §4.2 invariant: "at most
// one record per worker_id; re-registration overwrites capabilities but
// preserves lifetime stats held by RHR").
func (d *Directory) Register(workerID ids.WorkerID, caps model.Capabilities, location string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[workerID]
	if !ok {
		w = &model.Worker{ID: workerID}
		d.workers[workerID] = w
	}
	w.AdvertisedCapabilities = caps
	w.LocationHint = location
	w.LastSeen = d.now()
	w.State = model.WorkerOnline
}

// Deregister removes a worker from the directory (spec §4.2).
func (d *Directory) Deregister(workerID ids.WorkerID, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.workers, workerID)
	if d.log != nil {
		d.log.Info("worker deregistered", zap.String("worker_id", workerID.String()), zap.String("reason", reason))
	}
}

// Heartbeat refreshes last-seen, load, and optionally health-derived
// fields (spec §4.2).
func (d *Directory) Heartbeat(workerID ids.WorkerID, load float64, latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[workerID]
	if !ok {
		return
	}
	w.LastSeen = d.now()
	w.CurrentLoad = load
	w.NetworkLatency = latency
	if w.State == model.WorkerOffline {
		w.State = model.WorkerOnline
	}
}

// candidateFilter bundles the non-eligibility filters spec §4.2 lists:
// load and latency ceilings.
type candidateFilter struct {
	req         model.ComputeRequirements
	maxLoad     float64
	maxLatency  time.Duration
}

// FindCandidates returns up to maxCount workers satisfying capability
// match, load/latency ceilings, and RHR eligibility, sorted by
// descending composite quality (spec §4.3 scoring reused) with ties
// broken by most recent LastSeen (spec §4.2).
func (d *Directory) FindCandidates(req model.ComputeRequirements, maxLoad float64, maxLatency time.Duration, maxCount int) []model.Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()

	filter := candidateFilter{req: req, maxLoad: maxLoad, maxLatency: maxLatency}

	var matches []model.Worker
	for _, w := range d.workers {
		if w.State == model.WorkerOffline || w.State == model.WorkerBanned {
			continue
		}
		if !w.AdvertisedCapabilities.Satisfies(filter.req) {
			continue
		}
		if w.CurrentLoad > filter.maxLoad || w.NetworkLatency > filter.maxLatency {
			continue
		}
		if d.rhr != nil && !d.rhr.IsEligible(w.ID) {
			continue
		}
		snap := model.ReputationSnapshot{}
		if d.rhr != nil {
			snap = d.rhr.Snapshot(w.ID)
		}
		cp := *w
		cp.ReputationSnapshot = snap
		matches = append(matches, cp)
	}

	sort.Slice(matches, func(i, j int) bool {
		qi := compositeQuality(matches[i])
		qj := compositeQuality(matches[j])
		if qi != qj {
			return qi > qj
		}
		return matches[i].LastSeen.After(matches[j].LastSeen)
	})

	if maxCount > 0 && len(matches) > maxCount {
		matches = matches[:maxCount]
	}
	return matches
}

// compositeQuality scores a worker as 0.6·reputation + 0.4·(1 − current
// load), with load standing in for health, so PD can rank live candidates
// before any bid exists.
func compositeQuality(w model.Worker) float64 {
	healthProxy := 1.0 - w.CurrentLoad
	if healthProxy < 0 {
		healthProxy = 0
	}
	return 0.6*w.ReputationSnapshot.Score + 0.4*healthProxy
}

// ExpireStale moves any worker whose LastSeen exceeds the configured
// heartbeat timeout to offline and notifies JLM via EBG (spec §4.2).
// Boundary: a worker exactly at last_seen + heartbeat_timeout is still
// online; only strictly past it expires.
func (d *Directory) ExpireStale() {
	d.mu.Lock()
	now := d.now()
	var expired []ids.WorkerID
	for id, w := range d.workers {
		if w.State == model.WorkerOffline {
			continue
		}
		if now.Sub(w.LastSeen) > d.cfg.HeartbeatTimeout {
			w.State = model.WorkerOffline
			expired = append(expired, id)
		}
	}
	d.mu.Unlock()

	if d.notifier != nil {
		for _, id := range expired {
			d.notifier.PublishWorkerOffline(id)
		}
	}
}

// Get returns a worker record by ID.
func (d *Directory) Get(workerID ids.WorkerID) (model.Worker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[workerID]
	if !ok {
		return model.Worker{}, false
	}
	return *w, true
}
