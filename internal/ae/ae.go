// Package ae implements the Auction Engine (spec §4.3): for each job JLM
// opens an auction on, AE collects bids for a bounded window and either
// declares a winner or reports a categorized no_winner reason. Grounded
// on the teacher's quorum.Flat (quorum/flat.go), which wraps a bounded
// decision process behind Add/RecordPoll/Finalized — AE keeps the same
// open/accumulate/close shape but replaces avalanche-style repeated
// polling with the spec's single-window composite-score selection, and
// on the teacher's poll package (poll/default.go) for constructing the
// engine with an injected logger and metrics registerer.
package ae

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/config"
	"github.com/meshcompute/coordinator/internal/errs"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
	"github.com/meshcompute/coordinator/internal/telemetry"
)

// Eligibility is the narrow RHR surface AE reads. AE never writes Worker
// or Reputation state (spec §9: "AE never writes Worker state").
type Eligibility interface {
	IsEligible(workerID ids.WorkerID) bool
	HealthScore(workerID ids.WorkerID) (score float64, stale bool)
	Snapshot(workerID ids.WorkerID) model.ReputationSnapshot
}

// Engine is the Auction Engine.
type Engine struct {
	mu       sync.Mutex
	cfg      config.Config
	log      *zap.Logger
	metrics  *telemetry.Metrics
	rhr      Eligibility
	now      func() time.Time

	auctions map[ids.AuctionID]*model.Auction
}

func New(cfg config.Config, log *zap.Logger, metrics *telemetry.Metrics, rhr Eligibility, now func() time.Time) *Engine {
	return &Engine{
		cfg: cfg, log: log, metrics: metrics, rhr: rhr, now: now,
		auctions: make(map[ids.AuctionID]*model.Auction),
	}
}

// Open starts a new auction for jobID with the configured bid window.
func (e *Engine) Open(jobID ids.JobID, kind string, req model.ComputeRequirements) *model.Auction {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	a := &model.Auction{
		ID:           ids.NewAuctionID(),
		JobID:        jobID,
		Kind:         kind,
		Requirements: req,
		OpenedAt:     now,
		ClosesAt:     now.Add(e.cfg.BidWindow),
	}
	e.auctions[a.ID] = a
	return a
}

// SubmitBid records a bid if the auction is still open and under the
// max-bids cap. Bids received after ClosesAt are rejected with no
// reputation effect (spec §3 Auction invariant). A bid priced below the
// configured per-kind payment floor fails schema validation and is
// dropped without being recorded (spec §4.3: "a bid failing schema ...
// validation is silently dropped and counted as a suspicious-activity
// event against the claimed worker") — ErrBidBelowFloor lets the caller
// apply that reputation effect.
func (e *Engine) SubmitBid(auctionID ids.AuctionID, bid model.Bid) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return errs.ErrUnknownAuction
	}
	now := e.now()
	if now.After(a.ClosesAt) {
		return errs.ErrAuctionClosed
	}
	if e.cfg.MaxBidsPerAuction > 0 && len(a.Bids) >= e.cfg.MaxBidsPerAuction {
		return errs.ErrAuctionClosed
	}
	if floor, ok := e.cfg.MinPaymentPerKind[a.Kind]; ok && bid.Amount < floor {
		return errs.ErrBidBelowFloor
	}
	bid.SubmittedAt = now
	a.Bids = append(a.Bids, bid)
	return nil
}

// score computes the spec §4.3 composite score using reputation/health
// re-checked at decision time, not the (possibly stale) values captured
// at bid submission.
func score(reputation, health float64, amount uint64, estimatedDuration time.Duration) float64 {
	bidCompetitiveness := 1.0 / (float64(amount) + 1.0)
	timeCompetitiveness := 1.0 / (estimatedDuration.Seconds() + 1.0)
	return 0.35*reputation + 0.25*health + 0.25*bidCompetitiveness + 0.15*timeCompetitiveness
}

// Close closes the auction (called when the bid window elapses; reaching
// MaxBids does not trigger it) and declares a winner or a categorized no_winner
// reason (spec §4.3). Eligibility is re-checked here, at decision time,
// because RHR state can change within the window (spec invariant 5: a
// banned worker must be excluded at decision time even if it passed the
// bid-arrival pre-filter).
func (e *Engine) Close(auctionID ids.AuctionID) (*model.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[auctionID]
	if !ok {
		return nil, errs.ErrUnknownAuction
	}
	defer delete(e.auctions, auctionID)

	if len(a.Bids) == 0 {
		a.NoWinnerReason = model.NoBids
		e.recordOutcome(string(model.NoBids))
		return a, nil
	}

	type scored struct {
		bid   model.Bid
		score float64
	}
	var eligible []scored
	allBanned := true
	for _, b := range a.Bids {
		snap := e.rhr.Snapshot(b.WorkerID)
		if !snap.Banned {
			allBanned = false
		}
		health, _ := e.rhr.HealthScore(b.WorkerID)
		if !e.rhr.IsEligible(b.WorkerID) || health < e.cfg.MinHealthForBid || snap.Banned {
			continue
		}
		a.EligibleBidsCache = append(a.EligibleBidsCache, b)
		eligible = append(eligible, scored{bid: b, score: score(snap.Score, health, b.Amount, b.EstimatedDuration)})
	}

	if len(eligible) == 0 {
		if allBanned {
			a.NoWinnerReason = model.AllBanned
			e.recordOutcome(string(model.AllBanned))
		} else {
			a.NoWinnerReason = model.NoEligibleBids
			e.recordOutcome(string(model.NoEligibleBids))
		}
		return a, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].bid.SubmittedAt.Before(eligible[j].bid.SubmittedAt)
	})

	winner := eligible[0].bid
	a.Winner = &winner
	e.recordOutcome("winner")
	return a, nil
}

// Discard drops an open auction without declaring a winner, used when
// JLM cancels the owning Job (spec §5: "cancels their auctions ...
// in-flight results for cancelled jobs are discarded without reputation
// effect").
func (e *Engine) Discard(auctionID ids.AuctionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.auctions, auctionID)
}

func (e *Engine) recordOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.AuctionsClosed.WithLabelValues(outcome).Inc()
	}
}
