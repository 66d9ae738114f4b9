// Package config defines the coordinator's immutable runtime
// configuration (spec §6). Shaped after the teacher's config package
// (config/config.go, config/presets.go): a plain struct of recognized
// options plus named presets and a Valid() validator returning sentinel
// errors.
package config

import (
	"errors"
	"time"
)

var (
	ErrInvalidMaxConcurrentJobs = errors.New("config: max_concurrent_jobs must be >= 1")
	ErrInvalidBidWindow         = errors.New("config: bid_window_ms must be >= 1")
	ErrInvalidCollectionWindow  = errors.New("config: collection_window_ms must be >= 1")
	ErrInvalidConfirmationTO    = errors.New("config: confirmation_timeout_ms must be >= 1")
	ErrInvalidReputationBounds  = errors.New("config: min_worker_reputation must be in [0,1]")
	ErrInvalidConsensusCounts   = errors.New("config: min_consensus_results must be >= 1 and <= max_results_per_job")
	ErrInvalidSafetyFactor      = errors.New("config: safety_factor must be > 1.0")
	ErrInvalidRetryMax          = errors.New("config: retry_max must be >= 0")
)

// Config holds every recognized option from spec §6. It is built once at
// startup and never mutated; components receive either the whole Config
// or a narrow read of the fields they need.
type Config struct {
	MaxConcurrentJobs int

	BidWindow            time.Duration
	CollectionWindow     time.Duration
	ConfirmationTimeout  time.Duration
	HeartbeatTimeout     time.Duration

	MinWorkerReputation float64
	MinHealthForBid     float64
	BanThreshold        float64
	ReputationDecayPerDay float64
	FailurePenalty      float64
	SuccessBonus        float64
	MinJobsForDecay     int
	ReputationFloor     float64

	MinConsensusResults  int
	MaxResultsPerJob     int
	VerificationSampleFraction float64

	RetryMax       int
	RetryBackoff   time.Duration
	SafetyFactor   float64

	AutoBanEnabled bool

	// MinPaymentPerKind is the SPEC_FULL pricing-floor addition (§
	// SUPPLEMENTED FEATURES): a bid below this amount for the job's kind fails the
	// Auction Engine's schema validation rather than being scored.
	MinPaymentPerKind map[string]uint64

	// MaxBidsPerAuction caps how many bids an auction accepts; once the
	// cap is reached further bids are rejected. Reaching it does not close
	// the auction early: it still closes when its bid window ends.
	MaxBidsPerAuction int

	// DeduplicationWindow bounds the EBG LRU dedup set's age eviction.
	DeduplicationWindow time.Duration
	DeduplicationCapacity int

	// GracePeriod is the deadline-miss grace window from spec §4.5
	// ("any state → Cancelled ... on ... deadline miss past the grace
	// window").
	GracePeriod time.Duration
}

// Valid reports whether c satisfies the invariants spec §6/§8 require.
func (c Config) Valid() error {
	switch {
	case c.MaxConcurrentJobs < 1:
		return ErrInvalidMaxConcurrentJobs
	case c.BidWindow <= 0:
		return ErrInvalidBidWindow
	case c.CollectionWindow <= 0:
		return ErrInvalidCollectionWindow
	case c.ConfirmationTimeout <= 0:
		return ErrInvalidConfirmationTO
	case c.MinWorkerReputation < 0 || c.MinWorkerReputation > 1:
		return ErrInvalidReputationBounds
	case c.MinConsensusResults < 1 || c.MinConsensusResults > c.MaxResultsPerJob:
		return ErrInvalidConsensusCounts
	case c.SafetyFactor <= 1.0:
		return ErrInvalidSafetyFactor
	case c.RetryMax < 0:
		return ErrInvalidRetryMax
	default:
		return nil
	}
}

// Default returns production-shaped defaults, mirroring the teacher's
// DefaultParams().
func Default() Config {
	return Config{
		MaxConcurrentJobs: 1024,

		BidWindow:           5 * time.Second,
		CollectionWindow:    30 * time.Second,
		ConfirmationTimeout: 60 * time.Second,
		HeartbeatTimeout:    30 * time.Second,

		MinWorkerReputation:   0.5,
		MinHealthForBid:       0.7,
		BanThreshold:          0.2,
		ReputationDecayPerDay: 0.01,
		FailurePenalty:        0.9,
		SuccessBonus:          1.02,
		MinJobsForDecay:       5,
		ReputationFloor:       0.1,

		MinConsensusResults:        2,
		MaxResultsPerJob:           5,
		VerificationSampleFraction: 0.2,

		RetryMax:     3,
		RetryBackoff: 2 * time.Second,
		SafetyFactor: 1.5,

		AutoBanEnabled: true,

		MinPaymentPerKind: map[string]uint64{},
		MaxBidsPerAuction: 50,

		DeduplicationWindow:   5 * time.Minute,
		DeduplicationCapacity: 10_000,

		GracePeriod: 10 * time.Second,
	}
}

// Local returns fast-timer settings for single-node development and
// tests, mirroring the teacher's LocalParams()/TestParameters.
func Local() Config {
	c := Default()
	c.BidWindow = 50 * time.Millisecond
	c.CollectionWindow = 100 * time.Millisecond
	c.ConfirmationTimeout = 200 * time.Millisecond
	c.HeartbeatTimeout = 500 * time.Millisecond
	c.RetryBackoff = 10 * time.Millisecond
	c.GracePeriod = 50 * time.Millisecond
	return c
}
