package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk TOML shape. It mirrors Config field-for-field
// but keeps durations as millisecond ints/floats for a readable file,
// following Tutu-Engine's daemon.Config TOML layout (internal/daemon/config.go).
type fileConfig struct {
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`

	BidWindowMS           int64 `toml:"bid_window_ms"`
	CollectionWindowMS    int64 `toml:"collection_window_ms"`
	ConfirmationTimeoutMS int64 `toml:"confirmation_timeout_ms"`
	HeartbeatTimeoutMS    int64 `toml:"heartbeat_timeout_ms"`

	MinWorkerReputation   float64 `toml:"min_worker_reputation"`
	MinHealthForBid       float64 `toml:"min_health_for_bid"`
	BanThreshold          float64 `toml:"ban_threshold"`
	ReputationDecayPerDay float64 `toml:"reputation_decay_per_day"`
	FailurePenalty        float64 `toml:"failure_penalty"`
	SuccessBonus          float64 `toml:"success_bonus"`
	MinJobsForDecay       int     `toml:"min_jobs_for_decay"`
	ReputationFloor       float64 `toml:"reputation_floor"`

	MinConsensusResults        int     `toml:"min_consensus_results"`
	MaxResultsPerJob           int     `toml:"max_results_per_job"`
	VerificationSampleFraction float64 `toml:"verification_sample_fraction"`

	RetryMax       int     `toml:"retry_max"`
	RetryBackoffMS int64   `toml:"retry_backoff_ms"`
	SafetyFactor   float64 `toml:"safety_factor"`

	AutoBanEnabled bool `toml:"auto_ban_enabled"`

	MinPaymentPerKind map[string]uint64 `toml:"min_payment_per_kind"`
	MaxBidsPerAuction int               `toml:"max_bids_per_auction"`

	DeduplicationWindowMS int64 `toml:"deduplication_window_ms"`
	DeduplicationCapacity int   `toml:"deduplication_capacity"`

	GracePeriodMS int64 `toml:"grace_period_ms"`
}

func toFile(c Config) fileConfig {
	return fileConfig{
		MaxConcurrentJobs:           c.MaxConcurrentJobs,
		BidWindowMS:                 c.BidWindow.Milliseconds(),
		CollectionWindowMS:          c.CollectionWindow.Milliseconds(),
		ConfirmationTimeoutMS:       c.ConfirmationTimeout.Milliseconds(),
		HeartbeatTimeoutMS:          c.HeartbeatTimeout.Milliseconds(),
		MinWorkerReputation:         c.MinWorkerReputation,
		MinHealthForBid:             c.MinHealthForBid,
		BanThreshold:                c.BanThreshold,
		ReputationDecayPerDay:       c.ReputationDecayPerDay,
		FailurePenalty:              c.FailurePenalty,
		SuccessBonus:                c.SuccessBonus,
		MinJobsForDecay:             c.MinJobsForDecay,
		ReputationFloor:             c.ReputationFloor,
		MinConsensusResults:         c.MinConsensusResults,
		MaxResultsPerJob:            c.MaxResultsPerJob,
		VerificationSampleFraction:  c.VerificationSampleFraction,
		RetryMax:                    c.RetryMax,
		RetryBackoffMS:              c.RetryBackoff.Milliseconds(),
		SafetyFactor:                c.SafetyFactor,
		AutoBanEnabled:              c.AutoBanEnabled,
		MinPaymentPerKind:           c.MinPaymentPerKind,
		MaxBidsPerAuction:           c.MaxBidsPerAuction,
		DeduplicationWindowMS:       c.DeduplicationWindow.Milliseconds(),
		DeduplicationCapacity:       c.DeduplicationCapacity,
		GracePeriodMS:               c.GracePeriod.Milliseconds(),
	}
}

func fromFile(f fileConfig) Config {
	return Config{
		MaxConcurrentJobs:           f.MaxConcurrentJobs,
		BidWindow:                   time.Duration(f.BidWindowMS) * time.Millisecond,
		CollectionWindow:            time.Duration(f.CollectionWindowMS) * time.Millisecond,
		ConfirmationTimeout:         time.Duration(f.ConfirmationTimeoutMS) * time.Millisecond,
		HeartbeatTimeout:            time.Duration(f.HeartbeatTimeoutMS) * time.Millisecond,
		MinWorkerReputation:         f.MinWorkerReputation,
		MinHealthForBid:             f.MinHealthForBid,
		BanThreshold:                f.BanThreshold,
		ReputationDecayPerDay:       f.ReputationDecayPerDay,
		FailurePenalty:              f.FailurePenalty,
		SuccessBonus:                f.SuccessBonus,
		MinJobsForDecay:             f.MinJobsForDecay,
		ReputationFloor:             f.ReputationFloor,
		MinConsensusResults:         f.MinConsensusResults,
		MaxResultsPerJob:            f.MaxResultsPerJob,
		VerificationSampleFraction:  f.VerificationSampleFraction,
		RetryMax:                    f.RetryMax,
		RetryBackoff:                time.Duration(f.RetryBackoffMS) * time.Millisecond,
		SafetyFactor:                f.SafetyFactor,
		AutoBanEnabled:              f.AutoBanEnabled,
		MinPaymentPerKind:           f.MinPaymentPerKind,
		MaxBidsPerAuction:           f.MaxBidsPerAuction,
		DeduplicationWindow:         time.Duration(f.DeduplicationWindowMS) * time.Millisecond,
		DeduplicationCapacity:       f.DeduplicationCapacity,
		GracePeriod:                 time.Duration(f.GracePeriodMS) * time.Millisecond,
	}
}

// Load reads coordinator.toml from path, falling back to Default() if the
// file does not exist. Mirrors Tutu-Engine's LoadConfig (internal/daemon/config.go).
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg := fromFile(f)
	if err := cfg.Valid(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(toFile(cfg))
}
