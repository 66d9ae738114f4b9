package chainclient

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

// BreakerClient wraps a Client in a circuit breaker so a wedged chain
// backend degrades to fast ErrChainUnavailable failures instead of every
// JLM goroutine piling up on the same stalled RPC (spec §5 "the chain
// client is a single shared resource with an internal request queue").
// One breaker instance is shared by all four write operations: a chain
// outage affects them uniformly.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps inner with a breaker that opens after 5
// consecutive failures and probes again after 30s, mirroring a
// conservative default for an RPC dependency with no SLA of its own.
func NewBreakerClient(inner Client) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "chainclient",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerClient) execute(op string, fn func() (TxHandle, error)) (TxHandle, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return TxHandle{Op: op, State: TxFailed, FailureReason: "circuit_open"}, &ErrChainUnavailable{Op: op}
		}
		return TxHandle{}, err
	}
	return result.(TxHandle), nil
}

func (b *BreakerClient) SubmitJob(ctx context.Context, jobID ids.JobID, spec model.JobSpec) (TxHandle, error) {
	return b.execute("submit_job", func() (TxHandle, error) { return b.inner.SubmitJob(ctx, jobID, spec) })
}

func (b *BreakerClient) AssignJob(ctx context.Context, jobID ids.JobID, workerID ids.WorkerID) (TxHandle, error) {
	return b.execute("assign_job", func() (TxHandle, error) { return b.inner.AssignJob(ctx, jobID, workerID) })
}

func (b *BreakerClient) SubmitResult(ctx context.Context, jobID ids.JobID, artifact model.ConsensusArtifact) (TxHandle, error) {
	return b.execute("submit_result", func() (TxHandle, error) { return b.inner.SubmitResult(ctx, jobID, artifact) })
}

func (b *BreakerClient) DistributeRewards(ctx context.Context, jobID ids.JobID) (TxHandle, error) {
	return b.execute("distribute_rewards", func() (TxHandle, error) { return b.inner.DistributeRewards(ctx, jobID) })
}

func (b *BreakerClient) Poll(ctx context.Context, handle TxHandle) (TxHandle, error) {
	return b.execute("poll", func() (TxHandle, error) { return b.inner.Poll(ctx, handle) })
}

func (b *BreakerClient) GetJobState(ctx context.Context, jobID ids.JobID) (string, error) {
	return b.inner.GetJobState(ctx, jobID)
}

func (b *BreakerClient) GetJobDetails(ctx context.Context, jobID ids.JobID) (map[string]string, error) {
	return b.inner.GetJobDetails(ctx, jobID)
}
