// Package chainclient defines the coordinator's view of the chain (spec
// §6): four idempotent, JobID-keyed operations each returning a handle
// observable for {pending, confirmed(block), failed(reason)}, plus a
// read side for recovery. Grounded on jordigilh-kubernaut's pattern of
// wrapping an outbound dependency behind a narrow interface so the
// caller never holds the concrete client, generalized here from a
// Kubernetes clientset to a blockchain RPC client.
package chainclient

import (
	"context"
	"fmt"

	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

// TxState is the observable lifecycle of one outbound transaction (spec §6).
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

// TxHandle is the observable result of one chain operation.
type TxHandle struct {
	Hash          string
	Op            string
	JobID         ids.JobID
	State         TxState
	Block         uint64
	FailureReason string
}

// Client is the chain interface JLM consumes (spec §6). Every write
// operation is idempotent keyed by JobID + operation name, so a
// resubmission after restart never produces a second confirmed effect
// (spec §8 round-trip property).
type Client interface {
	SubmitJob(ctx context.Context, jobID ids.JobID, spec model.JobSpec) (TxHandle, error)
	AssignJob(ctx context.Context, jobID ids.JobID, workerID ids.WorkerID) (TxHandle, error)
	SubmitResult(ctx context.Context, jobID ids.JobID, artifact model.ConsensusArtifact) (TxHandle, error)
	DistributeRewards(ctx context.Context, jobID ids.JobID) (TxHandle, error)

	// Poll re-checks a previously returned handle's current state, used
	// by the confirmation monitor and by resubmission-with-fresh-nonce.
	Poll(ctx context.Context, handle TxHandle) (TxHandle, error)

	// GetJobState and GetJobDetails back JLM's post-restart recovery
	// path (spec §6 "read side ... for recovery after restart").
	GetJobState(ctx context.Context, jobID ids.JobID) (string, error)
	GetJobDetails(ctx context.Context, jobID ids.JobID) (map[string]string, error)
}

// ErrChainUnavailable is returned by a breaker-wrapped Client when the
// circuit is open.
type ErrChainUnavailable struct{ Op string }

func (e *ErrChainUnavailable) Error() string {
	return fmt.Sprintf("chainclient: %s: circuit open", e.Op)
}
