package chainclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

// MockClient is a deterministic, in-memory Client for tests: every write
// returns a pending handle whose subsequent Poll outcome is scripted per
// hash via StubConfirm/StubFail, letting a test drive scenario F's
// "pending then resubmitted then failed" sequence without a real chain.
type MockClient struct {
	mu       sync.Mutex
	seq      int
	outcomes map[string]TxState
	blocks   map[string]uint64
	reasons  map[string]string
}

func NewMockClient() *MockClient {
	return &MockClient{
		outcomes: make(map[string]TxState),
		blocks:   make(map[string]uint64),
		reasons:  make(map[string]string),
	}
}

func (m *MockClient) nextHash(op string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("%s-%d", op, m.seq)
}

// StubConfirm makes a future Poll of hash report confirmed at block.
func (m *MockClient) StubConfirm(hash string, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[hash] = TxConfirmed
	m.blocks[hash] = block
}

// StubFail makes a future Poll of hash report failed with reason.
func (m *MockClient) StubFail(hash string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[hash] = TxFailed
	m.reasons[hash] = reason
}

func (m *MockClient) submit(op string, jobID ids.JobID) (TxHandle, error) {
	hash := m.nextHash(op)
	return TxHandle{Hash: hash, Op: op, JobID: jobID, State: TxPending}, nil
}

func (m *MockClient) SubmitJob(_ context.Context, jobID ids.JobID, _ model.JobSpec) (TxHandle, error) {
	return m.submit("submit_job", jobID)
}

func (m *MockClient) AssignJob(_ context.Context, jobID ids.JobID, _ ids.WorkerID) (TxHandle, error) {
	return m.submit("assign_job", jobID)
}

func (m *MockClient) SubmitResult(_ context.Context, jobID ids.JobID, _ model.ConsensusArtifact) (TxHandle, error) {
	return m.submit("submit_result", jobID)
}

func (m *MockClient) DistributeRewards(_ context.Context, jobID ids.JobID) (TxHandle, error) {
	return m.submit("distribute_rewards", jobID)
}

// Poll reports the stubbed outcome for handle.Hash, or leaves it pending
// if nothing was stubbed (the default: a chain that never confirms,
// forcing the resubmission path).
func (m *MockClient) Poll(_ context.Context, handle TxHandle) (TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.outcomes[handle.Hash]
	if !ok {
		return handle, nil
	}
	handle.State = state
	if state == TxConfirmed {
		handle.Block = m.blocks[handle.Hash]
	}
	if state == TxFailed {
		handle.FailureReason = m.reasons[handle.Hash]
	}
	return handle, nil
}

func (m *MockClient) GetJobState(_ context.Context, _ ids.JobID) (string, error) {
	return "", nil
}

func (m *MockClient) GetJobDetails(_ context.Context, _ ids.JobID) (map[string]string, error) {
	return map[string]string{}, nil
}
