package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/api"
	"github.com/meshcompute/coordinator/internal/errs"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

type fakeJobs struct {
	submitted model.JobSpec
	submitErr error
	jobID     ids.JobID
	statusJob model.Job
	statusErr error
	cancelErr error
}

func (f *fakeJobs) Submit(spec model.JobSpec, priority int, maxReward uint64, slaDeadline time.Time, clientRef string, tags map[string]string) (ids.JobID, error) {
	f.submitted = spec
	if f.submitErr != nil {
		return ids.JobID{}, f.submitErr
	}
	return f.jobID, nil
}

func (f *fakeJobs) Cancel(jobID ids.JobID, reason string) error { return f.cancelErr }

func (f *fakeJobs) Status(jobID ids.JobID) (model.Job, error) {
	if f.statusErr != nil {
		return model.Job{}, f.statusErr
	}
	return f.statusJob, nil
}

type fakeAdmin struct {
	banned   ids.WorkerID
	unbanned ids.WorkerID
}

func (f *fakeAdmin) Ban(workerID ids.WorkerID, reason string, until time.Time) { f.banned = workerID }
func (f *fakeAdmin) Unban(workerID ids.WorkerID)                              { f.unbanned = workerID }

type fakeEarnings struct {
	snapshot map[ids.WorkerID]uint64
}

func (f *fakeEarnings) EarningsSnapshot() map[ids.WorkerID]uint64 { return f.snapshot }

func TestHandleSubmit(t *testing.T) {
	jobID := ids.NewJobID()
	jobs := &fakeJobs{jobID: jobID}
	admin := &fakeAdmin{}
	srv := api.New(jobs, admin, &fakeEarnings{}, zap.NewNop())

	body, _ := json.Marshal(map[string]any{
		"kind":                "inference",
		"verification_method": "none",
		"max_reward":          1000,
		"sla_seconds":         60,
		"compute_requirements": map[string]any{
			"min_gpu_memory_mb":     8000,
			"min_cpu_cores":         4,
			"required_hardware_tags": []string{"cuda"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "inference", jobs.submitted.Kind)
	require.EqualValues(t, 8000, jobs.submitted.ComputeRequirements.MinGPUMemoryMB)
	require.Equal(t, []string{"cuda"}, jobs.submitted.ComputeRequirements.RequiredHardwareTags)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, jobID.String(), out["job_id"])
}

func TestHandleSubmitRejectsMissingKind(t *testing.T) {
	jobs := &fakeJobs{submitErr: errs.New(errs.KindValidation, errs.ReasonInvalidSpec, nil)}
	srv := api.New(jobs, &fakeAdmin{}, &fakeEarnings{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusUnknownJobIs404(t *testing.T) {
	jobs := &fakeJobs{statusErr: errs.ErrUnknownJob}
	srv := api.New(jobs, &fakeAdmin{}, &fakeEarnings{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+ids.NewJobID().String(), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatusReturnsJob(t *testing.T) {
	jobID := ids.NewJobID()
	jobs := &fakeJobs{statusJob: model.Job{ID: jobID, State: model.JobExecuting}}
	srv := api.New(jobs, &fakeAdmin{}, &fakeEarnings{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID.String(), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, model.JobExecuting, job.State)
}

func TestHandleCancel(t *testing.T) {
	jobs := &fakeJobs{}
	srv := api.New(jobs, &fakeAdmin{}, &fakeEarnings{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+ids.NewJobID().String()+"?reason=client_abort", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleBan(t *testing.T) {
	admin := &fakeAdmin{}
	srv := api.New(&fakeJobs{}, admin, &fakeEarnings{}, zap.NewNop())

	workerID := ids.NewWorkerID()
	body, _ := json.Marshal(map[string]any{"worker_id": workerID.String(), "reason": "malicious", "duration_ms": 60000})
	req := httptest.NewRequest(http.MethodPost, "/admin/ban", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, workerID, admin.banned)
}

func TestHandleEarnings(t *testing.T) {
	w := ids.NewWorkerID()
	earnings := &fakeEarnings{snapshot: map[ids.WorkerID]uint64{w: 1500}}
	srv := api.New(&fakeJobs{}, &fakeAdmin{}, earnings, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/earnings", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.EqualValues(t, 1500, out[w.String()])
}

func TestHandleUnban(t *testing.T) {
	admin := &fakeAdmin{}
	srv := api.New(&fakeJobs{}, admin, &fakeEarnings{}, zap.NewNop())

	workerID := ids.NewWorkerID()
	body, _ := json.Marshal(map[string]any{"worker_id": workerID.String()})
	req := httptest.NewRequest(http.MethodPost, "/admin/unban", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, workerID, admin.unbanned)
}
