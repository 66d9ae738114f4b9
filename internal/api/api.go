// Package api exposes the client request surface (spec §6): submit,
// cancel, status, and the administrative ban/unban/metrics operations,
// as HTTP handlers. Grounded on Tutu-Engine's and jordigilh-kubernaut's
// chi.Router wiring (one constructor building a *chi.Mux with
// middleware and routes registered up front, handed back ready to
// ListenAndServe).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meshcompute/coordinator/internal/errs"
	"github.com/meshcompute/coordinator/internal/ids"
	"github.com/meshcompute/coordinator/internal/model"
)

// JobSubmitter is the narrow JLM surface the submit/cancel/status routes
// use.
type JobSubmitter interface {
	Submit(spec model.JobSpec, priority int, maxReward uint64, slaDeadline time.Time, clientRef string, tags map[string]string) (ids.JobID, error)
	Cancel(jobID ids.JobID, reason string) error
	Status(jobID ids.JobID) (model.Job, error)
}

// WorkerAdmin is the narrow RHR surface the admin ban/unban routes use.
type WorkerAdmin interface {
	Ban(workerID ids.WorkerID, reason string, until time.Time)
	Unban(workerID ids.WorkerID)
}

// EarningsReporter is the narrow JLM surface the earnings view reads
// (SPEC_FULL § SUPPLEMENTED FEATURES "Earnings/settlement view").
type EarningsReporter interface {
	EarningsSnapshot() map[ids.WorkerID]uint64
}

// Server builds the client-facing HTTP API.
type Server struct {
	jobs     JobSubmitter
	admin    WorkerAdmin
	earnings EarningsReporter
	log      *zap.Logger
}

func New(jobs JobSubmitter, admin WorkerAdmin, earnings EarningsReporter, log *zap.Logger) *Server {
	return &Server{jobs: jobs, admin: admin, earnings: earnings, log: log}
}

// Router returns the chi.Mux serving every route spec §6's client
// request surface names.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/jobs", s.handleSubmit)
	r.Delete("/jobs/{jobID}", s.handleCancel)
	r.Get("/jobs/{jobID}", s.handleStatus)
	r.Post("/admin/ban", s.handleBan)
	r.Post("/admin/unban", s.handleUnban)
	r.Get("/earnings", s.handleEarnings)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type computeRequirements struct {
	MinGPUMemoryMB       uint64   `json:"min_gpu_memory_mb"`
	MinCPUCores          uint32   `json:"min_cpu_cores"`
	MinRAMMB             uint64   `json:"min_ram_mb"`
	RequiredFrameworks   []string `json:"required_frameworks"`
	RequiredHardwareTags []string `json:"required_hardware_tags"`
}

type submitRequest struct {
	Kind                string              `json:"kind"`
	ModelRef            string              `json:"model_ref"`
	OutputFormat        string              `json:"output_format"`
	VerificationMethod  string              `json:"verification_method"`
	Priority            int                 `json:"priority"`
	MaxReward           uint64              `json:"max_reward"`
	SLASeconds          int64               `json:"sla_seconds"`
	ClientRef           string              `json:"client_ref"`
	Tags                map[string]string   `json:"tags"`
	ComputeRequirements computeRequirements `json:"compute_requirements"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}

	spec := model.JobSpec{
		Kind:               req.Kind,
		ModelRef:           req.ModelRef,
		OutputFormat:       req.OutputFormat,
		VerificationMethod: model.VerificationMethod(req.VerificationMethod),
		ComputeRequirements: model.ComputeRequirements{
			MinGPUMemoryMB:       req.ComputeRequirements.MinGPUMemoryMB,
			MinCPUCores:          req.ComputeRequirements.MinCPUCores,
			MinRAMMB:             req.ComputeRequirements.MinRAMMB,
			RequiredFrameworks:   req.ComputeRequirements.RequiredFrameworks,
			RequiredHardwareTags: req.ComputeRequirements.RequiredHardwareTags,
		},
	}
	sla := time.Now().Add(time.Duration(req.SLASeconds) * time.Second)

	jobID, err := s.jobs.Submit(spec, req.Priority, req.MaxReward, sla, req.ClientRef, req.Tags)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{JobID: jobID.String()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}
	if err := s.jobs.Cancel(jobID, r.URL.Query().Get("reason")); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}
	job, err := s.jobs.Status(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type banRequest struct {
	WorkerID   string `json:"worker_id"`
	Reason     string `json:"reason"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}
	workerID, err := parseWorkerID(req.WorkerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}
	s.admin.Ban(workerID, req.Reason, time.Now().Add(time.Duration(req.DurationMS)*time.Millisecond))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}
	workerID, err := parseWorkerID(req.WorkerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.ReasonInvalidSpec)
		return
	}
	s.admin.Unban(workerID)
	w.WriteHeader(http.StatusNoContent)
}

// handleEarnings reports each worker's cumulative confirmed
// distribute_rewards total, recomputed from chain-confirmed receipts
// rather than tracked as a source of truth.
func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	snapshot := s.earnings.EarningsSnapshot()
	out := make(map[string]uint64, len(snapshot))
	for workerID, total := range snapshot {
		out[workerID.String()] = total
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, errorBody{Reason: reason})
}

// writeJobError maps the errs.Kind taxonomy onto HTTP statuses (spec §7:
// "user-visible failure shows the kind plus a stable reason code").
func writeJobError(w http.ResponseWriter, err error) {
	if err == errs.ErrUnknownJob || err == errs.ErrInvalidTransition {
		writeError(w, http.StatusNotFound, "unknown_job")
		return
	}
	jobErr, ok := err.(*errs.JobError)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	status := http.StatusInternalServerError
	switch jobErr.Kind {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindEligibility, errs.KindTimeout, errs.KindConsensus, errs.KindChain:
		status = http.StatusConflict
	case errs.KindIntegrity:
		status = http.StatusGone
	}
	writeJSON(w, status, errorBody{Kind: string(jobErr.Kind), Reason: jobErr.Code})
}

func parseJobID(s string) (ids.JobID, error)       { return ids.ParseJobID(s) }
func parseWorkerID(s string) (ids.WorkerID, error) { return ids.ParseWorkerID(s) }
