package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/nsel/internal/config"
	apperrors "github.com/copyleftdev/nsel/internal/errors"
	"github.com/copyleftdev/nsel/internal/logging"
	"github.com/copyleftdev/nsel/internal/models"
	"github.com/copyleftdev/nsel/internal/selection"
)

// JobStatus is the lifecycle state of a selection job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SelectionJob represents the state of one asynchronous model selection.
// Fields are guarded by the owning Server's mutex.
type SelectionJob struct {
	ID            string
	Status        JobStatus
	StartTime     time.Time
	EndTime       *time.Time
	LastUpdated   time.Time
	Models        []string
	Runs          []selection.RunHandle
	CompletedRuns int
	Selector      *selection.Selector
	CancelFunc    context.CancelFunc
	Table         selection.Table
	Failures      []selection.RunFailure
	Err           error
}

// Server implements the HTTP and JSON-RPC surface of the selection service.
// It manages selection jobs and provides endpoints to start, monitor, and
// cancel them.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *Metrics

	jobs   map[string]*SelectionJob
	jobsMu sync.RWMutex
	// slots claimed by StartSelection calls still preparing their job
	reserved int
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry registers the server metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = NewMetrics(reg)
	}
}

// NewServer creates a new server instance with the given config and logger.
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Wrap(nil)
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("server"),
		jobs:   make(map[string]*SelectionJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/select", s.handleSelect)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/selection/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)

	r.Handle("/metrics", s.metrics.Handler())
}

// StartSelection validates rf, prepares one sampler per named model and
// starts the batch in the background. Settings missing from rf fall back
// to the server configuration.
func (s *Server) StartSelection(rf *config.RunFile) (*SelectionJob, error) {
	const op = "StartSelection"
	if rf == nil {
		return nil, apperrors.BadRequest(nil, "missing selection request")
	}
	if err := rf.Validate(); err != nil {
		return nil, apperrors.BadRequest(err, "invalid selection request").WithOperation(op)
	}

	candidates, err := models.Candidates(rf.Models, rf.PriorScale)
	if err != nil {
		return nil, apperrors.BadRequest(err, "unknown model").WithOperation(op)
	}

	if err := s.reserveSlot(); err != nil {
		return nil, apperrors.Wrap(err, "selection rejected").WithOperation(op)
	}
	inserted := false
	defer func() {
		if !inserted {
			s.releaseSlot()
		}
	}()

	id := uuid.NewString()
	jobLogger := logging.NewZapLogger(s.logger, "selection").With(zap.String("job_id", id))

	opts := rf.OptionsWith(s.cfg.SelectionOptions())
	opts.OnRunComplete = func(h selection.RunHandle, logZ float64, err error, elapsed time.Duration) {
		s.metrics.ObserveRun(h, logZ, err, elapsed)
		s.jobsMu.Lock()
		defer s.jobsMu.Unlock()
		if job, ok := s.jobs[id]; ok {
			job.CompletedRuns++
			job.LastUpdated = time.Now()
		}
	}

	sel := selection.New(opts, jobLogger)
	handles, err := sel.Prepare(candidates, rf.Data(), rf.PrepareConfigWith(selection.PrepareConfig{
		SamplerConfig: s.cfg.SamplerConfig(),
		Likelihood:    selection.LikelihoodKind(s.cfg.Selection.Likelihood),
	}))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to prepare selection").WithOperation(op)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &SelectionJob{
		ID:          id,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Models:      append([]string(nil), rf.Models...),
		Runs:        handles,
		Selector:    sel,
		CancelFunc:  cancel,
	}

	s.jobsMu.Lock()
	s.jobs[id] = job
	s.reserved--
	inserted = true
	s.jobsMu.Unlock()
	s.metrics.JobStarted()

	s.logger.Info("Selection started", map[string]interface{}{
		"job_id": id,
		"models": len(handles),
	})

	s.wg.Add(1)
	go s.runSelection(ctx, job)

	return job, nil
}

// runSelection executes the batch in a goroutine
func (s *Server) runSelection(ctx context.Context, job *SelectionJob) {
	defer s.wg.Done()

	s.jobsMu.Lock()
	if job.Status == StatusPending {
		job.Status = StatusRunning
		job.LastUpdated = time.Now()
	}
	s.jobsMu.Unlock()

	table, err := job.Selector.RunAll(ctx)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	now := time.Now()
	job.LastUpdated = now
	if job.Status == StatusCancelled {
		return
	}
	job.EndTime = &now
	job.Failures = job.Selector.Failures()

	if err != nil {
		s.logger.Error("Selection failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		job.Status = StatusFailed
		job.Err = err
	} else {
		job.Status = StatusCompleted
		job.Table = table
		s.logger.Info("Selection completed", map[string]interface{}{
			"job_id":   job.ID,
			"ranked":   len(table),
			"failures": len(job.Failures),
		})
	}
	s.metrics.JobFinished(job.Status)
}

// CancelSelection cancels a pending or running job.
func (s *Server) CancelSelection(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return apperrors.NotFound("selection", id)
	}
	if job.Status.Terminal() {
		return apperrors.Errorf("cannot cancel selection with status: %s", job.Status).
			WithStatus(http.StatusConflict)
	}

	if job.CancelFunc != nil {
		job.CancelFunc()
	}

	job.Status = StatusCancelled
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now
	s.metrics.JobFinished(StatusCancelled)

	s.logger.Info("Selection cancelled", map[string]interface{}{
		"job_id": id,
	})
	return nil
}

// SelectionStatus returns the status document of a job.
func (s *Server) SelectionStatus(id string) (*StatusResponse, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, apperrors.NotFound("selection", id)
	}
	return newStatusResponse(job), nil
}

// reserveSlot claims a job slot under the same lock that counts the
// active jobs.
func (s *Server) reserveSlot() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if active := s.activeJobsLocked(); s.cfg.Selection.MaxJobs > 0 && active >= s.cfg.Selection.MaxJobs {
		return apperrors.Errorf("%d selection jobs already active", active).
			WithStatus(http.StatusTooManyRequests)
	}
	s.reserved++
	return nil
}

func (s *Server) releaseSlot() {
	s.jobsMu.Lock()
	s.reserved--
	s.jobsMu.Unlock()
}

func (s *Server) activeJobsLocked() int {
	n := s.reserved
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			n++
		}
	}
	return n
}

// Close cancels every active job and waits for the workers to stop.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	for _, job := range s.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	s.jobsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Number is a float64 that encodes non-finite values as strings, which
// plain JSON numbers cannot carry.
type Number float64

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

// RunView describes one prepared model run.
type RunView struct {
	Label string `json:"label"`
	Model string `json:"model"`
	Seed  uint64 `json:"seed"`
}

// RowView is one ranked evidence row.
type RowView struct {
	Label            string `json:"label"`
	Model            string `json:"model"`
	LogEvidence      Number `json:"log_evidence"`
	LogEvidenceError Number `json:"log_evidence_error"`
}

// FailureView is one failed model run.
type FailureView struct {
	Label string `json:"label"`
	Model string `json:"model"`
	Error string `json:"error"`
}

// BayesFactorView is the Bayes factor matrix over completed runs.
type BayesFactorView struct {
	Labels   []string   `json:"labels"`
	Values   [][]Number `json:"values"`
	Excluded []string   `json:"excluded,omitempty"`
}

// StatusResponse is the status document of a selection job.
type StatusResponse struct {
	ID            string                       `json:"selection_id"`
	Status        JobStatus                    `json:"status"`
	StartTime     string                       `json:"start_time"`
	LastUpdate    string                       `json:"last_update"`
	EndTime       string                       `json:"end_time,omitempty"`
	Models        []string                     `json:"models"`
	Runs          []RunView                    `json:"runs"`
	CompletedRuns int                          `json:"completed_runs"`
	Table         []RowView                    `json:"table,omitempty"`
	BayesFactors  *BayesFactorView             `json:"bayes_factors,omitempty"`
	Criteria      map[string]map[string]Number `json:"criteria,omitempty"`
	Failures      []FailureView                `json:"failures,omitempty"`
	Error         string                       `json:"error,omitempty"`
}

func newStatusResponse(job *SelectionJob) *StatusResponse {
	resp := &StatusResponse{
		ID:            job.ID,
		Status:        job.Status,
		StartTime:     job.StartTime.Format(time.RFC3339),
		LastUpdate:    job.LastUpdated.Format(time.RFC3339),
		Models:        job.Models,
		CompletedRuns: job.CompletedRuns,
	}
	if job.EndTime != nil {
		resp.EndTime = job.EndTime.Format(time.RFC3339)
	}
	for _, h := range job.Runs {
		resp.Runs = append(resp.Runs, RunView{Label: h.Label, Model: h.Model, Seed: h.Seed})
	}
	for _, f := range job.Failures {
		resp.Failures = append(resp.Failures, FailureView{Label: f.Model, Model: f.Name, Error: f.Err.Error()})
	}
	if job.Err != nil {
		resp.Error = job.Err.Error()
	}
	if job.Status != StatusCompleted {
		return resp
	}

	for _, row := range job.Table {
		resp.Table = append(resp.Table, RowView{
			Label:            row.Model,
			Model:            row.Name,
			LogEvidence:      Number(row.LogEvidence),
			LogEvidenceError: Number(row.LogEvidenceError),
		})
	}

	if bf, err := job.Selector.BayesFactors(); err == nil {
		n := len(bf.Labels)
		view := &BayesFactorView{Labels: bf.Labels, Values: make([][]Number, n), Excluded: bf.Excluded}
		for i := 0; i < n; i++ {
			view.Values[i] = make([]Number, n)
			for j := 0; j < n; j++ {
				view.Values[i][j] = Number(bf.At(i, j))
			}
		}
		resp.BayesFactors = view
	}

	resp.Criteria = make(map[string]map[string]Number)
	addCriterion := func(name string, table selection.CriterionTable, err error) {
		if err != nil {
			return
		}
		values := make(map[string]Number, len(table))
		for _, row := range table {
			values[row.Model] = Number(row.Value)
		}
		resp.Criteria[name] = values
	}
	aic, err := job.Selector.AkaikeIC()
	addCriterion("aic", aic, err)
	bic, err := job.Selector.BayesianIC(job.Selector.NData())
	addCriterion("bic", bic, err)
	dic, err := job.Selector.DevianceIC()
	addCriterion("dic", dic, err)

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleModels lists the candidate families that can be selected between
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models.FamilyNames(),
	})
}

// handleSelect handles POST /api/v1/select
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var rf config.RunFile
	if err := json.NewDecoder(r.Body).Decode(&rf); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest(err, "invalid request body"))
		return
	}

	job, err := s.StartSelection(&rf)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Selection rejected")
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"selection_id": job.ID,
		"status":       StatusPending,
	})
}

// handleStatus handles GET /api/v1/status/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.SelectionStatus(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/selection/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.CancelSelection(chi.URLParam(r, "id")); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}
