// Package api exposes the HTTP surface of the crawl engine: job triggering,
// status, cancellation, and logs. It is a thin layer over the job manager;
// idempotency lives in the manager, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/jobs"
	"github.com/seolens/crawler/internal/telemetry"
)

// JobService is the slice of the job manager the API consumes.
type JobService interface {
	CreateJob(ctx context.Context, projectID uuid.UUID, cfg crawl.JobConfig, triggeredBy string) (crawl.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (crawl.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID) error
	Logs(ctx context.Context, jobID uuid.UUID) ([]jobs.LogEntry, error)
}

// Stopper signals the running worker to stop dispatching new pages.
type Stopper interface {
	Stop()
}

// Server wires HTTP handlers to the job manager.
type Server struct {
	router  chi.Router
	service JobService
	stopper Stopper
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. stopper may be
// nil when no in-process worker exists.
func NewServer(service JobService, stopper Stopper, logger *zap.Logger) *Server {
	s := &Server{
		service: service,
		stopper: stopper,
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/projects/{project_id}/crawl", s.triggerCrawl)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
			r.Get("/logs", s.getJobLogs)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type crawlRequest struct {
	MaxPages        int      `json:"max_pages"`
	MaxDepth        int      `json:"max_depth"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	StoreRawHTML    bool     `json:"store_raw_html"`
}

// triggerCrawl handles POST /v1/projects/{project_id}/crawl. Requesting a
// crawl while one is active returns the existing job unchanged.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var req crawlRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	job, err := s.service.CreateJob(r.Context(), projectID, crawl.JobConfig{
		MaxPages:        req.MaxPages,
		MaxDepth:        req.MaxDepth,
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		StoreRawHTML:    req.StoreRawHTML,
	}, "api")
	if err != nil {
		var verr *crawl.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawl.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	if err := s.service.CancelJob(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, crawl.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "job is not cancellable")
		default:
			s.logger.Error("cancel job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}
	if s.stopper != nil {
		s.stopper.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) getJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	entries, err := s.service.Logs(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list job logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job logs")
		return
	}
	if entries == nil {
		entries = []jobs.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Server) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return jobID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
