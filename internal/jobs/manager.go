package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/telemetry"
)

// Defaults fill in job config fields the caller left at zero.
type Defaults struct {
	MaxPages     int
	MaxDepth     int
	RequestDelay time.Duration
	Timeout      time.Duration
	UserAgent    string
}

// DomainResolver verifies a project exists and returns the domain it crawls.
// CreateJob consults it so a job for an unknown project is rejected before
// any row is written.
type DomainResolver interface {
	ResolveDomain(ctx context.Context, projectID uuid.UUID) (string, error)
}

// Manager coordinates the crawl job lifecycle on top of a Store, recording
// every transition in the job log.
type Manager struct {
	store    Store
	logs     LogStore
	resolver DomainResolver
	clock    crawl.Clock
	logger   *zap.Logger
	defaults Defaults
}

// NewManager constructs a Manager.
func NewManager(store Store, logs LogStore, resolver DomainResolver, clock crawl.Clock, defaults Defaults, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		logs:     logs,
		resolver: resolver,
		clock:    clock,
		logger:   logger.Named("jobs"),
		defaults: defaults,
	}
}

// CreateJob requests a crawl for a project. The project's domain is resolved
// up front, so a job for an unknown project is rejected without writing
// anything. If an active job already exists the existing job is returned
// unchanged; otherwise a pending job is inserted and a creation log entry
// recorded. The policy fields RespectRobots and SameDomainOnly are forced on
// regardless of the requested config.
func (m *Manager) CreateJob(ctx context.Context, projectID uuid.UUID, cfg crawl.JobConfig, triggeredBy string) (crawl.Job, error) {
	if projectID == uuid.Nil {
		return crawl.Job{}, &crawl.ValidationError{Reason: "project id is required"}
	}
	cfg = m.applyDefaults(cfg)
	if cfg.MaxPages <= 0 {
		return crawl.Job{}, &crawl.ValidationError{Reason: "max pages must be positive"}
	}
	if cfg.MaxDepth < 0 {
		return crawl.Job{}, &crawl.ValidationError{Reason: "max depth must not be negative"}
	}
	if _, err := m.resolver.ResolveDomain(ctx, projectID); err != nil {
		if errors.Is(err, crawl.ErrNotFound) {
			return crawl.Job{}, &crawl.ValidationError{Reason: "project has no registered domain"}
		}
		return crawl.Job{}, fmt.Errorf("resolve project domain: %w", err)
	}

	job := crawl.Job{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Config:      cfg,
		Status:      crawl.JobStatusPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   m.clock.Now(),
	}
	stored, created, err := m.store.CreatePending(ctx, job)
	if err != nil {
		return crawl.Job{}, fmt.Errorf("create job: %w", err)
	}
	if !created {
		// Idempotent read: the project already has an active job.
		m.logger.Debug("returning existing active job",
			zap.String("project_id", projectID.String()),
			zap.String("job_id", stored.ID.String()))
		return stored, nil
	}

	telemetry.ObserveJob(string(crawl.JobStatusPending))
	m.appendLog(ctx, stored.ID, "info", "crawl job created", map[string]any{
		"triggered_by": triggeredBy,
		"max_pages":    cfg.MaxPages,
		"max_depth":    cfg.MaxDepth,
	})
	m.logger.Info("crawl job created",
		zap.String("project_id", projectID.String()),
		zap.String("job_id", stored.ID.String()),
		zap.String("triggered_by", triggeredBy))
	return stored, nil
}

// StartJob transitions a pending job to running.
func (m *Manager) StartJob(ctx context.Context, id uuid.UUID) error {
	if err := m.store.Start(ctx, id, m.clock.Now()); err != nil {
		return fmt.Errorf("start job %s: %w", id, err)
	}
	telemetry.ObserveJob(string(crawl.JobStatusRunning))
	m.appendLog(ctx, id, "info", "crawl started", nil)
	return nil
}

// UpdateProgress records the worker's periodic counters.
func (m *Manager) UpdateProgress(ctx context.Context, id uuid.UUID, upd crawl.ProgressUpdate) error {
	if err := m.store.UpdateProgress(ctx, id, upd); err != nil {
		return fmt.Errorf("update progress for job %s: %w", id, err)
	}
	return nil
}

// CompleteJob marks the job completed with its final counts. The worker only
// calls this after the content-integrity check passed.
func (m *Manager) CompleteJob(ctx context.Context, id uuid.UUID, counts crawl.JobCounts) error {
	if err := m.store.Complete(ctx, id, counts, m.clock.Now()); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	telemetry.ObserveJob(string(crawl.JobStatusCompleted))
	m.appendLog(ctx, id, "info", "crawl completed", map[string]any{
		"crawled_pages": counts.CrawledPages,
		"failed_pages":  counts.FailedPages,
		"skipped_pages": counts.SkippedPages,
	})
	return nil
}

// FailJob marks the job failed with a human-readable message.
func (m *Manager) FailJob(ctx context.Context, id uuid.UUID, message string) error {
	if err := m.store.Fail(ctx, id, message, m.clock.Now()); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	telemetry.ObserveJob(string(crawl.JobStatusFailed))
	m.appendLog(ctx, id, "error", "crawl failed", map[string]any{"error": message})
	m.logger.Warn("crawl job failed", zap.String("job_id", id.String()), zap.String("error", message))
	return nil
}

// CancelJob marks the job cancelled. Cancelling a terminal job is an error.
func (m *Manager) CancelJob(ctx context.Context, id uuid.UUID) error {
	if err := m.store.Cancel(ctx, id, m.clock.Now()); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	telemetry.ObserveJob(string(crawl.JobStatusCancelled))
	m.appendLog(ctx, id, "info", "crawl cancelled", nil)
	return nil
}

// GetJob fetches a job by ID.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (crawl.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return crawl.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// NextPending returns the oldest pending job waiting for a worker.
func (m *Manager) NextPending(ctx context.Context) (crawl.Job, error) {
	job, err := m.store.NextPending(ctx)
	if err != nil {
		return crawl.Job{}, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

// Logs returns the job log, ordered by time.
func (m *Manager) Logs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	entries, err := m.logs.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list logs for job %s: %w", jobID, err)
	}
	return entries, nil
}

// LogEvent appends a job-level event such as a page error or policy skip.
func (m *Manager) LogEvent(ctx context.Context, jobID uuid.UUID, level, message string, details map[string]any) {
	m.appendLog(ctx, jobID, level, message, details)
}

func (m *Manager) appendLog(ctx context.Context, jobID uuid.UUID, level, message string, details map[string]any) {
	entry := LogEntry{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Details:   details,
		CreatedAt: m.clock.Now(),
	}
	if err := m.logs.Append(ctx, entry); err != nil {
		// Log writes are best effort; losing one must not fail the job.
		m.logger.Warn("failed to append job log",
			zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

func (m *Manager) applyDefaults(cfg crawl.JobConfig) crawl.JobConfig {
	if cfg.MaxPages == 0 {
		cfg.MaxPages = m.defaults.MaxPages
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = m.defaults.MaxDepth
	}
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = m.defaults.RequestDelay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = m.defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = m.defaults.UserAgent
	}
	// Non-overridable policy fields.
	cfg.RespectRobots = true
	cfg.SameDomainOnly = true
	return cfg
}
