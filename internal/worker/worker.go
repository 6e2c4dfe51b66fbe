// Package worker drives one crawl job end-to-end: it seeds the inventory,
// runs the page fetcher, persists content, and enforces the content-integrity
// invariant before a job may complete.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/blob"
	"github.com/seolens/crawler/internal/content"
	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/inventory"
	"github.com/seolens/crawler/internal/linkext"
	"github.com/seolens/crawler/internal/telemetry"
)

// Lifecycle is the slice of the job manager the worker drives.
type Lifecycle interface {
	StartJob(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, upd crawl.ProgressUpdate) error
	CompleteJob(ctx context.Context, id uuid.UUID, counts crawl.JobCounts) error
	FailJob(ctx context.Context, id uuid.UUID, message string) error
	CancelJob(ctx context.Context, id uuid.UUID) error
	LogEvent(ctx context.Context, jobID uuid.UUID, level, message string, details map[string]any)
}

// DomainResolver maps a project to the domain it crawls.
type DomainResolver interface {
	ResolveDomain(ctx context.Context, projectID uuid.UUID) (string, error)
}

// StaticResolver resolves domains from a fixed table.
type StaticResolver map[uuid.UUID]string

// ResolveDomain implements DomainResolver.
func (r StaticResolver) ResolveDomain(_ context.Context, projectID uuid.UUID) (string, error) {
	domain, ok := r[projectID]
	if !ok {
		return "", fmt.Errorf("project %s: %w", projectID, crawl.ErrNotFound)
	}
	return domain, nil
}

// FetcherFactory builds one page fetcher per crawl session.
type FetcherFactory interface {
	New(job crawl.Job, baseURL string) (crawl.PageFetcher, error)
}

// Config tunes worker behavior.
type Config struct {
	// ProgressBatchSize is how many processed pages trigger a progress
	// report.
	ProgressBatchSize int
	// AuditSampleSize caps the representative pages in the completion
	// payload.
	AuditSampleSize int
	// CompletionTopic receives the completion payload; empty disables
	// publishing.
	CompletionTopic string
}

// Worker executes crawl jobs one at a time. It is the sole caller of
// MarkCrawled, and only ever after content persistence succeeded.
type Worker struct {
	cfg       Config
	inventory inventory.Store
	contents  content.Store
	blobs     blob.Store
	lifecycle Lifecycle
	resolver  DomainResolver
	fetchers  FetcherFactory
	publisher crawl.Publisher
	clock     crawl.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	active  bool
	stopped bool
	fetcher crawl.PageFetcher
}

// New constructs a Worker. blobs and publisher may be nil to disable raw HTML
// persistence and completion publishing.
func New(cfg Config, inv inventory.Store, contents content.Store, blobs blob.Store,
	lifecycle Lifecycle, resolver DomainResolver, fetchers FetcherFactory,
	pub crawl.Publisher, clock crawl.Clock, logger *zap.Logger) *Worker {
	if cfg.ProgressBatchSize <= 0 {
		cfg.ProgressBatchSize = 10
	}
	if cfg.AuditSampleSize <= 0 {
		cfg.AuditSampleSize = 10
	}
	return &Worker{
		cfg:       cfg,
		inventory: inv,
		contents:  contents,
		blobs:     blobs,
		lifecycle: lifecycle,
		resolver:  resolver,
		fetchers:  fetchers,
		publisher: pub,
		clock:     clock,
		logger:    logger.Named("worker"),
	}
}

// IsActive reports whether a job is currently executing.
func (w *Worker) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Stop requests a cooperative shutdown of the running job. In-flight page
// processing finishes; the job ends cancelled, not failed.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return
	}
	w.stopped = true
	if w.fetcher != nil {
		w.fetcher.Stop()
	}
}

// session carries the mutable state of one job execution.
type session struct {
	job        crawl.Job
	baseDomain string
	startedAt  time.Time

	crawled      int
	failed       int
	skipped      int
	discovered   map[string]struct{}
	lastProgress int
	fatal        error
	aborted      bool
}

// ExecuteJob runs one job to a terminal status. It returns ErrWorkerBusy if a
// job is already executing on this worker.
func (w *Worker) ExecuteJob(ctx context.Context, job crawl.Job) error {
	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		return crawl.ErrWorkerBusy
	}
	w.active = true
	w.stopped = false
	w.mu.Unlock()

	telemetry.IncActiveWorkers()
	defer func() {
		telemetry.DecActiveWorkers()
		w.mu.Lock()
		w.active = false
		w.fetcher = nil
		w.mu.Unlock()
	}()

	err := w.execute(ctx, job)
	if err != nil {
		w.logger.Warn("job ended with error",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	return err
}

func (w *Worker) execute(ctx context.Context, job crawl.Job) error {
	domain, err := w.resolver.ResolveDomain(ctx, job.ProjectID)
	if err != nil {
		failErr := fmt.Errorf("resolve project domain: %w", err)
		if ferr := w.lifecycle.FailJob(ctx, job.ID, failErr.Error()); ferr != nil {
			w.logger.Error("failed to mark job failed", zap.Error(ferr))
		}
		return failErr
	}
	baseURL := domain
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	normalizedBase, err := linkext.Normalize(baseURL)
	if err != nil {
		failErr := fmt.Errorf("invalid project domain %q: %w", domain, err)
		if ferr := w.lifecycle.FailJob(ctx, job.ID, failErr.Error()); ferr != nil {
			w.logger.Error("failed to mark job failed", zap.Error(ferr))
		}
		return failErr
	}

	sess := &session{
		job:        job,
		baseDomain: domain,
		startedAt:  w.clock.Now(),
		discovered: make(map[string]struct{}),
	}

	// Seed the base URL so the inventory always knows the crawl root.
	if _, err := w.inventory.Upsert(ctx, inventory.Upsert{
		ProjectID: job.ProjectID,
		URL:       normalizedBase,
		JobID:     job.ID,
	}); err != nil {
		failErr := fmt.Errorf("seed base url: %w", err)
		if ferr := w.lifecycle.FailJob(ctx, job.ID, failErr.Error()); ferr != nil {
			w.logger.Error("failed to mark job failed", zap.Error(ferr))
		}
		return failErr
	}
	sess.discovered[normalizedBase] = struct{}{}

	if err := w.lifecycle.StartJob(ctx, job.ID); err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	fetcher, err := w.fetchers.New(job, normalizedBase)
	if err != nil {
		failErr := fmt.Errorf("build fetcher: %w", err)
		if ferr := w.lifecycle.FailJob(ctx, job.ID, failErr.Error()); ferr != nil {
			w.logger.Error("failed to mark job failed", zap.Error(ferr))
		}
		return failErr
	}
	w.mu.Lock()
	w.fetcher = fetcher
	w.mu.Unlock()

	summaryCh := make(chan crawl.FetchSummary, 1)
	go func() {
		summary, startErr := fetcher.Start(ctx)
		if startErr != nil && !errors.Is(startErr, context.Canceled) {
			w.logger.Warn("fetch session ended abnormally",
				zap.String("job_id", job.ID.String()), zap.Error(startErr))
		}
		summaryCh <- summary
	}()

	for event := range fetcher.Events() {
		w.handleEvent(ctx, sess, event)
		if sess.fatal != nil && !sess.aborted {
			// Fail fast: no point fetching pages we will not keep.
			sess.aborted = true
			fetcher.Stop()
		}
	}
	summary := <-summaryCh

	return w.finish(ctx, sess, summary)
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}
