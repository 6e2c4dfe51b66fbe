package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
)

// PendingSource yields jobs waiting for execution.
type PendingSource interface {
	NextPending(ctx context.Context) (crawl.Job, error)
}

// Dispatcher polls for pending jobs and runs them on the worker, oldest
// first. It is the single execution path: API-triggered and scheduled jobs
// both land here as pending rows.
type Dispatcher struct {
	source   PendingSource
	worker   *Worker
	interval time.Duration
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(source PendingSource, w *Worker, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		source:   source,
		worker:   w,
		interval: interval,
		logger:   logger.Named("dispatcher"),
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs the oldest pending job, if any. The worker executes one job at a
// time; remaining pending jobs wait for the next tick.
func (d *Dispatcher) Tick(ctx context.Context) {
	if d.worker.IsActive() {
		return
	}
	job, err := d.source.NextPending(ctx)
	if err != nil {
		if !errors.Is(err, crawl.ErrNotFound) {
			d.logger.Warn("poll pending jobs", zap.Error(err))
		}
		return
	}
	if err := d.worker.ExecuteJob(ctx, job); err != nil && !errors.Is(err, crawl.ErrWorkerBusy) {
		d.logger.Warn("dispatched job ended with error",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}
