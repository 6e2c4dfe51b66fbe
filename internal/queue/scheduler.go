package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
)

// JobCreator creates (or idempotently returns) a crawl job for a project.
type JobCreator interface {
	CreateJob(ctx context.Context, projectID uuid.UUID, cfg crawl.JobConfig, triggeredBy string) (crawl.Job, error)
}

// Scheduler polls the queue for due items and turns them into pending crawl
// jobs; the worker dispatcher picks those up for execution. Duplicate
// schedules for a project collapse onto the same job because creation is
// idempotent.
type Scheduler struct {
	store     Store
	creator   JobCreator
	clock     crawl.Clock
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewScheduler constructs a Scheduler.
func NewScheduler(store Store, creator JobCreator, clock crawl.Clock, interval time.Duration, batchSize int, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Scheduler{
		store:     store,
		creator:   creator,
		clock:     clock,
		logger:    logger.Named("scheduler"),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims and processes one batch of due items.
func (s *Scheduler) Tick(ctx context.Context) {
	items, err := s.store.ClaimDue(ctx, s.clock.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("failed to claim due queue items", zap.Error(err))
		return
	}
	for _, item := range items {
		s.process(ctx, item)
	}
}

func (s *Scheduler) process(ctx context.Context, item Item) {
	job, err := s.creator.CreateJob(ctx, item.ProjectID, crawl.JobConfig{}, "schedule")
	if err != nil {
		s.logger.Error("failed to create job for queue item",
			zap.String("item_id", item.ID.String()),
			zap.String("project_id", item.ProjectID.String()),
			zap.Error(err))
		s.markFailed(ctx, item)
		return
	}

	if err := s.store.MarkCompleted(ctx, item.ID, job.ID); err != nil {
		s.logger.Error("failed to mark queue item completed",
			zap.String("item_id", item.ID.String()), zap.Error(err))
	}
}

func (s *Scheduler) markFailed(ctx context.Context, item Item) {
	if err := s.store.MarkFailed(ctx, item.ID); err != nil {
		s.logger.Error("failed to mark queue item failed",
			zap.String("item_id", item.ID.String()), zap.Error(err))
	}
}
