// Package queue schedules deferred and recurring crawls. A queue item links a
// project to a crawl job that may not exist yet; the scheduler turns due
// items into jobs.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Item status values.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Item is one scheduled crawl request.
type Item struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Priority     int        `json:"priority"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	CrawlJobID   *uuid.UUID `json:"crawl_job_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Store persists queue items. ClaimDue must be safe for concurrent schedulers:
// an item is handed to at most one claimer.
type Store interface {
	Enqueue(ctx context.Context, item Item) (Item, error)
	// ClaimDue atomically moves up to limit due pending items to processing
	// and returns them, highest priority first.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Item, error)
	MarkCompleted(ctx context.Context, id, jobID uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}
