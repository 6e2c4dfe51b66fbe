// Package jobs owns the crawl job lifecycle: the authoritative state machine
// for a job and the single place enforcing one active job per project.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/seolens/crawler/internal/crawl"
)

// ErrInvalidTransition is returned when a lifecycle operation is attempted
// from a status that does not permit it.
var ErrInvalidTransition = errors.New("invalid job status transition")

// LogEntry is one append-only job log line.
type LogEntry struct {
	ID        int64          `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists crawl jobs. Implementations must enforce the one-active-job
// constraint and the status transition rules at the data layer, not just
// in-process.
type Store interface {
	// CreatePending inserts the job unless the project already has a job in a
	// non-terminal status. It returns the authoritative job row and whether a
	// new row was created.
	CreatePending(ctx context.Context, job crawl.Job) (crawl.Job, bool, error)
	Get(ctx context.Context, id uuid.UUID) (crawl.Job, error)
	// NextPending returns the oldest pending job, or ErrNotFound when none
	// are waiting.
	NextPending(ctx context.Context) (crawl.Job, error)
	// Start transitions pending -> running and resets progress to zero.
	Start(ctx context.Context, id uuid.UUID, at time.Time) error
	// UpdateProgress writes the worker's counters; only valid while running.
	UpdateProgress(ctx context.Context, id uuid.UUID, upd crawl.ProgressUpdate) error
	// Complete transitions running -> completed with progress pinned to 100.
	Complete(ctx context.Context, id uuid.UUID, counts crawl.JobCounts, at time.Time) error
	// Fail transitions pending/running -> failed with an error message.
	Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	// Cancel transitions pending/running -> cancelled.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) error
}

// LogStore appends and reads per-job log entries.
type LogStore interface {
	Append(ctx context.Context, entry LogEntry) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error)
}
