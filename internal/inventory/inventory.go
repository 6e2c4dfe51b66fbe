// Package inventory tracks the lifetime state of every URL discovered for a
// project, across crawl jobs.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of one URL record.
type State string

// Allowed states. Transitions follow
// DISCOVERED -> (PROCESSING) -> {CRAWLED | FAILED | BLOCKED_BY_POLICY};
// a terminal state only changes through MarkProcessing on a new crawl
// attempt.
const (
	StateDiscovered      State = "DISCOVERED"
	StateProcessing      State = "PROCESSING"
	StateCrawled         State = "CRAWLED"
	StateFailed          State = "FAILED"
	StateBlockedByPolicy State = "BLOCKED_BY_POLICY"
)

// ErrInvalidTransition is returned when a state write would violate the
// transition graph.
var ErrInvalidTransition = errors.New("invalid inventory state transition")

// Record is one URL's lifetime entry for a project.
type Record struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"project_id"`
	URL            string     `json:"url"`
	State          State      `json:"state"`
	Depth          int        `json:"depth"`
	DiscoveredFrom string     `json:"discovered_from,omitempty"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastCrawledAt  *time.Time `json:"last_crawled_at,omitempty"`
	LastCrawlJobID uuid.UUID  `json:"last_crawl_job_id"`
	HTTPStatus     int        `json:"http_status,omitempty"`
	ContentHash    string     `json:"content_hash,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// JobStats aggregates inventory and content counts for one job. The worker
// compares ContentStored against Crawled for the integrity check.
type JobStats struct {
	Discovered    int
	Crawled       int
	Failed        int
	ContentStored int
}

// Upsert describes a URL discovery to record.
type Upsert struct {
	ProjectID      uuid.UUID
	URL            string
	JobID          uuid.UUID
	Depth          int
	DiscoveredFrom string
}

// Store persists URL inventory records. Implementations must resolve
// concurrent upserts of the same (project, url) through the backing store's
// uniqueness guarantee, never by duplicating rows.
type Store interface {
	// Upsert inserts the URL as DISCOVERED if new. For an existing URL it
	// updates the owning job only, preserving state and depth.
	Upsert(ctx context.Context, up Upsert) (Record, error)
	// MarkProcessing flags the record as being fetched. It is the explicit
	// new crawl attempt that may leave a terminal state.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// MarkCrawled records a successful crawl. Callers must only invoke it
	// after the page's content has been durably persisted.
	MarkCrawled(ctx context.Context, id uuid.UUID, httpStatus int, contentHash string) error
	// MarkFailed records a page-level failure with a reason.
	MarkFailed(ctx context.Context, id uuid.UUID, httpStatus int, reason string) error
	// MarkBlocked records a policy exclusion.
	MarkBlocked(ctx context.Context, id uuid.UUID, reason string) error
	// GetByURL loads one record or returns crawl.ErrNotFound.
	GetByURL(ctx context.Context, projectID uuid.UUID, url string) (Record, error)
	// GetByJob lists every record last touched by the job.
	GetByJob(ctx context.Context, jobID uuid.UUID) ([]Record, error)
	// JobStats aggregates counts for the integrity check. Crawled counts
	// only records whose last crawl happened at or after since: a URL the
	// job re-discovered without re-fetching keeps an older timestamp and
	// stays out of the comparison.
	JobStats(ctx context.Context, jobID uuid.UUID, since time.Time) (JobStats, error)
}
