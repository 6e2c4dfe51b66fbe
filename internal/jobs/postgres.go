package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seolens/crawler/internal/crawl"
)

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store and LogStore on the crawl_jobs and
// crawl_job_logs tables. The one-active-job constraint is the uq_active_job
// partial unique index; transition rules are enforced by conditional updates.
type PostgresStore struct {
	db dbConn
}

// NewPostgresStore connects a pool and wraps it in a store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

// NewPostgresStoreWithConn wraps an existing connection (tests use pgxmock).
func NewPostgresStoreWithConn(db dbConn) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, project_id, status, config, progress,
	total_urls_discovered, crawled_pages, failed_pages, skipped_pages,
	triggered_by, error_message, created_at, started_at, completed_at`

// CreatePending implements Store. The insert defers to the partial unique
// index: a second create for the same project inserts nothing, and the
// existing active job is read back instead.
func (s *PostgresStore) CreatePending(ctx context.Context, job crawl.Job) (crawl.Job, bool, error) {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return crawl.Job{}, false, fmt.Errorf("marshal job config: %w", err)
	}

	query := `
		INSERT INTO crawl_jobs
			(id, project_id, status, config, progress, total_urls_discovered,
			crawled_pages, failed_pages, skipped_pages, triggered_by,
			error_message, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, 0, 0, $5, '', $6)
		ON CONFLICT (project_id) WHERE status IN ('pending', 'running')
		DO NOTHING
		RETURNING ` + jobColumns + `;
	`
	inserted, err := s.scanJob(s.db.QueryRow(ctx, query,
		job.ID, job.ProjectID, crawl.JobStatusPending, cfg, job.TriggeredBy, job.CreatedAt))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawl.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	active, err := s.activeForProject(ctx, job.ProjectID)
	if err != nil {
		return crawl.Job{}, false, fmt.Errorf("read active job for project %s: %w", job.ProjectID, err)
	}
	return active, false, nil
}

func (s *PostgresStore) activeForProject(ctx context.Context, projectID uuid.UUID) (crawl.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM crawl_jobs
		WHERE project_id = $1 AND status IN ($2, $3);
	`
	job, err := s.scanJob(s.db.QueryRow(ctx, query, projectID,
		crawl.JobStatusPending, crawl.JobStatusRunning))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Job{}, crawl.ErrNotFound
		}
		return crawl.Job{}, err
	}
	return job, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (crawl.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1;`
	job, err := s.scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Job{}, crawl.ErrNotFound
		}
		return crawl.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextPending implements Store.
func (s *PostgresStore) NextPending(ctx context.Context) (crawl.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM crawl_jobs
		WHERE status = $1
		ORDER BY created_at
		LIMIT 1;
	`
	job, err := s.scanJob(s.db.QueryRow(ctx, query, crawl.JobStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Job{}, crawl.ErrNotFound
		}
		return crawl.Job{}, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

// Start implements Store.
func (s *PostgresStore) Start(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE crawl_jobs
		SET status = $1, progress = 0, started_at = $2
		WHERE id = $3 AND status = $4;
	`
	tag, err := s.db.Exec(ctx, query, crawl.JobStatusRunning, at, id, crawl.JobStatusPending)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// UpdateProgress implements Store.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, upd crawl.ProgressUpdate) error {
	query := `
		UPDATE crawl_jobs
		SET progress = $1, total_urls_discovered = $2, crawled_pages = $3,
			failed_pages = $4, skipped_pages = $5
		WHERE id = $6 AND status = $7;
	`
	tag, err := s.db.Exec(ctx, query,
		upd.Progress, upd.TotalURLsDiscovered, upd.CrawledPages,
		upd.FailedPages, upd.SkippedPages, id, crawl.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, counts crawl.JobCounts, at time.Time) error {
	query := `
		UPDATE crawl_jobs
		SET status = $1, progress = 100, total_urls_discovered = $2,
			crawled_pages = $3, failed_pages = $4, skipped_pages = $5,
			completed_at = $6
		WHERE id = $7 AND status = $8;
	`
	tag, err := s.db.Exec(ctx, query,
		crawl.JobStatusCompleted, counts.TotalURLsDiscovered, counts.CrawledPages,
		counts.FailedPages, counts.SkippedPages, at, id, crawl.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// Fail implements Store.
func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return s.terminate(ctx, id, crawl.JobStatusFailed, message, at)
}

// Cancel implements Store.
func (s *PostgresStore) Cancel(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.terminate(ctx, id, crawl.JobStatusCancelled, "", at)
}

func (s *PostgresStore) terminate(ctx context.Context, id uuid.UUID, to crawl.JobStatus, message string, at time.Time) error {
	query := `
		UPDATE crawl_jobs
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4 AND status IN ($5, $6);
	`
	tag, err := s.db.Exec(ctx, query, to, message, at, id,
		crawl.JobStatusPending, crawl.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("terminate job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// transitionError distinguishes a missing job from a disallowed transition
// after a conditional update touched zero rows.
func (s *PostgresStore) transitionError(ctx context.Context, id uuid.UUID) error {
	var status crawl.JobStatus
	err := s.db.QueryRow(ctx, `SELECT status FROM crawl_jobs WHERE id = $1;`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.ErrNotFound
		}
		return fmt.Errorf("read job status: %w", err)
	}
	return fmt.Errorf("job is %s: %w", status, ErrInvalidTransition)
}

func (s *PostgresStore) scanJob(row pgx.Row) (crawl.Job, error) {
	var (
		job crawl.Job
		cfg []byte
	)
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.Status, &cfg, &job.Progress,
		&job.Counts.TotalURLsDiscovered, &job.Counts.CrawledPages,
		&job.Counts.FailedPages, &job.Counts.SkippedPages,
		&job.TriggeredBy, &job.ErrorMessage, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return crawl.Job{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &job.Config); err != nil {
			return crawl.Job{}, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	return job, nil
}

// Append implements LogStore.
func (s *PostgresStore) Append(ctx context.Context, entry LogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}
	query := `
		INSERT INTO crawl_job_logs (job_id, level, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.db.Exec(ctx, query, entry.JobID, entry.Level, entry.Message, details, entry.CreatedAt); err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// ListByJob implements LogStore.
func (s *PostgresStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, job_id, level, message, details, created_at
		FROM crawl_job_logs
		WHERE job_id = $1
		ORDER BY created_at, id;
	`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry   LogEntry
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal log details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job logs: %w", err)
	}
	return entries, nil
}
