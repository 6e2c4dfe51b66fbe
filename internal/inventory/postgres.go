package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seolens/crawler/internal/crawl"
)

// dbConn is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on the url_inventory table.
type PostgresStore struct {
	db dbConn
}

// NewPostgresStore connects a pool and wraps it in a Store.
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

const recordColumns = `id, project_id, url, state, depth, discovered_from,
	first_seen_at, last_crawled_at, last_crawl_job_id, http_status,
	content_hash, failure_reason`

// Upsert implements Store using the table's unique (project_id, url)
// constraint so concurrent discovery of the same link never duplicates rows.
func (s *PostgresStore) Upsert(ctx context.Context, up Upsert) (Record, error) {
	query := `
		INSERT INTO url_inventory
			(id, project_id, url, state, depth, discovered_from, first_seen_at, last_crawl_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		ON CONFLICT (project_id, url) DO UPDATE
		SET last_crawl_job_id = EXCLUDED.last_crawl_job_id
		RETURNING ` + recordColumns + `;
	`
	row := s.db.QueryRow(ctx, query,
		uuid.New(), up.ProjectID, up.URL, StateDiscovered, up.Depth, up.DiscoveredFrom, up.JobID)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("upsert url inventory: %w", err)
	}
	return rec, nil
}

// MarkProcessing implements Store. It is the one transition allowed to leave
// a terminal state, since it represents a fresh crawl attempt.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE url_inventory SET state = $1 WHERE id = $2;`, StateProcessing, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}
	return nil
}

// MarkCrawled implements Store.
func (s *PostgresStore) MarkCrawled(ctx context.Context, id uuid.UUID, httpStatus int, contentHash string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE url_inventory
		SET state = $1, http_status = $2, content_hash = $3,
			last_crawled_at = now(), failure_reason = ''
		WHERE id = $4 AND state IN ($5, $6);`,
		StateCrawled, httpStatus, contentHash, id, StateDiscovered, StateProcessing)
	if err != nil {
		return fmt.Errorf("mark crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// MarkFailed implements Store.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, httpStatus int, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE url_inventory
		SET state = $1, http_status = $2, failure_reason = $3
		WHERE id = $4 AND state IN ($5, $6);`,
		StateFailed, httpStatus, reason, id, StateDiscovered, StateProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// MarkBlocked implements Store.
func (s *PostgresStore) MarkBlocked(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE url_inventory
		SET state = $1, failure_reason = $2
		WHERE id = $3 AND state IN ($4, $5);`,
		StateBlockedByPolicy, reason, id, StateDiscovered, StateProcessing)
	if err != nil {
		return fmt.Errorf("mark blocked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// GetByURL implements Store.
func (s *PostgresStore) GetByURL(ctx context.Context, projectID uuid.UUID, url string) (Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM url_inventory WHERE project_id = $1 AND url = $2;`,
		projectID, url)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, crawl.ErrNotFound
		}
		return Record{}, fmt.Errorf("get url by url: %w", err)
	}
	return rec, nil
}

// GetByJob implements Store.
func (s *PostgresStore) GetByJob(ctx context.Context, jobID uuid.UUID) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM url_inventory WHERE last_crawl_job_id = $1 ORDER BY first_seen_at;`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list urls by job: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate url records: %w", err)
	}
	return out, nil
}

// JobStats implements Store. Content rows are counted in the same query so
// the integrity comparison reads one consistent snapshot.
func (s *PostgresStore) JobStats(ctx context.Context, jobID uuid.UUID, since time.Time) (JobStats, error) {
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE state = $2 AND last_crawled_at >= $4),
			count(*) FILTER (WHERE state = $3),
			(SELECT count(*) FROM page_content WHERE crawl_job_id = $1)
		FROM url_inventory
		WHERE last_crawl_job_id = $1;
	`
	var stats JobStats
	err := s.db.QueryRow(ctx, query, jobID, StateCrawled, StateFailed, since).
		Scan(&stats.Discovered, &stats.Crawled, &stats.Failed, &stats.ContentStored)
	if err != nil {
		return JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// transitionError distinguishes a missing row from a terminal-state write.
func (s *PostgresStore) transitionError(ctx context.Context, id uuid.UUID) error {
	var state State
	err := s.db.QueryRow(ctx, `SELECT state FROM url_inventory WHERE id = $1;`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load state for transition check: %w", err)
	}
	return fmt.Errorf("%w: record %s is %s", ErrInvalidTransition, id, state)
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.URL,
		&rec.State,
		&rec.Depth,
		&rec.DiscoveredFrom,
		&rec.FirstSeenAt,
		&rec.LastCrawledAt,
		&rec.LastCrawlJobID,
		&rec.HTTPStatus,
		&rec.ContentHash,
		&rec.FailureReason,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
