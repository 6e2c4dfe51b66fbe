package queue

import (
	"context"
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

// PostgresStore implements Store on the crawl_queue table. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent schedulers never grab the same item.
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

// Enqueue implements Store.
func (s *PostgresStore) Enqueue(ctx context.Context, item Item) (Item, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO crawl_queue (id, project_id, priority, scheduled_for, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.db.Exec(ctx, query,
		item.ID, item.ProjectID, item.Priority, item.ScheduledFor, item.Status, item.CreatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("enqueue crawl: %w", err)
	}
	return item, nil
}

// ClaimDue implements Store.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	query := `
		WITH due AS (
			SELECT id FROM crawl_queue
			WHERE status = $1 AND scheduled_for <= $2
			ORDER BY priority DESC, scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE crawl_queue q
		SET status = $4
		FROM due
		WHERE q.id = due.id
		RETURNING q.id, q.project_id, q.priority, q.scheduled_for, q.status,
			q.crawl_job_id, q.created_at;
	`
	rows, err := s.db.Query(ctx, query, StatusPending, now, limit, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("claim due queue items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Priority,
			&item.ScheduledFor, &item.Status, &item.CrawlJobID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

// MarkCompleted implements Store.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id, jobID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE crawl_queue SET status = $1, crawl_job_id = $2 WHERE id = $3;`,
		StatusCompleted, jobID, id)
	if err != nil {
		return fmt.Errorf("mark queue item completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}
	return nil
}

// MarkFailed implements Store.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE crawl_queue SET status = $1 WHERE id = $2;`, StatusFailed, id)
	if err != nil {
		return fmt.Errorf("mark queue item failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}
	return nil
}
