// Package projects resolves project metadata needed by the crawl engine.
package projects

import (
	"context"
	"errors"
	"fmt"

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

// PostgresResolver reads project domains from the projects table.
type PostgresResolver struct {
	db dbConn
}

// NewPostgresResolver connects a pool and wraps it in a resolver.
func NewPostgresResolver(ctx context.Context, dsn string) (*PostgresResolver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &PostgresResolver{db: pool}, nil
}

// NewPostgresResolverWithConn wraps an existing connection (tests use pgxmock).
func NewPostgresResolverWithConn(db dbConn) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// ResolveDomain returns the domain registered for a project.
func (r *PostgresResolver) ResolveDomain(ctx context.Context, projectID uuid.UUID) (string, error) {
	var domain string
	err := r.db.QueryRow(ctx, `SELECT domain FROM projects WHERE id = $1;`, projectID).Scan(&domain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("project %s: %w", projectID, crawl.ErrNotFound)
		}
		return "", fmt.Errorf("resolve project domain: %w", err)
	}
	return domain, nil
}
