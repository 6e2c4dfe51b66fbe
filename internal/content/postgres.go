package content

import (
	"context"
	"encoding/json"
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

// PostgresStore implements Store on the page_content table.
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

// StoreContent implements Store. Re-crawled pages overwrite the previous row
// for the same (project, url).
func (s *PostgresStore) StoreContent(ctx context.Context, rec Normalized) (Normalized, error) {
	headings, err := json.Marshal(rec.Headings)
	if err != nil {
		return Normalized{}, fmt.Errorf("marshal headings: %w", err)
	}
	internalLinks, err := json.Marshal(rec.InternalLinks)
	if err != nil {
		return Normalized{}, fmt.Errorf("marshal internal links: %w", err)
	}
	externalLinks, err := json.Marshal(rec.ExternalLinks)
	if err != nil {
		return Normalized{}, fmt.Errorf("marshal external links: %w", err)
	}
	images, err := json.Marshal(rec.Images)
	if err != nil {
		return Normalized{}, fmt.Errorf("marshal images: %w", err)
	}
	structured, err := json.Marshal(rec.StructuredData)
	if err != nil {
		return Normalized{}, fmt.Errorf("marshal structured data: %w", err)
	}

	query := `
		INSERT INTO page_content
			(id, project_id, url, title, meta_description, headings,
			internal_links, external_links, images, structured_data,
			content_hash, blob_uri, crawl_job_id, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (project_id, url) DO UPDATE
		SET title = EXCLUDED.title,
			meta_description = EXCLUDED.meta_description,
			headings = EXCLUDED.headings,
			internal_links = EXCLUDED.internal_links,
			external_links = EXCLUDED.external_links,
			images = EXCLUDED.images,
			structured_data = EXCLUDED.structured_data,
			content_hash = EXCLUDED.content_hash,
			blob_uri = EXCLUDED.blob_uri,
			crawl_job_id = EXCLUDED.crawl_job_id,
			fetched_at = EXCLUDED.fetched_at;
	`
	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.ProjectID, rec.URL, rec.Title, rec.MetaDescription,
		headings, internalLinks, externalLinks, images, structured,
		rec.ContentHash, rec.BlobURI, rec.CrawlJobID, rec.FetchedAt)
	if err != nil {
		return Normalized{}, fmt.Errorf("store page content: %w", err)
	}
	return rec, nil
}

// GetByURL implements Store.
func (s *PostgresStore) GetByURL(ctx context.Context, projectID uuid.UUID, url string) (Normalized, error) {
	query := `
		SELECT id, project_id, url, title, meta_description, headings,
			internal_links, external_links, images, structured_data,
			content_hash, blob_uri, crawl_job_id, fetched_at
		FROM page_content
		WHERE project_id = $1 AND url = $2;
	`
	var (
		rec           Normalized
		headings      []byte
		internalLinks []byte
		externalLinks []byte
		images        []byte
		structured    []byte
	)
	err := s.db.QueryRow(ctx, query, projectID, url).Scan(
		&rec.ID, &rec.ProjectID, &rec.URL, &rec.Title, &rec.MetaDescription,
		&headings, &internalLinks, &externalLinks, &images, &structured,
		&rec.ContentHash, &rec.BlobURI, &rec.CrawlJobID, &rec.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Normalized{}, crawl.ErrNotFound
		}
		return Normalized{}, fmt.Errorf("get page content: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{headings, &rec.Headings},
		{internalLinks, &rec.InternalLinks},
		{externalLinks, &rec.ExternalLinks},
		{images, &rec.Images},
		{structured, &rec.StructuredData},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return Normalized{}, fmt.Errorf("unmarshal page content field: %w", err)
		}
	}
	return rec, nil
}

// CountForJob implements Store.
func (s *PostgresStore) CountForJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM page_content WHERE crawl_job_id = $1;`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count content for job: %w", err)
	}
	return count, nil
}
