package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/crawler/internal/crawl"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStoreWithConn(mock), mock
}

func recordRows(rec Record) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "project_id", "url", "state", "depth", "discovered_from",
		"first_seen_at", "last_crawled_at", "last_crawl_job_id", "http_status",
		"content_hash", "failure_reason",
	}).AddRow(
		rec.ID, rec.ProjectID, rec.URL, rec.State, rec.Depth, rec.DiscoveredFrom,
		rec.FirstSeenAt, rec.LastCrawledAt, rec.LastCrawlJobID, rec.HTTPStatus,
		rec.ContentHash, rec.FailureReason,
	)
}

func TestPostgresUpsertReturnsRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	projectID := uuid.New()
	jobID := uuid.New()
	want := Record{
		ID:             uuid.New(),
		ProjectID:      projectID,
		URL:            "https://example.com/a",
		State:          StateDiscovered,
		FirstSeenAt:    time.Unix(1700000000, 0).UTC(),
		LastCrawlJobID: jobID,
	}

	mock.ExpectQuery("INSERT INTO url_inventory").
		WithArgs(pgxmock.AnyArg(), projectID, want.URL, StateDiscovered, 0, "", jobID).
		WillReturnRows(recordRows(want))

	got, err := store.Upsert(context.Background(), Upsert{
		ProjectID: projectID,
		URL:       want.URL,
		JobID:     jobID,
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkCrawled(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE url_inventory").
		WithArgs(StateCrawled, 200, "hash-1", id, StateDiscovered, StateProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkCrawled(context.Background(), id, 200, "hash-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkCrawledOnTerminalState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE url_inventory").
		WithArgs(StateCrawled, 200, "hash-1", id, StateDiscovered, StateProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT state FROM url_inventory").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow(StateFailed))

	err := store.MarkCrawled(context.Background(), id, 200, "hash-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByURLNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	projectID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM url_inventory").
		WithArgs(projectID, "https://example.com/missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetByURL(context.Background(), projectID, "https://example.com/missing")
	assert.ErrorIs(t, err, crawl.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	jobID := uuid.New()
	since := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT").
		WithArgs(jobID, StateCrawled, StateFailed, since).
		WillReturnRows(pgxmock.NewRows([]string{"discovered", "crawled", "failed", "content_stored"}).
			AddRow(10, 7, 2, 7))

	stats, err := store.JobStats(context.Background(), jobID, since)
	require.NoError(t, err)
	assert.Equal(t, JobStats{Discovered: 10, Crawled: 7, Failed: 2, ContentStored: 7}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}
