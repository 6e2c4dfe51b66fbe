package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type openResolver struct{}

func (openResolver) ResolveDomain(context.Context, uuid.UUID) (string, error) {
	return "example.com", nil
}

type emptyResolver struct{}

func (emptyResolver) ResolveDomain(_ context.Context, projectID uuid.UUID) (string, error) {
	return "", fmt.Errorf("project %s: %w", projectID, crawl.ErrNotFound)
}

func newTestManager() (*Manager, *MemoryStore, *fakeClock) {
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mgr := NewManager(store, store, openResolver{}, clock, Defaults{
		MaxPages:     100,
		MaxDepth:     3,
		RequestDelay: time.Second,
		Timeout:      30 * time.Second,
		UserAgent:    "seolens-crawler/1.0",
	}, zap.NewNop())
	return mgr, store, clock
}

func TestCreateJobIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, _ := newTestManager()
	projectID := uuid.New()

	first, err := mgr.CreateJob(ctx, projectID, crawl.JobConfig{MaxPages: 50}, "user")
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusPending, first.Status)

	// A second request while the first is active returns the same job.
	second, err := mgr.CreateJob(ctx, projectID, crawl.JobConfig{MaxPages: 10}, "user")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 50, second.Config.MaxPages)

	// Once the job reaches a terminal state a new one can be created.
	require.NoError(t, mgr.StartJob(ctx, first.ID))
	require.NoError(t, mgr.CompleteJob(ctx, first.ID, crawl.JobCounts{CrawledPages: 50}))

	third, err := mgr.CreateJob(ctx, projectID, crawl.JobConfig{MaxPages: 10}, "schedule")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateJobForcesPolicyFields(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager()
	job, err := mgr.CreateJob(context.Background(), uuid.New(), crawl.JobConfig{
		MaxPages:       10,
		RespectRobots:  false,
		SameDomainOnly: false,
	}, "user")
	require.NoError(t, err)
	assert.True(t, job.Config.RespectRobots)
	assert.True(t, job.Config.SameDomainOnly)
}

func TestCreateJobAppliesDefaults(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager()
	job, err := mgr.CreateJob(context.Background(), uuid.New(), crawl.JobConfig{}, "user")
	require.NoError(t, err)
	assert.Equal(t, 100, job.Config.MaxPages)
	assert.Equal(t, 3, job.Config.MaxDepth)
	assert.Equal(t, "seolens-crawler/1.0", job.Config.UserAgent)
}

func TestCreateJobValidation(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager()

	var verr *crawl.ValidationError
	_, err := mgr.CreateJob(context.Background(), uuid.Nil, crawl.JobConfig{MaxPages: 10}, "user")
	require.ErrorAs(t, err, &verr)

	_, err = mgr.CreateJob(context.Background(), uuid.New(), crawl.JobConfig{MaxPages: -1}, "user")
	require.ErrorAs(t, err, &verr)
}

func TestCreateJobRejectsUnknownProject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mgr := NewManager(store, store, emptyResolver{}, clock, Defaults{MaxPages: 100}, zap.NewNop())

	var verr *crawl.ValidationError
	_, err := mgr.CreateJob(ctx, uuid.New(), crawl.JobConfig{MaxPages: 10}, "user")
	require.ErrorAs(t, err, &verr)

	// Nothing was written: no pending row exists for a worker to pick up.
	_, err = store.NextPending(ctx)
	assert.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, clock := newTestManager()
	job, err := mgr.CreateJob(ctx, uuid.New(), crawl.JobConfig{MaxPages: 5}, "user")
	require.NoError(t, err)

	// Starting twice is rejected.
	require.NoError(t, mgr.StartJob(ctx, job.ID))
	assert.ErrorIs(t, mgr.StartJob(ctx, job.ID), ErrInvalidTransition)

	require.NoError(t, mgr.UpdateProgress(ctx, job.ID, crawl.ProgressUpdate{
		Progress: 40, CrawledPages: 2, TotalURLsDiscovered: 5,
	}))

	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, mgr.CompleteJob(ctx, job.ID, crawl.JobCounts{
		TotalURLsDiscovered: 5, CrawledPages: 5,
	}))

	got, err := mgr.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)

	// Cancelling a terminal job is an error.
	assert.ErrorIs(t, mgr.CancelJob(ctx, job.ID), ErrInvalidTransition)
}

func TestFailJobRecordsMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, _ := newTestManager()
	job, err := mgr.CreateJob(ctx, uuid.New(), crawl.JobConfig{MaxPages: 5}, "user")
	require.NoError(t, err)
	require.NoError(t, mgr.StartJob(ctx, job.ID))

	require.NoError(t, mgr.FailJob(ctx, job.ID, "content integrity violation"))

	got, err := mgr.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusFailed, got.Status)
	assert.Equal(t, "content integrity violation", got.ErrorMessage)

	logs, err := mgr.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "crawl failed", logs[len(logs)-1].Message)
}

func TestLogsOrderedByTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, clock := newTestManager()
	job, err := mgr.CreateJob(ctx, uuid.New(), crawl.JobConfig{MaxPages: 5}, "user")
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Second)
	require.NoError(t, mgr.StartJob(ctx, job.ID))
	clock.now = clock.now.Add(time.Second)
	mgr.LogEvent(ctx, job.ID, "debug", "skipped url", map[string]any{"url": "https://example.com/admin"})

	logs, err := mgr.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "crawl job created", logs[0].Message)
	assert.Equal(t, "crawl started", logs[1].Message)
	assert.Equal(t, "skipped url", logs[2].Message)
	assert.True(t, logs[0].CreatedAt.Before(logs[2].CreatedAt))
}
