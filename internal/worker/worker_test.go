package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/blob"
	"github.com/seolens/crawler/internal/content"
	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/inventory"
	"github.com/seolens/crawler/internal/jobs"
	"github.com/seolens/crawler/internal/publisher"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// scriptedFetcher replays a fixed event sequence.
type scriptedFetcher struct {
	events    []crawl.Event
	summary   crawl.FetchSummary
	ch        chan crawl.Event
	stopped   atomic.Bool
	afterEach func(i int)
}

func newScriptedFetcher(events []crawl.Event, summary crawl.FetchSummary) *scriptedFetcher {
	return &scriptedFetcher{
		events:  events,
		summary: summary,
		ch:      make(chan crawl.Event),
	}
}

func (f *scriptedFetcher) Start(context.Context) (crawl.FetchSummary, error) {
	for i, ev := range f.events {
		if f.stopped.Load() {
			break
		}
		f.ch <- ev
		if f.afterEach != nil {
			f.afterEach(i)
		}
	}
	close(f.ch)
	return f.summary, nil
}

func (f *scriptedFetcher) Enqueue(string, int)        {}
func (f *scriptedFetcher) Events() <-chan crawl.Event { return f.ch }
func (f *scriptedFetcher) Stop()                      { f.stopped.Store(true) }

// fakeFactory hands out fetchers in order, one per executed job.
type fakeFactory struct {
	fetchers []crawl.PageFetcher
}

func (f *fakeFactory) New(crawl.Job, string) (crawl.PageFetcher, error) {
	next := f.fetchers[0]
	if len(f.fetchers) > 1 {
		f.fetchers = f.fetchers[1:]
	}
	return next, nil
}

type env struct {
	worker    *Worker
	manager   *jobs.Manager
	inventory *inventory.MemoryStore
	contents  *content.MemoryStore
	blobs     *blob.MemoryStore
	publisher *publisher.MemoryPublisher
	clock     *fakeClock
	projectID uuid.UUID
}

func newEnv(t *testing.T, fetchers ...crawl.PageFetcher) *env {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	contents := content.NewMemoryStore()
	inv := inventory.NewMemoryStore(contents, clock)
	jobStore := jobs.NewMemoryStore()
	projectID := uuid.New()
	resolver := StaticResolver{projectID: "example.com"}
	manager := jobs.NewManager(jobStore, jobStore, resolver, clock, jobs.Defaults{
		MaxPages: 100, MaxDepth: 3, UserAgent: "seolens-test",
	}, zap.NewNop())
	blobs := blob.NewMemoryStore()
	pub := publisher.NewMemory()

	w := New(Config{
		ProgressBatchSize: 1,
		AuditSampleSize:   5,
		CompletionTopic:   "crawl-completed",
	}, inv, contents, blobs, manager, resolver,
		&fakeFactory{fetchers: fetchers},
		pub, clock, zap.NewNop())

	return &env{
		worker:    w,
		manager:   manager,
		inventory: inv,
		contents:  contents,
		blobs:     blobs,
		publisher: pub,
		clock:     clock,
		projectID: projectID,
	}
}

func (e *env) createJob(t *testing.T, cfg crawl.JobConfig) crawl.Job {
	t.Helper()
	job, err := e.manager.CreateJob(context.Background(), e.projectID, cfg, "test")
	require.NoError(t, err)
	return job
}

func pageEvent(url string, depth int, links ...string) crawl.PageEvent {
	return crawl.PageEvent{Page: crawl.PageData{
		URL:        url,
		StatusCode: 200,
		Title:      "Page " + url,
		Links:      links,
		HTML:       []byte("<html><body>" + url + "</body></html>"),
		Depth:      depth,
	}}
}

func TestExecuteJobHappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0, "https://example.com/about", "https://example.com/pricing"),
		pageEvent("https://example.com/about", 1),
		pageEvent("https://example.com/pricing", 1),
	}, crawl.FetchSummary{
		TotalPages: 3, SuccessfulPages: 3,
		PageURLs: []string{"https://example.com", "https://example.com/about", "https://example.com/pricing"},
	})
	e := newEnv(t, fetcher)
	job := e.createJob(t, crawl.JobConfig{MaxPages: 3, StoreRawHTML: true})

	require.NoError(t, e.worker.ExecuteJob(ctx, job))

	got, err := e.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 3, got.Counts.CrawledPages)
	assert.Equal(t, 0, got.Counts.FailedPages)

	// Every crawled URL has a content row and a CRAWLED inventory state.
	for _, url := range []string{"https://example.com", "https://example.com/about", "https://example.com/pricing"} {
		rec, err := e.inventory.GetByURL(ctx, e.projectID, url)
		require.NoError(t, err)
		assert.Equal(t, inventory.StateCrawled, rec.State, url)
		assert.NotEmpty(t, rec.ContentHash)

		stored, err := e.contents.GetByURL(ctx, e.projectID, url)
		require.NoError(t, err)
		assert.Equal(t, rec.ContentHash, stored.ContentHash)
		assert.NotEmpty(t, stored.BlobURI)
	}

	// Completion is published with the representative sample.
	msgs := e.publisher.Messages()
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(CompletionPayload)
	require.True(t, ok)
	assert.Equal(t, job.ID.String(), payload.JobID)
	assert.Equal(t, 3, payload.Pages)
	assert.NotEmpty(t, payload.SampledURLs)
	assert.Equal(t, "https://example.com", payload.SampledURLs[0])
}

func TestExecuteJobPersistenceFailureFailsFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0),
		pageEvent("https://example.com/bad", 1),
		pageEvent("https://example.com/never", 1),
	}, crawl.FetchSummary{})
	e := newEnv(t, fetcher)
	e.contents.FailURLs = map[string]error{
		"https://example.com/bad": assert.AnError,
	}
	job := e.createJob(t, crawl.JobConfig{MaxPages: 10})

	err := e.worker.ExecuteJob(ctx, job)
	var perr *crawl.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "https://example.com/bad", perr.URL)

	// The failing URL is FAILED, never CRAWLED.
	rec, err := e.inventory.GetByURL(ctx, e.projectID, "https://example.com/bad")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFailed, rec.State)

	got, err := e.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "persist content")
}

type lyingCounter struct{}

func (lyingCounter) CountForJob(context.Context, uuid.UUID) (int, error) { return 0, nil }

func TestExecuteJobIntegrityBackstop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0),
	}, crawl.FetchSummary{SuccessfulPages: 1})
	e := newEnv(t, fetcher)
	// Rebuild the worker with an inventory whose content counter disagrees
	// with what was stored.
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	inv := inventory.NewMemoryStore(lyingCounter{}, clock)
	w := New(Config{ProgressBatchSize: 1}, inv, e.contents, nil, e.manager,
		StaticResolver{e.projectID: "example.com"},
		&fakeFactory{fetchers: []crawl.PageFetcher{fetcher}}, nil, clock, zap.NewNop())
	job := e.createJob(t, crawl.JobConfig{MaxPages: 10})

	err := w.ExecuteJob(ctx, job)
	var ierr *crawl.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 0, ierr.ContentStored)
	assert.Equal(t, 1, ierr.URLsCrawled)

	got, err := e.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "integrity")
}

func TestExecuteJobSkipsAreNotFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0),
		crawl.SkipEvent{URL: "https://example.com/admin", Reason: "excluded pattern"},
	}, crawl.FetchSummary{SuccessfulPages: 1, SkippedPages: 1})
	e := newEnv(t, fetcher)
	job := e.createJob(t, crawl.JobConfig{MaxPages: 10})

	require.NoError(t, e.worker.ExecuteJob(ctx, job))

	rec, err := e.inventory.GetByURL(ctx, e.projectID, "https://example.com/admin")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateBlockedByPolicy, rec.State)

	got, err := e.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusCompleted, got.Status)
	assert.Equal(t, 0, got.Counts.FailedPages)
	assert.Equal(t, 1, got.Counts.SkippedPages)
}

func TestExecuteJobFetchErrorsAreRecoverable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0),
		crawl.ErrorEvent{URL: "https://example.com/broken", StatusCode: 500, Err: assert.AnError},
		pageEvent("https://example.com/after", 1),
	}, crawl.FetchSummary{SuccessfulPages: 2, FailedPages: 1})
	e := newEnv(t, fetcher)
	job := e.createJob(t, crawl.JobConfig{MaxPages: 10})

	require.NoError(t, e.worker.ExecuteJob(ctx, job))

	rec, err := e.inventory.GetByURL(ctx, e.projectID, "https://example.com/broken")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFailed, rec.State)
	assert.Equal(t, 500, rec.HTTPStatus)

	got, err := e.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Counts.CrawledPages)
	assert.Equal(t, 1, got.Counts.FailedPages)
}

func TestExecuteJobRejectsConcurrentJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := make(chan struct{})
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0),
	}, crawl.FetchSummary{SuccessfulPages: 1})
	fetcher.afterEach = func(int) { <-gate }
	e := newEnv(t, fetcher)
	job := e.createJob(t, crawl.JobConfig{MaxPages: 10})

	done := make(chan error, 1)
	go func() { done <- e.worker.ExecuteJob(ctx, job) }()

	require.Eventually(t, e.worker.IsActive, time.Second, time.Millisecond)
	assert.ErrorIs(t, e.worker.ExecuteJob(ctx, job), crawl.ErrWorkerBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, e.worker.IsActive())
}

func TestStopCancelsJobAndPreservesInventory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0,
			"https://example.com/a", "https://example.com/b", "https://example.com/c"),
		pageEvent("https://example.com/a", 1),
		pageEvent("https://example.com/b", 1),
	}, crawl.FetchSummary{SuccessfulPages: 1})
	e := newEnv(t, fetcher)
	fetcher.afterEach = func(i int) {
		if i == 0 {
			e.worker.Stop()
		}
	}
	job := e.createJob(t, crawl.JobConfig{MaxPages: 10})

	require.NoError(t, e.worker.ExecuteJob(ctx, job))

	got, err := e.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusCancelled, got.Status)

	// Undispatched discoveries stay DISCOVERED for a future crawl to reuse.
	recA, err := e.inventory.GetByURL(ctx, e.projectID, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateDiscovered, recA.State)

	// A later crawl reuses the same inventory row.
	jobTwo := e.createJob(t, crawl.JobConfig{MaxPages: 10})
	require.NotEqual(t, job.ID, jobTwo.ID)
	reused, err := e.inventory.Upsert(ctx, inventory.Upsert{
		ProjectID: e.projectID, URL: "https://example.com/a", JobID: jobTwo.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, recA.ID, reused.ID)
	assert.Equal(t, jobTwo.ID, reused.LastCrawlJobID)
}

func TestResumedCrawlRediscoveryCompletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0, "https://example.com/a"),
		pageEvent("https://example.com/a", 1),
	}, crawl.FetchSummary{
		SuccessfulPages: 2,
		PageURLs:        []string{"https://example.com", "https://example.com/a"},
	})
	// The second run spends its page budget on the base page; /a is
	// re-discovered through the base page's link but never re-fetched.
	second := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0, "https://example.com/a"),
	}, crawl.FetchSummary{
		SuccessfulPages: 1,
		PageURLs:        []string{"https://example.com"},
	})
	e := newEnv(t, first, second)

	jobOne := e.createJob(t, crawl.JobConfig{MaxPages: 10})
	require.NoError(t, e.worker.ExecuteJob(ctx, jobOne))
	gotOne, err := e.manager.GetJob(ctx, jobOne.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCompleted, gotOne.Status)

	e.clock.now = e.clock.now.Add(time.Hour)
	jobTwo := e.createJob(t, crawl.JobConfig{MaxPages: 1})
	require.NotEqual(t, jobOne.ID, jobTwo.ID)
	require.NoError(t, e.worker.ExecuteJob(ctx, jobTwo))

	// The stale CRAWLED record for /a must not count against the second
	// job's integrity check.
	gotTwo, err := e.manager.GetJob(ctx, jobTwo.ID)
	require.NoError(t, err)
	assert.Equal(t, crawl.JobStatusCompleted, gotTwo.Status)
	assert.Equal(t, 1, gotTwo.Counts.CrawledPages)

	recA, err := e.inventory.GetByURL(ctx, e.projectID, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateCrawled, recA.State)
	assert.Equal(t, jobTwo.ID, recA.LastCrawlJobID)
}

func TestExecuteJobKeepsExternalLinksOutOfInventory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := newScriptedFetcher([]crawl.Event{
		pageEvent("https://example.com", 0,
			"https://example.com/about", "https://other.com/partner"),
	}, crawl.FetchSummary{SuccessfulPages: 1, PageURLs: []string{"https://example.com"}})
	e := newEnv(t, fetcher)
	job := e.createJob(t, crawl.JobConfig{MaxPages: 1})

	require.NoError(t, e.worker.ExecuteJob(ctx, job))

	// The content record keeps both sides of the split.
	stored, err := e.contents.GetByURL(ctx, e.projectID, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/about"}, stored.InternalLinks)
	assert.Equal(t, []string{"https://other.com/partner"}, stored.ExternalLinks)

	// Only the internal link was recorded as discovered.
	_, err = e.inventory.GetByURL(ctx, e.projectID, "https://example.com/about")
	require.NoError(t, err)
	_, err = e.inventory.GetByURL(ctx, e.projectID, "https://other.com/partner")
	assert.ErrorIs(t, err, crawl.ErrNotFound)
}
