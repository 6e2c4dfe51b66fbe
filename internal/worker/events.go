package worker

import (
	"bytes"
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/blob"
	"github.com/seolens/crawler/internal/content"
	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/inventory"
)

func (w *Worker) handleEvent(ctx context.Context, sess *session, event crawl.Event) {
	switch ev := event.(type) {
	case crawl.PageEvent:
		w.handlePage(ctx, sess, ev.Page)
	case crawl.ErrorEvent:
		w.handleError(ctx, sess, ev)
	case crawl.SkipEvent:
		w.handleSkip(ctx, sess, ev)
	}
	w.maybeReportProgress(ctx, sess)
}

// handlePage runs the persistence pipeline for one fetched page: record the
// URL, write the blob and the content row, and only then mark it crawled. A
// persistence failure marks the URL failed and becomes fatal for the job.
func (w *Worker) handlePage(ctx context.Context, sess *session, page crawl.PageData) {
	if sess.fatal != nil {
		return
	}
	job := sess.job

	rec, err := w.inventory.Upsert(ctx, inventory.Upsert{
		ProjectID: job.ProjectID,
		URL:       page.URL,
		JobID:     job.ID,
		Depth:     page.Depth,
	})
	if err != nil {
		sess.fatal = &crawl.PersistenceError{URL: page.URL, Err: err}
		return
	}
	if err := w.inventory.MarkProcessing(ctx, rec.ID); err != nil {
		sess.fatal = &crawl.PersistenceError{URL: page.URL, Err: err}
		return
	}

	normalized := content.Normalize(job.ProjectID, job.ID, page, sess.baseDomain, w.clock.Now())
	w.recordDiscoveredLinks(ctx, sess, page, normalized.InternalLinks)

	if w.blobs != nil && job.Config.StoreRawHTML && len(page.HTML) > 0 {
		path := blob.PagePath(job.ProjectID.String(), job.ID.String(), normalized.ID.String())
		uri, err := w.blobs.PutObject(ctx, path, "text/html", bytes.NewReader(page.HTML))
		if err != nil {
			w.failPage(ctx, sess, rec, page, err)
			return
		}
		normalized.BlobURI = uri
	}

	if _, err := w.contents.StoreContent(ctx, normalized); err != nil {
		w.failPage(ctx, sess, rec, page, err)
		return
	}

	// The content row is durable; only now may the URL be marked crawled.
	if err := w.inventory.MarkCrawled(ctx, rec.ID, page.StatusCode, normalized.ContentHash); err != nil {
		sess.fatal = &crawl.PersistenceError{URL: page.URL, Err: err}
		return
	}
	sess.crawled++
}

// failPage records a persistence failure: the URL goes to FAILED, never
// CRAWLED, and the job aborts.
func (w *Worker) failPage(ctx context.Context, sess *session, rec inventory.Record, page crawl.PageData, cause error) {
	perr := &crawl.PersistenceError{URL: page.URL, Err: cause}
	if err := w.inventory.MarkFailed(ctx, rec.ID, page.StatusCode, "content persistence failed"); err != nil {
		w.logger.Error("failed to mark url failed after persistence error",
			zap.String("url", page.URL), zap.Error(err))
	}
	sess.failed++
	sess.fatal = perr
	w.lifecycle.LogEvent(ctx, sess.job.ID, "error", "content persistence failed", map[string]any{
		"url":   page.URL,
		"error": cause.Error(),
	})
}

// recordDiscoveredLinks upserts every internal link so jobStats sees the
// full discovery set; external links stay on the content record only.
// Failures here are logged, not fatal: the link will be re-discovered when
// its own fetch event arrives.
func (w *Worker) recordDiscoveredLinks(ctx context.Context, sess *session, page crawl.PageData, links []string) {
	for _, link := range links {
		if _, seen := sess.discovered[link]; seen {
			continue
		}
		sess.discovered[link] = struct{}{}
		if _, err := w.inventory.Upsert(ctx, inventory.Upsert{
			ProjectID:      sess.job.ProjectID,
			URL:            link,
			JobID:          sess.job.ID,
			Depth:          page.Depth + 1,
			DiscoveredFrom: page.URL,
		}); err != nil {
			w.logger.Warn("failed to record discovered link",
				zap.String("url", link), zap.Error(err))
		}
	}
}

// handleError marks the URL failed. Page-level fetch errors are expected and
// recoverable; the crawl continues.
func (w *Worker) handleError(ctx context.Context, sess *session, ev crawl.ErrorEvent) {
	sess.failed++
	rec, err := w.inventory.Upsert(ctx, inventory.Upsert{
		ProjectID: sess.job.ProjectID,
		URL:       ev.URL,
		JobID:     sess.job.ID,
	})
	if err != nil {
		w.logger.Warn("failed to record failed url", zap.String("url", ev.URL), zap.Error(err))
		return
	}
	if err := w.inventory.MarkProcessing(ctx, rec.ID); err == nil {
		reason := "fetch error"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		if err := w.inventory.MarkFailed(ctx, rec.ID, ev.StatusCode, reason); err != nil {
			w.logger.Warn("failed to mark url failed", zap.String("url", ev.URL), zap.Error(err))
		}
	}
	details := map[string]any{"url": ev.URL, "status_code": ev.StatusCode}
	if ev.Err != nil {
		details["error"] = ev.Err.Error()
	}
	w.lifecycle.LogEvent(ctx, sess.job.ID, "warn", "page fetch failed", details)
}

// handleSkip records a policy exclusion. Skips count toward neither crawled
// nor failed pages.
func (w *Worker) handleSkip(ctx context.Context, sess *session, ev crawl.SkipEvent) {
	sess.skipped++
	rec, err := w.inventory.Upsert(ctx, inventory.Upsert{
		ProjectID: sess.job.ProjectID,
		URL:       ev.URL,
		JobID:     sess.job.ID,
	})
	if err != nil {
		w.logger.Warn("failed to record skipped url", zap.String("url", ev.URL), zap.Error(err))
		return
	}
	if err := w.inventory.MarkBlocked(ctx, rec.ID, ev.Reason); err != nil &&
		!errors.Is(err, inventory.ErrInvalidTransition) {
		w.logger.Warn("failed to mark url blocked", zap.String("url", ev.URL), zap.Error(err))
	}
	w.lifecycle.LogEvent(ctx, sess.job.ID, "debug", "url skipped by policy", map[string]any{
		"url":    ev.URL,
		"reason": ev.Reason,
	})
}

// maybeReportProgress reports every ProgressBatchSize processed pages. The
// reported percentage only ever advances.
func (w *Worker) maybeReportProgress(ctx context.Context, sess *session) {
	processed := sess.crawled + sess.failed + sess.skipped
	if processed == 0 || processed%w.cfg.ProgressBatchSize != 0 {
		return
	}
	percent := 0
	if sess.job.Config.MaxPages > 0 {
		percent = sess.crawled * 100 / sess.job.Config.MaxPages
	}
	if percent > 99 {
		percent = 99
	}
	if percent <= sess.lastProgress {
		return
	}
	sess.lastProgress = percent
	if err := w.lifecycle.UpdateProgress(ctx, sess.job.ID, crawl.ProgressUpdate{
		Progress:            percent,
		CrawledPages:        sess.crawled,
		FailedPages:         sess.failed,
		SkippedPages:        sess.skipped,
		TotalURLsDiscovered: len(sess.discovered),
	}); err != nil {
		w.logger.Warn("failed to report progress",
			zap.String("job_id", sess.job.ID.String()), zap.Error(err))
	}
}
