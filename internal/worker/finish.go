package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/audit"
	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/jobs"
)

// CompletionPayload is published when a job completes, feeding the
// performance-audit subsystem.
type CompletionPayload struct {
	ProjectID   string   `json:"project_id"`
	JobID       string   `json:"job_id"`
	Pages       int      `json:"pages"`
	SampledURLs []string `json:"sampled_urls"`
}

// finish resolves the job's terminal status once the fetch session has
// ended: cancelled on user stop, failed on a fatal persistence error or an
// integrity mismatch, completed otherwise.
func (w *Worker) finish(ctx context.Context, sess *session, summary crawl.FetchSummary) error {
	jobID := sess.job.ID

	if sess.fatal != nil {
		if err := w.lifecycle.FailJob(ctx, jobID, sess.fatal.Error()); err != nil {
			w.logger.Error("failed to mark job failed", zap.Error(err))
		}
		return sess.fatal
	}

	if w.isStopped() {
		// An API cancel flips the row before stopping the worker; the
		// already-cancelled row is not an error here.
		if err := w.lifecycle.CancelJob(ctx, jobID); err != nil && !errors.Is(err, jobs.ErrInvalidTransition) {
			w.logger.Error("failed to mark job cancelled", zap.Error(err))
			return err
		}
		w.logger.Info("job cancelled",
			zap.String("job_id", jobID.String()),
			zap.Int("crawled_pages", sess.crawled))
		return nil
	}

	// Core correctness safeguard: every URL crawled during this session must
	// have a stored content row. URLs re-discovered from an earlier job keep
	// their old crawl timestamp and stay out of the comparison.
	stats, err := w.inventory.JobStats(ctx, jobID, sess.startedAt)
	if err != nil {
		failErr := err
		if ferr := w.lifecycle.FailJob(ctx, jobID, "failed to verify crawl integrity: "+err.Error()); ferr != nil {
			w.logger.Error("failed to mark job failed", zap.Error(ferr))
		}
		return failErr
	}
	if stats.ContentStored != stats.Crawled {
		ierr := &crawl.IntegrityError{
			ContentStored: stats.ContentStored,
			URLsCrawled:   stats.Crawled,
		}
		if err := w.lifecycle.FailJob(ctx, jobID, ierr.Error()); err != nil {
			w.logger.Error("failed to mark job failed", zap.Error(err))
		}
		return ierr
	}

	counts := crawl.JobCounts{
		TotalURLsDiscovered: stats.Discovered,
		CrawledPages:        sess.crawled,
		FailedPages:         sess.failed,
		SkippedPages:        sess.skipped,
	}
	if err := w.lifecycle.CompleteJob(ctx, jobID, counts); err != nil {
		return err
	}

	w.publishCompletion(ctx, sess, summary)

	w.logger.Info("job completed",
		zap.String("job_id", jobID.String()),
		zap.Int("crawled_pages", sess.crawled),
		zap.Int("failed_pages", sess.failed),
		zap.Int("skipped_pages", sess.skipped),
		zap.Duration("crawl_time", summary.TotalCrawlTime))
	return nil
}

// publishCompletion is outside the integrity boundary: failures are logged,
// never fatal.
func (w *Worker) publishCompletion(ctx context.Context, sess *session, summary crawl.FetchSummary) {
	if w.publisher == nil || w.cfg.CompletionTopic == "" {
		return
	}
	payload := CompletionPayload{
		ProjectID:   sess.job.ProjectID.String(),
		JobID:       sess.job.ID.String(),
		Pages:       sess.crawled,
		SampledURLs: audit.SelectRepresentative(summary.PageURLs, w.cfg.AuditSampleSize),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.CompletionTopic, payload); err != nil {
		w.logger.Warn("failed to publish completion notification",
			zap.String("job_id", sess.job.ID.String()), zap.Error(err))
	}
}
