// Package collyfetcher implements the page fetcher on top of the Colly
// collector: a breadth-first frontier bounded by page and depth budgets,
// politeness waits before every request, and a typed event stream consumed by
// the crawl worker.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/fetcher/headless"
	"github.com/seolens/crawler/internal/linkext"
	"github.com/seolens/crawler/internal/ratelimit"
	"github.com/seolens/crawler/internal/robots"
	"github.com/seolens/crawler/internal/telemetry"
)

// Skip reasons carried on SkipEvent.
const (
	SkipReasonExcludedPattern = "excluded pattern"
	SkipReasonNotIncluded     = "not in include patterns"
	SkipReasonRobots          = "robots.txt disallow"
	SkipReasonDepth           = "max depth exceeded"
)

// Config constructs one crawl session.
type Config struct {
	BaseURL         string
	MaxPages        int
	MaxDepth        int
	Timeout         time.Duration
	UserAgent       string
	IncludePatterns []string
	ExcludePatterns []string
	// StoreRawHTML keeps the fetched body on the page event; when false the
	// body is dropped after link extraction.
	StoreRawHTML bool
}

type frontierItem struct {
	url   string
	depth int
}

// Fetcher implements crawl.PageFetcher. One Fetcher serves exactly one crawl
// session; its dedup and rate-limiter state never outlive the session.
type Fetcher struct {
	cfg       Config
	limiter   *ratelimit.Limiter
	robots    robots.Policy
	extractor *linkext.Extractor
	renderer  headless.Renderer
	detector  headless.Detector
	logger    *zap.Logger

	collector *colly.Collector
	include   []*regexp.Regexp
	exclude   []*regexp.Regexp

	mu       sync.Mutex
	frontier []frontierItem
	queued   map[string]struct{}

	events  chan crawl.Event
	stopped atomic.Bool
}

// New builds a Fetcher for one session. renderer and detector may be nil when
// headless promotion is disabled.
func New(cfg Config, limiter *ratelimit.Limiter, policy robots.Policy, renderer headless.Renderer, detector headless.Detector, logger *zap.Logger) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Hostname() == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	include, err := compilePatterns(cfg.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}

	collector := colly.NewCollector(colly.Async(false))
	collector.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		collector.UserAgent = cfg.UserAgent
	}
	// Robots handling lives in the policy layer, where skips are observable.
	collector.IgnoreRobotsTxt = true
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	return &Fetcher{
		cfg:       cfg,
		limiter:   limiter,
		robots:    policy,
		extractor: linkext.New(base.Hostname()),
		renderer:  renderer,
		detector:  detector,
		logger:    logger.Named("fetcher"),
		collector: collector,
		include:   include,
		exclude:   exclude,
		queued:    make(map[string]struct{}),
		events:    make(chan crawl.Event, 64),
	}, nil
}

// Events implements crawl.PageFetcher.
func (f *Fetcher) Events() <-chan crawl.Event {
	return f.events
}

// Stop implements crawl.PageFetcher. In-flight fetches finish; nothing new is
// dispatched once the flag is observed.
func (f *Fetcher) Stop() {
	f.stopped.Store(true)
}

// Enqueue implements crawl.PageFetcher.
func (f *Fetcher) Enqueue(rawURL string, depth int) {
	normalized, err := linkext.Normalize(rawURL)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.queued[normalized]; seen {
		return
	}
	f.queued[normalized] = struct{}{}
	f.frontier = append(f.frontier, frontierItem{url: normalized, depth: depth})
}

// Start implements crawl.PageFetcher. It drains the frontier breadth-first
// until the page budget is spent, the frontier empties, Stop is called, or
// the context ends. The events channel is closed on return.
func (f *Fetcher) Start(ctx context.Context) (crawl.FetchSummary, error) {
	defer close(f.events)

	started := time.Now()
	f.Enqueue(f.cfg.BaseURL, 0)

	if delay := f.robots.CrawlDelay(ctx, f.cfg.BaseURL); delay > 0 {
		f.limiter.SetMinDelayFromRobots(delay)
	}

	var summary crawl.FetchSummary
	var totalResponseTime time.Duration

	for {
		if f.stopped.Load() || ctx.Err() != nil {
			break
		}
		if summary.SuccessfulPages >= f.cfg.MaxPages {
			break
		}
		item, ok := f.next()
		if !ok {
			break
		}

		if skip, reason := f.shouldSkip(ctx, item); skip {
			summary.SkippedPages++
			telemetry.ObservePage("skipped", 0)
			f.emit(ctx, crawl.SkipEvent{URL: item.url, Reason: reason})
			continue
		}

		if err := f.limiter.Wait(ctx); err != nil {
			break
		}

		page, err := f.fetch(ctx, item)
		summary.TotalPages++
		if err != nil {
			f.limiter.ReportFailure(page.StatusCode)
			summary.FailedPages++
			if page.StatusCode >= 500 {
				summary.CriticalIssues++
			}
			telemetry.ObservePage("failed", 0)
			f.emit(ctx, crawl.ErrorEvent{URL: item.url, StatusCode: page.StatusCode, Err: err})
			continue
		}
		f.limiter.ReportSuccess()
		telemetry.ObservePage("fetched", len(page.HTML))
		telemetry.ObserveFetch(page.ResponseTime)
		totalResponseTime += page.ResponseTime

		page = f.maybePromote(ctx, page)
		f.extractPage(&page)
		summary.TotalIssues += countPageIssues(page)

		// Only same-domain links enter the frontier; Enqueue dedups across
		// the whole session.
		for _, link := range page.Links {
			if !f.extractor.IsInternalURL(link) {
				continue
			}
			if item.depth+1 <= f.cfg.MaxDepth {
				f.Enqueue(link, item.depth+1)
			}
		}

		if !f.cfg.StoreRawHTML {
			page.HTML = nil
		}
		summary.SuccessfulPages++
		summary.PageURLs = append(summary.PageURLs, page.URL)
		f.emit(ctx, crawl.PageEvent{Page: page})
	}

	summary.TotalCrawlTime = time.Since(started)
	if summary.SuccessfulPages > 0 {
		summary.AvgResponseTime = totalResponseTime / time.Duration(summary.SuccessfulPages)
	}
	return summary, ctx.Err()
}

func (f *Fetcher) next() (frontierItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frontier) == 0 {
		return frontierItem{}, false
	}
	item := f.frontier[0]
	f.frontier = f.frontier[1:]
	return item, true
}

func (f *Fetcher) shouldSkip(ctx context.Context, item frontierItem) (bool, string) {
	for _, re := range f.exclude {
		if re.MatchString(item.url) {
			return true, SkipReasonExcludedPattern
		}
	}
	if len(f.include) > 0 && item.depth > 0 {
		matched := false
		for _, re := range f.include {
			if re.MatchString(item.url) {
				matched = true
				break
			}
		}
		if !matched {
			return true, SkipReasonNotIncluded
		}
	}
	if !f.robots.Allowed(ctx, item.url) {
		return true, SkipReasonRobots
	}
	return false, ""
}

// maybePromote re-fetches the page through headless Chrome when the initial
// HTML looks like an unrendered app shell.
func (f *Fetcher) maybePromote(ctx context.Context, page crawl.PageData) crawl.PageData {
	if f.renderer == nil || f.detector == nil || !f.detector.NeedsJS(page.HTML) {
		return page
	}
	rendered, err := f.renderer.Render(ctx, page.URL)
	if err != nil {
		f.logger.Warn("headless render failed, keeping probe HTML",
			zap.String("url", page.URL), zap.Error(err))
		return page
	}
	page.HTML = rendered
	return page
}

func (f *Fetcher) emit(ctx context.Context, ev crawl.Event) {
	select {
	case f.events <- ev:
	case <-ctx.Done():
	}
}

// countPageIssues tallies basic on-page SEO problems: missing title, missing
// meta description, no h1, images without alt text.
func countPageIssues(page crawl.PageData) int {
	issues := 0
	if strings.TrimSpace(page.Title) == "" {
		issues++
	}
	if strings.TrimSpace(page.MetaDescription) == "" {
		issues++
	}
	hasH1 := false
	for _, h := range page.Headings {
		if h.Level == 1 {
			hasH1 = true
			break
		}
	}
	if !hasH1 {
		issues++
	}
	for _, img := range page.Images {
		if strings.TrimSpace(img.Alt) == "" {
			issues++
		}
	}
	return issues
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
