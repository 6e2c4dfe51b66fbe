package collyfetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/seolens/crawler/internal/crawl"
)

// fetch executes a single GET through a collector clone. The returned
// PageData carries the final URL after redirects, the raw body, and the
// response time; parsing happens later in extractPage.
func (f *Fetcher) fetch(ctx context.Context, item frontierItem) (crawl.PageData, error) {
	var (
		page     crawl.PageData
		fetchErr error
	)
	page.URL = item.url
	page.Depth = item.depth

	start := time.Now()
	collector := f.collector.Clone()

	collector.OnResponse(func(r *colly.Response) {
		page.URL = r.Request.URL.String()
		page.StatusCode = r.StatusCode
		page.HTML = append([]byte(nil), r.Body...)
		page.ResponseTime = time.Since(start)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			page.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(item.url)
	}()

	select {
	case <-ctx.Done():
		return page, fmt.Errorf("fetch cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return page, fmt.Errorf("visit %s: %w", item.url, err)
		}
		if fetchErr != nil {
			return page, fmt.Errorf("fetch %s: %w", item.url, fetchErr)
		}
		return page, nil
	}
}
