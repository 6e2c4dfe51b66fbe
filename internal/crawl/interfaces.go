package crawl

import (
	"context"
	"time"
)

// PageFetcher drives the actual page retrieval for one crawl session. Start
// blocks until the frontier is exhausted, the page budget is reached, or
// Stop is called; events stream on Events while it runs.
type PageFetcher interface {
	// Start runs the crawl session and returns the aggregate summary.
	Start(ctx context.Context) (FetchSummary, error)
	// Enqueue adds a discovered URL to the frontier at the given depth.
	Enqueue(url string, depth int)
	// Events returns the stream of typed crawl events. The channel is
	// closed when the session ends.
	Events() <-chan Event
	// Stop requests a cooperative shutdown: in-flight fetches finish, no
	// new URLs are dispatched.
	Stop()
}

// Publisher pushes completion notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for deduplication and integrity.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}
