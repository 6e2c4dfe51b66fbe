package crawl

// Event is the closed set of notifications a page fetcher emits while a
// crawl session runs. The worker switches on the concrete type; there is no
// untyped payload.
type Event interface {
	isEvent()
}

// PageEvent reports one successfully fetched page.
type PageEvent struct {
	Page PageData
}

// ErrorEvent reports a page-level fetch failure. The crawl continues.
type ErrorEvent struct {
	URL        string
	StatusCode int
	Err        error
}

// SkipEvent reports a URL excluded by policy (robots, patterns, protocol).
type SkipEvent struct {
	URL    string
	Reason string
}

func (PageEvent) isEvent()  {}
func (ErrorEvent) isEvent() {}
func (SkipEvent) isEvent()  {}
