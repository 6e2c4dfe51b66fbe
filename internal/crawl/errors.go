package crawl

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrWorkerBusy is returned when a worker is asked to execute a job while
// another job is still running on it.
var ErrWorkerBusy = errors.New("worker is already executing a job")

// ValidationError rejects malformed job configuration before any state
// mutation happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// PersistenceError wraps a content write failure for an already-fetched
// page. It is page-level but job-fatal: continuing would break the
// completeness guarantee.
type PersistenceError struct {
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist content for %s: %v", e.URL, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a mismatch between stored content rows and URLs
// marked crawled at job completion time.
type IntegrityError struct {
	ContentStored int
	URLsCrawled   int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf(
		"content integrity violation: %d content records stored but %d urls marked crawled",
		e.ContentStored, e.URLsCrawled,
	)
}
