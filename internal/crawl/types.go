// Package crawl defines the core types shared across the crawl engine.
package crawl

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobConfig captures the per-job crawl knobs. RespectRobots and
// SameDomainOnly are policy fields: createJob forces them to true no matter
// what the caller requested.
type JobConfig struct {
	MaxPages        int           `json:"max_pages"`
	MaxDepth        int           `json:"max_depth"`
	RequestDelay    time.Duration `json:"request_delay"`
	Timeout         time.Duration `json:"timeout"`
	UserAgent       string        `json:"user_agent"`
	RespectRobots   bool          `json:"respect_robots"`
	SameDomainOnly  bool          `json:"same_domain_only"`
	IncludePatterns []string      `json:"include_patterns,omitempty"`
	ExcludePatterns []string      `json:"exclude_patterns,omitempty"`
	StoreRawHTML    bool          `json:"store_raw_html"`
}

// JobCounts aggregates page tallies reported on a job.
type JobCounts struct {
	TotalURLsDiscovered int `json:"total_urls_discovered"`
	CrawledPages        int `json:"crawled_pages"`
	FailedPages         int `json:"failed_pages"`
	SkippedPages        int `json:"skipped_pages"`
}

// Job is one crawl attempt for a project.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Config       JobConfig  `json:"config"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Counts       JobCounts  `json:"counts"`
	TriggeredBy  string     `json:"triggered_by"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ProgressUpdate carries the worker's periodic progress report.
type ProgressUpdate struct {
	Progress            int
	CrawledPages        int
	FailedPages         int
	SkippedPages        int
	TotalURLsDiscovered int
}

// Heading is one h1-h6 element captured from a page.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image is one img element captured from a page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// PageData is the payload of a successful page fetch.
type PageData struct {
	URL             string
	StatusCode      int
	Title           string
	MetaDescription string
	Headings        []Heading
	Links           []string
	Images          []Image
	StructuredData  []string
	HTML            []byte
	Depth           int
	ResponseTime    time.Duration
}

// FetchSummary is returned by the page fetcher once a crawl session ends.
type FetchSummary struct {
	TotalPages      int           `json:"total_pages"`
	SuccessfulPages int           `json:"successful_pages"`
	FailedPages     int           `json:"failed_pages"`
	SkippedPages    int           `json:"skipped_pages"`
	TotalIssues     int           `json:"total_issues"`
	CriticalIssues  int           `json:"critical_issues"`
	TotalCrawlTime  time.Duration `json:"total_crawl_time"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	PageURLs        []string      `json:"page_urls"`
}
