package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seolens/crawler/internal/crawl"
)

// MemoryStore is an in-memory Store and LogStore for tests and local
// development. It enforces the same transition and uniqueness rules as the
// Postgres store.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]crawl.Job
	active map[uuid.UUID]uuid.UUID // projectID -> active jobID
	logs   map[uuid.UUID][]LogEntry
	nextID int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[uuid.UUID]crawl.Job),
		active: make(map[uuid.UUID]uuid.UUID),
		logs:   make(map[uuid.UUID][]LogEntry),
	}
}

// CreatePending implements Store.
func (s *MemoryStore) CreatePending(_ context.Context, job crawl.Job) (crawl.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activeID, ok := s.active[job.ProjectID]; ok {
		return s.jobs[activeID], false, nil
	}
	job.Status = crawl.JobStatusPending
	s.jobs[job.ID] = job
	s.active[job.ProjectID] = job.ID
	return job, true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return crawl.Job{}, crawl.ErrNotFound
	}
	return job, nil
}

// NextPending implements Store.
func (s *MemoryStore) NextPending(_ context.Context) (crawl.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		oldest crawl.Job
		found  bool
	)
	for _, job := range s.jobs {
		if job.Status != crawl.JobStatusPending {
			continue
		}
		if !found || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
			found = true
		}
	}
	if !found {
		return crawl.Job{}, crawl.ErrNotFound
	}
	return oldest, nil
}

// Start implements Store.
func (s *MemoryStore) Start(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return crawl.ErrNotFound
	}
	if job.Status != crawl.JobStatusPending {
		return ErrInvalidTransition
	}
	job.Status = crawl.JobStatusRunning
	job.Progress = 0
	job.StartedAt = &at
	s.jobs[id] = job
	return nil
}

// UpdateProgress implements Store.
func (s *MemoryStore) UpdateProgress(_ context.Context, id uuid.UUID, upd crawl.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return crawl.ErrNotFound
	}
	if job.Status != crawl.JobStatusRunning {
		return ErrInvalidTransition
	}
	job.Progress = upd.Progress
	job.Counts = crawl.JobCounts{
		TotalURLsDiscovered: upd.TotalURLsDiscovered,
		CrawledPages:        upd.CrawledPages,
		FailedPages:         upd.FailedPages,
		SkippedPages:        upd.SkippedPages,
	}
	s.jobs[id] = job
	return nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, id uuid.UUID, counts crawl.JobCounts, at time.Time) error {
	return s.finish(id, crawl.JobStatusCompleted, "", at, func(job *crawl.Job) {
		job.Progress = 100
		job.Counts = counts
	}, crawl.JobStatusRunning)
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, id uuid.UUID, message string, at time.Time) error {
	return s.finish(id, crawl.JobStatusFailed, message, at, nil,
		crawl.JobStatusPending, crawl.JobStatusRunning)
}

// Cancel implements Store.
func (s *MemoryStore) Cancel(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.finish(id, crawl.JobStatusCancelled, "", at, nil,
		crawl.JobStatusPending, crawl.JobStatusRunning)
}

func (s *MemoryStore) finish(id uuid.UUID, to crawl.JobStatus, message string, at time.Time, mutate func(*crawl.Job), from ...crawl.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return crawl.ErrNotFound
	}
	allowed := false
	for _, status := range from {
		if job.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	job.Status = to
	job.ErrorMessage = message
	job.CompletedAt = &at
	if mutate != nil {
		mutate(&job)
	}
	s.jobs[id] = job
	if s.active[job.ProjectID] == id {
		delete(s.active, job.ProjectID)
	}
	return nil
}

// Append implements LogStore.
func (s *MemoryStore) Append(_ context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	s.logs[entry.JobID] = append(s.logs[entry.JobID], entry)
	return nil
}

// ListByJob implements LogStore.
func (s *MemoryStore) ListByJob(_ context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[jobID]
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}
