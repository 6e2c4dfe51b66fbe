package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seolens/crawler/internal/crawl"
)

// ContentCounter reports how many content records exist for a job. The
// memory content store implements it; the Postgres store counts in SQL.
type ContentCounter interface {
	CountForJob(ctx context.Context, jobID uuid.UUID) (int, error)
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	byKey   map[string]uuid.UUID
	records map[uuid.UUID]*Record
	content ContentCounter
	clock   crawl.Clock
}

// NewMemoryStore constructs a MemoryStore. contentCounter may be nil, in
// which case JobStats reports zero stored content.
func NewMemoryStore(contentCounter ContentCounter, clock crawl.Clock) *MemoryStore {
	return &MemoryStore{
		byKey:   make(map[string]uuid.UUID),
		records: make(map[uuid.UUID]*Record),
		content: contentCounter,
		clock:   clock,
	}
}

func key(projectID uuid.UUID, url string) string {
	return projectID.String() + "|" + url
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, up Upsert) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key(up.ProjectID, up.URL)]; ok {
		rec := s.records[id]
		rec.LastCrawlJobID = up.JobID
		return *rec, nil
	}

	rec := &Record{
		ID:             uuid.New(),
		ProjectID:      up.ProjectID,
		URL:            up.URL,
		State:          StateDiscovered,
		Depth:          up.Depth,
		DiscoveredFrom: up.DiscoveredFrom,
		FirstSeenAt:    s.now(),
		LastCrawlJobID: up.JobID,
	}
	s.byKey[key(up.ProjectID, up.URL)] = rec.ID
	s.records[rec.ID] = rec
	return *rec, nil
}

// MarkProcessing implements Store.
func (s *MemoryStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return crawl.ErrNotFound
	}
	rec.State = StateProcessing
	return nil
}

// MarkCrawled implements Store.
func (s *MemoryStore) MarkCrawled(_ context.Context, id uuid.UUID, httpStatus int, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return crawl.ErrNotFound
	}
	if rec.State != StateDiscovered && rec.State != StateProcessing {
		return ErrInvalidTransition
	}
	now := s.now()
	rec.State = StateCrawled
	rec.HTTPStatus = httpStatus
	rec.ContentHash = contentHash
	rec.LastCrawledAt = &now
	rec.FailureReason = ""
	return nil
}

// MarkFailed implements Store.
func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, httpStatus int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return crawl.ErrNotFound
	}
	if rec.State != StateDiscovered && rec.State != StateProcessing {
		return ErrInvalidTransition
	}
	rec.State = StateFailed
	rec.HTTPStatus = httpStatus
	rec.FailureReason = reason
	return nil
}

// MarkBlocked implements Store.
func (s *MemoryStore) MarkBlocked(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return crawl.ErrNotFound
	}
	if rec.State != StateDiscovered && rec.State != StateProcessing {
		return ErrInvalidTransition
	}
	rec.State = StateBlockedByPolicy
	rec.FailureReason = reason
	return nil
}

// GetByURL implements Store.
func (s *MemoryStore) GetByURL(_ context.Context, projectID uuid.UUID, url string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key(projectID, url)]
	if !ok {
		return Record{}, crawl.ErrNotFound
	}
	return *s.records[id], nil
}

// GetByJob implements Store.
func (s *MemoryStore) GetByJob(_ context.Context, jobID uuid.UUID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records {
		if rec.LastCrawlJobID == jobID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// JobStats implements Store.
func (s *MemoryStore) JobStats(ctx context.Context, jobID uuid.UUID, since time.Time) (JobStats, error) {
	s.mu.RLock()
	var stats JobStats
	for _, rec := range s.records {
		if rec.LastCrawlJobID != jobID {
			continue
		}
		stats.Discovered++
		switch rec.State {
		case StateCrawled:
			if rec.LastCrawledAt != nil && !rec.LastCrawledAt.Before(since) {
				stats.Crawled++
			}
		case StateFailed:
			stats.Failed++
		}
	}
	s.mu.RUnlock()

	if s.content != nil {
		stored, err := s.content.CountForJob(ctx, jobID)
		if err != nil {
			return JobStats{}, err
		}
		stats.ContentStored = stored
	}
	return stats, nil
}

func (s *MemoryStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
