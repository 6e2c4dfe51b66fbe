package content

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/seolens/crawler/internal/crawl"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Normalized

	// FailURLs makes StoreContent fail for specific URLs; tests use it to
	// exercise the persistence failure path.
	FailURLs map[string]error
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Normalized)}
}

func contentKey(projectID uuid.UUID, url string) string {
	return projectID.String() + "|" + url
}

// StoreContent implements Store with upsert-on-url semantics.
func (s *MemoryStore) StoreContent(_ context.Context, rec Normalized) (Normalized, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.FailURLs[rec.URL]; ok {
		return Normalized{}, err
	}
	s.records[contentKey(rec.ProjectID, rec.URL)] = rec
	return rec, nil
}

// GetByURL implements Store.
func (s *MemoryStore) GetByURL(_ context.Context, projectID uuid.UUID, url string) (Normalized, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[contentKey(projectID, url)]
	if !ok {
		return Normalized{}, crawl.ErrNotFound
	}
	return rec, nil
}

// CountForJob implements Store and inventory.ContentCounter.
func (s *MemoryStore) CountForJob(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if rec.CrawlJobID == jobID {
			count++
		}
	}
	return count, nil
}
