package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seolens/crawler/internal/crawl"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]Item
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]Item)}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(_ context.Context, item Item) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.items[item.ID] = item
	return item, nil
}

// ClaimDue implements Store.
func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Item
	for _, item := range s.items {
		if item.Status == StatusPending && !item.ScheduledFor.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	for i, item := range due {
		item.Status = StatusProcessing
		s.items[item.ID] = item
		due[i] = item
	}
	return due, nil
}

// MarkCompleted implements Store.
func (s *MemoryStore) MarkCompleted(_ context.Context, id, jobID uuid.UUID) error {
	return s.setStatus(id, StatusCompleted, &jobID)
}

// MarkFailed implements Store.
func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	return s.setStatus(id, StatusFailed, nil)
}

func (s *MemoryStore) setStatus(id uuid.UUID, status string, jobID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return crawl.ErrNotFound
	}
	item.Status = status
	if jobID != nil {
		item.CrawlJobID = jobID
	}
	s.items[id] = item
	return nil
}
