package memory

import (
	"context"
	"sync"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

// SourceStore is an in-memory news.SourceStore.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]news.Source
	order   []string
}

// NewSourceStore constructs a store seeded with the given sources.
func NewSourceStore(sources ...news.Source) *SourceStore {
	s := &SourceStore{sources: make(map[string]news.Source)}
	for _, src := range sources {
		s.sources[src.ID] = src
		s.order = append(s.order, src.ID)
	}
	return s
}

// ListActive returns active sources in insertion order.
func (s *SourceStore) ListActive(_ context.Context) ([]news.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []news.Source
	for _, id := range s.order {
		if src := s.sources[id]; src.Active {
			active = append(active, src)
		}
	}
	return active, nil
}

// TouchCrawled records the crawl timestamp.
func (s *SourceStore) TouchCrawled(_ context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[sourceID]; ok {
		src.LastCrawledAt = &at
		s.sources[sourceID] = src
	}
	return nil
}

// Get returns one source, used by tests.
func (s *SourceStore) Get(sourceID string) (news.Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[sourceID]
	return src, ok
}
