// Package memory provides in-memory store implementations for development
// and tests. Semantics mirror the Postgres stores, including idempotent
// upsert and atomic-looking counter updates.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

// ArticleStore is an in-memory news.ArticleStore keyed by link.
type ArticleStore struct {
	idGen news.IDGenerator

	mu       sync.RWMutex
	byID     map[string]news.Article
	byLink   map[string]string
	sequence int
}

// NewArticleStore constructs an empty store.
func NewArticleStore(idGen news.IDGenerator) *ArticleStore {
	return &ArticleStore{
		idGen:  idGen,
		byID:   make(map[string]news.Article),
		byLink: make(map[string]string),
	}
}

// Upsert inserts unless the link exists already.
func (s *ArticleStore) Upsert(_ context.Context, article news.Article) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byLink[article.Link]; ok {
		return false, id, nil
	}
	if article.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return false, "", err
		}
		article.ID = id
	}
	s.sequence++
	s.byID[article.ID] = article
	s.byLink[article.Link] = article.ID
	return true, article.ID, nil
}

// ListUnprocessed returns unprocessed articles, oldest scraped first.
func (s *ArticleStore) ListUnprocessed(_ context.Context, limit int) ([]news.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var articles []news.Article
	for _, a := range s.byID {
		if !a.Processed {
			articles = append(articles, a)
		}
	}
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].ScrapedAt.Before(articles[j].ScrapedAt)
	})
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

// MarkProcessed flips the flag for every id in the set.
func (s *ArticleStore) MarkProcessed(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if a, ok := s.byID[id]; ok {
			a.Processed = true
			s.byID[id] = a
		}
	}
	return nil
}

// Get returns one article by id.
func (s *ArticleStore) Get(_ context.Context, id string) (news.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return news.Article{}, store.ErrNotFound
	}
	return a, nil
}

// Len reports the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
