package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

// AnalyticsStore is an in-memory news.AnalyticsStore.
type AnalyticsStore struct {
	mu       sync.Mutex
	counters map[news.Dimension]news.CounterRow
}

// NewAnalyticsStore constructs an empty store.
func NewAnalyticsStore() *AnalyticsStore {
	return &AnalyticsStore{counters: make(map[news.Dimension]news.CounterRow)}
}

func (s *AnalyticsStore) bump(dim news.Dimension, at time.Time, apply func(*news.CounterRow)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.counters[dim]
	if !ok {
		row = news.CounterRow{Dimension: dim}
	}
	apply(&row)
	row.Popularity = news.PopularityScore(row.Positive, row.Negative)
	row.UpdatedAt = at
	s.counters[dim] = row
}

// IncrementDelivered bumps the delivery counter for the dimension.
func (s *AnalyticsStore) IncrementDelivered(_ context.Context, dim news.Dimension, at time.Time) error {
	s.bump(dim, at, func(r *news.CounterRow) { r.Delivered++ })
	return nil
}

// IncrementFeedback bumps the counter matching the feedback kind.
func (s *AnalyticsStore) IncrementFeedback(_ context.Context, dim news.Dimension, kind news.FeedbackKind, at time.Time) error {
	switch kind {
	case news.FeedbackPositive:
		s.bump(dim, at, func(r *news.CounterRow) { r.Positive++ })
	case news.FeedbackNegative:
		s.bump(dim, at, func(r *news.CounterRow) { r.Negative++ })
	default:
		return fmt.Errorf("unknown feedback kind %q", kind)
	}
	return nil
}

// IncrementClicks bumps the click counter for the dimension.
func (s *AnalyticsStore) IncrementClicks(_ context.Context, dim news.Dimension, at time.Time) error {
	s.bump(dim, at, func(r *news.CounterRow) { r.Clicks++ })
	return nil
}

// TopCompanies ranks company counters by popularity.
func (s *AnalyticsStore) TopCompanies(_ context.Context, limit int) ([]news.CounterRow, error) {
	return s.top(news.DimCompany, limit), nil
}

// TopIndustries ranks industry counters by popularity.
func (s *AnalyticsStore) TopIndustries(_ context.Context, limit int) ([]news.CounterRow, error) {
	return s.top(news.DimIndustry, limit), nil
}

// SourcePerformance lists source counters ordered by deliveries.
func (s *AnalyticsStore) SourcePerformance(_ context.Context) ([]news.CounterRow, error) {
	rows := s.collect(news.DimSource)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Delivered > rows[j].Delivered })
	return rows, nil
}

// Counter returns one raw row, used by tests.
func (s *AnalyticsStore) Counter(dim news.Dimension) (news.CounterRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.counters[dim]
	return row, ok
}

func (s *AnalyticsStore) top(kind news.DimensionKind, limit int) []news.CounterRow {
	rows := s.collect(kind)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Popularity != rows[j].Popularity {
			return rows[i].Popularity > rows[j].Popularity
		}
		return rows[i].Delivered > rows[j].Delivered
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (s *AnalyticsStore) collect(kind news.DimensionKind) []news.CounterRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []news.CounterRow
	for dim, row := range s.counters {
		if dim.Kind == kind {
			rows = append(rows, row)
		}
	}
	return rows
}
