package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/djmorgan26/up2d8/internal/news"
)

// AnalyticsStore maintains engagement counters in Postgres. Every write is a
// single upsert-with-increment statement, so concurrent recorders cannot lose
// updates, and popularity_score is recomputed inside the same statement that
// moves the feedback counters.
type AnalyticsStore struct {
	db DB
}

// NewAnalyticsStore wires the store to a pool.
func NewAnalyticsStore(db DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// IncrementDelivered bumps the delivered counter for one dimension.
func (s *AnalyticsStore) IncrementDelivered(ctx context.Context, dim news.Dimension, at time.Time) error {
	const query = `
		INSERT INTO analytics_counters
			(dim_kind, dim_key, delivered, positive_feedback, negative_feedback, clicks, popularity_score, updated_at)
		VALUES ($1, $2, 1, 0, 0, 0, 0, $3)
		ON CONFLICT (dim_kind, dim_key) DO UPDATE SET
			delivered = analytics_counters.delivered + 1,
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.db.Exec(ctx, query, dim.Kind, dim.Key, at); err != nil {
		return fmt.Errorf("increment delivered %s/%s: %w", dim.Kind, dim.Key, err)
	}
	return nil
}

// IncrementFeedback bumps one feedback counter and recomputes the score in
// the same statement.
func (s *AnalyticsStore) IncrementFeedback(ctx context.Context, dim news.Dimension, kind news.FeedbackKind, at time.Time) error {
	var query string
	switch kind {
	case news.FeedbackPositive:
		query = `
			INSERT INTO analytics_counters
				(dim_kind, dim_key, delivered, positive_feedback, negative_feedback, clicks, popularity_score, updated_at)
			VALUES ($1, $2, 0, 1, 0, 0, 2, $3)
			ON CONFLICT (dim_kind, dim_key) DO UPDATE SET
				positive_feedback = analytics_counters.positive_feedback + 1,
				popularity_score = (analytics_counters.positive_feedback + 1) * 2 - analytics_counters.negative_feedback,
				updated_at = EXCLUDED.updated_at;
		`
	case news.FeedbackNegative:
		query = `
			INSERT INTO analytics_counters
				(dim_kind, dim_key, delivered, positive_feedback, negative_feedback, clicks, popularity_score, updated_at)
			VALUES ($1, $2, 0, 0, 1, 0, -1, $3)
			ON CONFLICT (dim_kind, dim_key) DO UPDATE SET
				negative_feedback = analytics_counters.negative_feedback + 1,
				popularity_score = analytics_counters.positive_feedback * 2 - (analytics_counters.negative_feedback + 1),
				updated_at = EXCLUDED.updated_at;
		`
	default:
		return fmt.Errorf("unknown feedback kind %q", kind)
	}
	if _, err := s.db.Exec(ctx, query, dim.Kind, dim.Key, at); err != nil {
		return fmt.Errorf("increment feedback %s/%s: %w", dim.Kind, dim.Key, err)
	}
	return nil
}

// IncrementClicks bumps the clicks counter for one dimension.
func (s *AnalyticsStore) IncrementClicks(ctx context.Context, dim news.Dimension, at time.Time) error {
	const query = `
		INSERT INTO analytics_counters
			(dim_kind, dim_key, delivered, positive_feedback, negative_feedback, clicks, popularity_score, updated_at)
		VALUES ($1, $2, 0, 0, 0, 1, 0, $3)
		ON CONFLICT (dim_kind, dim_key) DO UPDATE SET
			clicks = analytics_counters.clicks + 1,
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.db.Exec(ctx, query, dim.Kind, dim.Key, at); err != nil {
		return fmt.Errorf("increment clicks %s/%s: %w", dim.Kind, dim.Key, err)
	}
	return nil
}

const counterColumns = `dim_kind, dim_key, delivered, positive_feedback, negative_feedback, clicks, popularity_score, updated_at`

// TopCompanies ranks company counters by popularity.
func (s *AnalyticsStore) TopCompanies(ctx context.Context, limit int) ([]news.CounterRow, error) {
	return s.topByKind(ctx, news.DimCompany, limit)
}

// TopIndustries ranks industry counters by popularity.
func (s *AnalyticsStore) TopIndustries(ctx context.Context, limit int) ([]news.CounterRow, error) {
	return s.topByKind(ctx, news.DimIndustry, limit)
}

func (s *AnalyticsStore) topByKind(ctx context.Context, kind news.DimensionKind, limit int) ([]news.CounterRow, error) {
	query := `
		SELECT ` + counterColumns + `
		FROM analytics_counters
		WHERE dim_kind = $1
		ORDER BY popularity_score DESC, delivered DESC
		LIMIT $2;
	`
	rows, err := s.db.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s counters: %w", kind, err)
	}
	return collectCounters(rows)
}

// SourcePerformance returns every source counter ordered by deliveries,
// joined with the source's crawl bookkeeping.
func (s *AnalyticsStore) SourcePerformance(ctx context.Context) ([]news.CounterRow, error) {
	const query = `
		SELECT c.dim_kind, c.dim_key, c.delivered, c.positive_feedback, c.negative_feedback,
			c.clicks, c.popularity_score, c.updated_at, s.last_crawled_at
		FROM analytics_counters c
		LEFT JOIN sources s ON s.id = c.dim_key
		WHERE c.dim_kind = $1
		ORDER BY c.delivered DESC;
	`
	rows, err := s.db.Query(ctx, query, news.DimSource)
	if err != nil {
		return nil, fmt.Errorf("list source counters: %w", err)
	}
	defer rows.Close()

	var counters []news.CounterRow
	for rows.Next() {
		var c news.CounterRow
		if err := rows.Scan(
			&c.Dimension.Kind,
			&c.Dimension.Key,
			&c.Delivered,
			&c.Positive,
			&c.Negative,
			&c.Clicks,
			&c.Popularity,
			&c.UpdatedAt,
			&c.LastCrawledAt,
		); err != nil {
			return nil, fmt.Errorf("scan source counter row: %w", err)
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source counter rows: %w", err)
	}
	return counters, nil
}

func collectCounters(rows pgx.Rows) ([]news.CounterRow, error) {
	defer rows.Close()

	var counters []news.CounterRow
	for rows.Next() {
		var c news.CounterRow
		if err := rows.Scan(
			&c.Dimension.Kind,
			&c.Dimension.Key,
			&c.Delivered,
			&c.Positive,
			&c.Negative,
			&c.Clicks,
			&c.Popularity,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counter rows: %w", err)
	}
	return counters, nil
}
