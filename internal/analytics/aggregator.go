// Package analytics fans engagement counters out across tracked dimensions.
// Each increment is a single atomic upsert in the store; the aggregator only
// decides which dimension rows an event touches.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/news"
)

// dayKeyFormat keys the per-day dimension rows.
const dayKeyFormat = "2006-01-02"

// Aggregator applies counter increments for delivery and engagement events.
type Aggregator struct {
	store  news.AnalyticsStore
	clock  news.Clock
	logger *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store news.AnalyticsStore, clock news.Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, clock: clock, logger: logger}
}

// RecordDelivery bumps delivered counters for every dimension the article
// touches. Failures on one dimension do not stop the rest.
func (a *Aggregator) RecordDelivery(ctx context.Context, article news.Article) error {
	at := a.clock.Now()
	return a.fanOut(article, at, func(dim news.Dimension) error {
		return a.store.IncrementDelivered(ctx, dim, at)
	})
}

// RecordFeedback bumps the positive or negative counters; the store recomputes
// popularity in the same statement.
func (a *Aggregator) RecordFeedback(ctx context.Context, article news.Article, kind news.FeedbackKind) error {
	if kind != news.FeedbackPositive && kind != news.FeedbackNegative {
		return fmt.Errorf("unknown feedback kind %q", kind)
	}
	at := a.clock.Now()
	return a.fanOut(article, at, func(dim news.Dimension) error {
		return a.store.IncrementFeedback(ctx, dim, kind, at)
	})
}

// RecordClick bumps click counters across the article's dimensions.
func (a *Aggregator) RecordClick(ctx context.Context, article news.Article) error {
	at := a.clock.Now()
	return a.fanOut(article, at, func(dim news.Dimension) error {
		return a.store.IncrementClicks(ctx, dim, at)
	})
}

func (a *Aggregator) fanOut(article news.Article, at time.Time, apply func(news.Dimension) error) error {
	var errs []error
	for _, dim := range dimensions(article, at) {
		if err := apply(dim); err != nil {
			a.logger.Warn("counter increment failed",
				zap.String("dim_kind", string(dim.Kind)),
				zap.String("dim_key", dim.Key),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dimensions(article news.Article, at time.Time) []news.Dimension {
	dims := make([]news.Dimension, 0, 3+len(article.Companies)+len(article.Industries))
	if article.ID != "" {
		dims = append(dims, news.Dimension{Kind: news.DimArticle, Key: article.ID})
	}
	if article.SourceID != "" {
		dims = append(dims, news.Dimension{Kind: news.DimSource, Key: article.SourceID})
	}
	for _, c := range article.Companies {
		dims = append(dims, news.Dimension{Kind: news.DimCompany, Key: c})
	}
	for _, i := range article.Industries {
		dims = append(dims, news.Dimension{Kind: news.DimIndustry, Key: i})
	}
	dims = append(dims, news.Dimension{Kind: news.DimDay, Key: at.UTC().Format(dayKeyFormat)})
	return dims
}
