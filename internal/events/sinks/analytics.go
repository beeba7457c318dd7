package sinks

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/analytics"
	"github.com/djmorgan26/up2d8/internal/events"
)

// AnalyticsSink forwards engagement events to the counter aggregator. Only
// DIGEST_SENT, FEEDBACK, and CLICK events carry counter semantics; the rest
// of the stream is ignored here.
type AnalyticsSink struct {
	agg    *analytics.Aggregator
	logger *zap.Logger
}

// NewAnalyticsSink constructs an AnalyticsSink.
func NewAnalyticsSink(agg *analytics.Aggregator, logger *zap.Logger) *AnalyticsSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsSink{agg: agg, logger: logger}
}

// Consume applies counter increments for each relevant event in the batch.
func (s *AnalyticsSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		var err error
		switch evt.Kind {
		case events.KindDigestSent:
			// A digest event carries one Article per emitted delivery; the
			// dispatcher emits one event per article in the digest.
			if evt.Article.ID != "" {
				err = s.agg.RecordDelivery(ctx, evt.Article)
			}
		case events.KindFeedback:
			err = s.agg.RecordFeedback(ctx, evt.Article, evt.Feedback)
		case events.KindClick:
			err = s.agg.RecordClick(ctx, evt.Article)
		}
		if err != nil {
			s.logger.Warn("analytics sink apply failed",
				zap.String("kind", string(evt.Kind)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *AnalyticsSink) Close(context.Context) error {
	return nil
}
