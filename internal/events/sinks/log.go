// Package sinks contains Sink implementations fed by the event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/events"
)

// LogSink emits structured logs for each event, useful in development and
// when auditing pipeline behavior.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("pipeline event",
			zap.String("kind", string(evt.Kind)),
			zap.String("run_id", evt.RunID),
			zap.String("source_id", evt.SourceID),
			zap.String("user_id", evt.UserID),
			zap.String("article_id", evt.Article.ID),
			zap.Int("articles", evt.Articles),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
