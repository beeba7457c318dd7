// Package events carries pipeline milestones from the crawl, digest, and
// delivery stages to registered sinks without blocking the emitters.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

// Kind denotes the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindRunStarted     Kind = "RUN_STARTED"
	KindTaskDone       Kind = "TASK_DONE"
	KindTaskFailed     Kind = "TASK_FAILED"
	KindRunDone        Kind = "RUN_DONE"
	KindDigestSent     Kind = "DIGEST_SENT"
	KindDigestSkipped  Kind = "DIGEST_SKIPPED"
	KindDeliveryFailed Kind = "DELIVERY_FAILED"
	KindFeedback       Kind = "FEEDBACK"
	KindClick          Kind = "CLICK"
)

// Event captures a single pipeline milestone. Fields beyond Kind and TS are
// populated per kind; Article carries the tag set the analytics sink fans
// counters out over.
type Event struct {
	Kind     Kind
	TS       time.Time
	RunID    string
	SourceID string
	UserID   string
	Article  news.Article
	Feedback news.FeedbackKind
	Articles int
	Dur      time.Duration
	Note     string
}

// Validate performs coarse validation before an event enters the hub.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStarted, KindRunDone:
		if e.RunID == "" {
			return errors.New("run event requires run id")
		}
	case KindTaskDone, KindTaskFailed:
		if e.RunID == "" || e.SourceID == "" {
			return errors.New("task event requires run and source ids")
		}
	case KindDigestSent, KindDigestSkipped, KindDeliveryFailed:
		if e.UserID == "" {
			return errors.New("digest event requires user id")
		}
	case KindFeedback:
		if e.Feedback != news.FeedbackPositive && e.Feedback != news.FeedbackNegative {
			return fmt.Errorf("unknown feedback kind %q", e.Feedback)
		}
		if e.Article.ID == "" {
			return errors.New("feedback event requires article id")
		}
	case KindClick:
		if e.Article.ID == "" {
			return errors.New("click event requires article id")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
