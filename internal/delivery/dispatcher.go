// Package delivery sends rendered digests with bounded retries. Failures are
// isolated per user; one bad mailbox never aborts the batch.
package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/retry"
)

// Dispatcher delivers one digest per call through the mail transport.
type Dispatcher struct {
	transport news.MailTransport
	policy    *retry.Policy
	clock     news.Clock
	emitter   events.Emitter
	logger    *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(
	transport news.MailTransport,
	policy *retry.Policy,
	clock news.Clock,
	emitter events.Emitter,
	logger *zap.Logger,
) *Dispatcher {
	if policy == nil {
		policy = retry.NewPolicy(0, 0, 0)
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		transport: transport,
		policy:    policy,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
	}
}

// Deliver sends the digest, retrying transient failures up to the policy
// ceiling. On success one DIGEST_SENT event is emitted per article so the
// analytics sink can count deliveries across dimensions.
func (d *Dispatcher) Deliver(ctx context.Context, user news.User, subject, htmlBody string, articles []news.Article) error {
	start := d.clock.Now()

	var lastErr error
	for attempt := 0; attempt < d.policy.MaxAttempts(); attempt++ {
		if attempt > 0 {
			if err := d.policy.Sleep(ctx, attempt-1); err != nil {
				lastErr = err
				break
			}
		}

		err := d.transport.Send(ctx, user.Email, subject, htmlBody)
		if err == nil {
			d.emitSent(user, articles, d.clock.Now().Sub(start))
			return nil
		}
		lastErr = err
		if !d.policy.ShouldRetry(err, attempt) {
			break
		}
		d.logger.Warn("delivery attempt failed, retrying",
			zap.String("user_id", user.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	d.logger.Error("delivery failed",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.Error(lastErr),
	)
	d.emitter.Emit(events.Event{
		Kind:   events.KindDeliveryFailed,
		TS:     d.clock.Now(),
		UserID: user.ID,
		Note:   lastErr.Error(),
	})
	return fmt.Errorf("deliver digest to %s: %w", user.Email, lastErr)
}

func (d *Dispatcher) emitSent(user news.User, articles []news.Article, dur time.Duration) {
	now := d.clock.Now()
	for _, article := range articles {
		d.emitter.Emit(events.Event{
			Kind:     events.KindDigestSent,
			TS:       now,
			UserID:   user.ID,
			Article:  article,
			Articles: len(articles),
			Dur:      dur,
		})
	}
}
