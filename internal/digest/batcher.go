// Package digest assembles and sends personalized newsletters from the
// unprocessed article backlog. One cycle drains the backlog once, fans out
// per user, and marks the batch processed exactly once at the end.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/relevance"
	"github.com/djmorgan26/up2d8/internal/retry"
	"github.com/djmorgan26/up2d8/internal/store"
)

// ErrCycleInProgress is returned when a digest cycle is already running.
var ErrCycleInProgress = errors.New("digest cycle already in progress")

// Statuses reported in the cycle summary.
const (
	StatusCompleted  = "completed"
	StatusWithErrors = "completed_with_errors"
	StatusError      = "error"
)

// Deliverer sends one rendered digest. Satisfied by delivery.Dispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, user news.User, subject, htmlBody string, articles []news.Article) error
}

// Config controls one digest cycle.
type Config struct {
	// BatchLimit bounds how many unprocessed articles one cycle consumes.
	BatchLimit int
	// MaxPerDigest bounds how many articles one newsletter carries.
	MaxPerDigest int
	// PerUserTimeout bounds summarize-plus-deliver for a single user.
	PerUserTimeout time.Duration
	// WeeklyDay is the weekday weekly subscribers receive their digest.
	WeeklyDay time.Weekday
}

// Normalize fills zero values with working defaults.
func (c Config) Normalize() Config {
	if c.BatchLimit <= 0 {
		c.BatchLimit = 500
	}
	if c.MaxPerDigest <= 0 {
		c.MaxPerDigest = 20
	}
	if c.PerUserTimeout <= 0 {
		c.PerUserTimeout = 2 * time.Minute
	}
	return c
}

// Options adjust one trigger of the batcher.
type Options struct {
	// Force bypasses frequency gating for the targeted users.
	Force bool
	// Email restricts the cycle to a single subscriber.
	Email string
}

// Batcher runs digest cycles. Safe for concurrent triggers; only one cycle
// runs at a time.
type Batcher struct {
	cfg        Config
	articles   news.ArticleStore
	users      news.UserStore
	runs       news.RunStore
	scorer     news.Scorer
	summarizer news.Summarizer
	deliverer  Deliverer
	clock      news.Clock
	emitter    events.Emitter
	logger     *zap.Logger
	markPolicy *retry.Policy

	running atomic.Bool
}

// NewBatcher constructs a Batcher.
func NewBatcher(
	cfg Config,
	articles news.ArticleStore,
	users news.UserStore,
	runs news.RunStore,
	scorer news.Scorer,
	summarizer news.Summarizer,
	deliverer Deliverer,
	clock news.Clock,
	emitter events.Emitter,
	logger *zap.Logger,
) *Batcher {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		cfg:        cfg.Normalize(),
		articles:   articles,
		users:      users,
		runs:       runs,
		scorer:     scorer,
		summarizer: summarizer,
		deliverer:  deliverer,
		clock:      clock,
		emitter:    emitter,
		logger:     logger,
		markPolicy: retry.NewPolicy(3, 200*time.Millisecond, time.Second),
	}
}

// Run executes one digest cycle and always returns a structured summary,
// even when every user fails. Only the singleton guard and the user lookup
// produce hard errors.
func (b *Batcher) Run(ctx context.Context, opts Options) (news.DigestSummary, error) {
	if !b.running.CompareAndSwap(false, true) {
		return news.DigestSummary{}, ErrCycleInProgress
	}
	defer b.running.Store(false)

	summary := news.DigestSummary{Status: StatusCompleted, Errors: []string{}}

	b.logCrawlCheckpoint(ctx)

	// Resolve targets before touching the backlog so a trigger for an
	// unknown subscriber fails even when there is nothing to send.
	targets, err := b.targets(ctx, opts)
	if err != nil {
		return news.DigestSummary{}, err
	}

	articles, err := b.articles.ListUnprocessed(ctx, b.cfg.BatchLimit)
	if err != nil {
		return news.DigestSummary{}, fmt.Errorf("list unprocessed articles: %w", err)
	}
	summary.ArticlesProcessed = len(articles)
	if len(articles) == 0 {
		b.logger.Info("no unprocessed articles, digest cycle is a no-op")
		return summary, nil
	}

	now := b.clock.Now()
	for _, user := range targets {
		summary.UsersProcessed++
		if !opts.Force && !due(user.Preferences.Frequency, now, b.cfg.WeeklyDay) {
			summary.UsersSkipped++
			continue
		}
		if err := b.processUser(ctx, user, articles); err != nil {
			summary.UsersSkipped++
			if !errors.Is(err, errNothingRelevant) {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", user.Email, err))
				b.emitSkip(user, err)
			}
			continue
		}
		summary.NewslettersSent++
	}

	// One atomic mark for the whole batch: per-user failures never bring
	// these articles back into the next cycle.
	ids := make([]string, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ID)
	}
	if err := b.markBatchProcessed(ctx, ids); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("mark processed: %v", err))
	}

	if len(summary.Errors) > 0 {
		summary.Status = StatusWithErrors
	}
	b.logger.Info("digest cycle finished",
		zap.String("status", summary.Status),
		zap.Int("users", summary.UsersProcessed),
		zap.Int("sent", summary.NewslettersSent),
		zap.Int("skipped", summary.UsersSkipped),
		zap.Int("articles", summary.ArticlesProcessed),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

// logCrawlCheckpoint records which crawl cycle this digest consumes. A
// missing run is unusual but not fatal; articles may exist from older runs.
func (b *Batcher) logCrawlCheckpoint(ctx context.Context) {
	run, err := b.runs.LatestCompletedRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.logger.Warn("no completed crawl run found, proceeding with existing backlog")
	case err != nil:
		b.logger.Warn("crawl checkpoint lookup failed", zap.Error(err))
	default:
		b.logger.Info("digest consuming crawl run",
			zap.String("run_id", run.ID),
			zap.String("run_state", string(run.State)),
		)
	}
}

// markBatchProcessed flips the batch with bounded retries. Re-marking is a
// no-op, so a retried call after a partial failure cannot double-count.
func (b *Batcher) markBatchProcessed(ctx context.Context, ids []string) error {
	var lastErr error
	for attempt := 0; attempt < b.markPolicy.MaxAttempts(); attempt++ {
		if attempt > 0 {
			if err := b.markPolicy.Sleep(ctx, attempt-1); err != nil {
				return lastErr
			}
		}
		err := b.articles.MarkProcessed(ctx, ids)
		if err == nil {
			return nil
		}
		lastErr = err
		if !b.markPolicy.ShouldRetry(err, attempt) {
			break
		}
		b.logger.Warn("mark processed failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("articles", len(ids)),
			zap.Error(err),
		)
	}
	return lastErr
}

func (b *Batcher) targets(ctx context.Context, opts Options) ([]news.User, error) {
	if opts.Email != "" {
		user, err := b.users.GetByEmail(ctx, opts.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", opts.Email, err)
		}
		return []news.User{user}, nil
	}
	users, err := b.users.ListSubscribed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribed users: %w", err)
	}
	return users, nil
}

var errNothingRelevant = errors.New("no relevant articles")

func (b *Batcher) processUser(ctx context.Context, user news.User, articles []news.Article) error {
	selected := relevance.SelectFor(b.scorer, articles, user, b.cfg.MaxPerDigest)
	if len(selected) == 0 {
		return errNothingRelevant
	}

	userCtx, cancel := context.WithTimeout(ctx, b.cfg.PerUserTimeout)
	defer cancel()

	body, err := b.summarizer.Summarize(userCtx, user.Preferences, selected)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	subject := fmt.Sprintf("Your %s news digest", user.Preferences.Frequency)
	if err := b.deliverer.Deliver(userCtx, user, subject, body, selected); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	return nil
}

func (b *Batcher) emitSkip(user news.User, cause error) {
	b.emitter.Emit(events.Event{
		Kind:   events.KindDigestSkipped,
		TS:     b.clock.Now(),
		UserID: user.ID,
		Note:   cause.Error(),
	})
}

// due reports whether a user's frequency fires at the given time. Weekly
// digests go out on the configured weekday, monthly on the first.
func due(freq news.Frequency, now time.Time, weeklyDay time.Weekday) bool {
	switch freq {
	case news.FrequencyWeekly:
		return now.UTC().Weekday() == weeklyDay
	case news.FrequencyMonthly:
		return now.UTC().Day() == 1
	default:
		return true
	}
}
