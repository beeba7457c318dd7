// Package worker implements the crawl task execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/metrics"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/queue"
	"github.com/djmorgan26/up2d8/internal/retry"
)

// Strategies resolves the fetch strategy and parser for a source kind.
type Strategies interface {
	For(kind news.SourceKind) (news.Fetcher, news.Parser, error)
}

// Worker consumes crawl tasks, fetches and parses the source, and persists
// the articles. A source yielding zero articles is still a successful task.
type Worker struct {
	queue      queue.Queue
	strategies Strategies
	articles   news.ArticleStore
	sources    news.SourceStore
	runs       news.RunStore
	clock      news.Clock
	policy     *retry.Policy
	emitter    events.Emitter
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	q queue.Queue,
	strategies Strategies,
	articles news.ArticleStore,
	sources news.SourceStore,
	runs news.RunStore,
	clock news.Clock,
	policy *retry.Policy,
	emitter events.Emitter,
	logger *zap.Logger,
) *Worker {
	if policy == nil {
		policy = retry.NewPolicy(0, 0, 0)
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      q,
		strategies: strategies,
		articles:   articles,
		sources:    sources,
		runs:       runs,
		clock:      clock,
		policy:     policy,
		emitter:    emitter,
		logger:     logger,
	}
}

// Run blocks, consuming tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, token, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("run_id", task.RunID),
			zap.String("source_id", task.SourceID),
			zap.Int("attempt", task.Attempt),
		)
		w.processTask(ctx, task, token)
	}
}

func (w *Worker) processTask(ctx context.Context, task news.CrawlTask, token string) {
	metrics.IncActiveCrawlWorkers()
	defer metrics.DecActiveCrawlWorkers()

	start := w.clock.Now()

	// Render fetches can outlive the lease window, so keep the lease fresh
	// while the crawl is in progress.
	keeper := newLeaseKeeper(w.queue, token, leaseExtendInterval)
	stored, err := w.crawl(ctx, task)
	keeper.stop()
	if err != nil {
		w.handleFailure(ctx, task, token, err)
		return
	}

	if err := w.sources.TouchCrawled(ctx, task.SourceID, w.clock.Now()); err != nil {
		w.logger.Warn("touch crawled failed", zap.String("source_id", task.SourceID), zap.Error(err))
	}

	run, err := w.runs.MarkTaskDone(ctx, task.RunID, task.SourceID)
	if err != nil {
		// Leave the lease to expire so the checkpoint write is retried.
		w.logger.Error("mark task done failed",
			zap.String("run_id", task.RunID),
			zap.String("source_id", task.SourceID),
			zap.Error(err),
		)
		return
	}
	if err := w.queue.Ack(ctx, token); err != nil && !errors.Is(err, queue.ErrUnknownLease) {
		w.logger.Warn("ack failed", zap.String("run_id", task.RunID), zap.Error(err))
	}

	w.emitter.Emit(events.Event{
		Kind:     events.KindTaskDone,
		TS:       w.clock.Now(),
		RunID:    task.RunID,
		SourceID: task.SourceID,
		Articles: stored,
		Dur:      w.clock.Now().Sub(start),
	})
	w.maybeCompleteRun(ctx, run)
}

// crawl fetches and parses one source and upserts every extracted article.
// The returned count covers newly inserted articles only.
func (w *Worker) crawl(ctx context.Context, task news.CrawlTask) (int, error) {
	fetcher, parser, err := w.strategies.For(task.Kind)
	if err != nil {
		return 0, &permanentError{err: err}
	}

	payload, err := fetcher.Fetch(ctx, task.FetchURI)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", task.FetchURI, err)
	}

	source := news.Source{ID: task.SourceID, FetchURI: task.FetchURI, Kind: task.Kind}
	articles, err := parser.Parse(ctx, source, payload)
	if err != nil {
		return 0, &permanentError{err: fmt.Errorf("parse %s: %w", task.SourceID, err)}
	}

	stored := 0
	now := w.clock.Now()
	for _, article := range articles {
		article.ScrapedAt = now
		inserted, _, err := w.articles.Upsert(ctx, article)
		if err != nil {
			return stored, fmt.Errorf("upsert %s: %w", article.Link, err)
		}
		if inserted {
			stored++
			metrics.ObserveArticleStored("inserted")
		} else {
			metrics.ObserveArticleStored("duplicate")
		}
	}
	return stored, nil
}

func (w *Worker) handleFailure(ctx context.Context, task news.CrawlTask, token string, taskErr error) {
	if w.policy.ShouldRetry(taskErr, task.Attempt) {
		w.logger.Warn("task failed, releasing for retry",
			zap.String("run_id", task.RunID),
			zap.String("source_id", task.SourceID),
			zap.Int("attempt", task.Attempt),
			zap.Error(taskErr),
		)
		if err := w.queue.Release(ctx, token); err != nil && !errors.Is(err, queue.ErrUnknownLease) {
			w.logger.Error("release failed", zap.String("run_id", task.RunID), zap.Error(err))
		}
		return
	}

	w.logger.Error("task failed permanently",
		zap.String("run_id", task.RunID),
		zap.String("source_id", task.SourceID),
		zap.Int("attempt", task.Attempt),
		zap.Error(taskErr),
	)

	run, err := w.runs.MarkTaskFailed(ctx, task.RunID, task.SourceID)
	if err != nil {
		w.logger.Error("mark task failed failed",
			zap.String("run_id", task.RunID),
			zap.String("source_id", task.SourceID),
			zap.Error(err),
		)
		return
	}
	if err := w.queue.Ack(ctx, token); err != nil && !errors.Is(err, queue.ErrUnknownLease) {
		w.logger.Warn("ack failed", zap.String("run_id", task.RunID), zap.Error(err))
	}

	w.emitter.Emit(events.Event{
		Kind:     events.KindTaskFailed,
		TS:       w.clock.Now(),
		RunID:    task.RunID,
		SourceID: task.SourceID,
		Note:     taskErr.Error(),
	})
	w.maybeCompleteRun(ctx, run)
}

// maybeCompleteRun closes the run once the last counter lands. Whichever
// worker observes the terminal transition performs the close; CompleteRun is
// guarded so a second close is a no-op.
func (w *Worker) maybeCompleteRun(ctx context.Context, run news.CrawlRun) {
	if !run.Terminal() || run.State != news.RunStateRunning {
		return
	}
	now := w.clock.Now()
	if err := w.runs.CompleteRun(ctx, run.ID, run.FinalState(), now); err != nil {
		w.logger.Error("complete run failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	w.logger.Info("crawl run completed",
		zap.String("run_id", run.ID),
		zap.String("state", string(run.FinalState())),
		zap.Int("completed", run.CompletedTasks),
		zap.Int("failed", run.FailedTasks),
	)
	w.emitter.Emit(events.Event{
		Kind:  events.KindRunDone,
		TS:    now,
		RunID: run.ID,
		Dur:   now.Sub(run.StartedAt),
		Note:  string(run.FinalState()),
	})
}

// permanentError marks failures that must not be retried, such as parse
// errors and unknown source kinds.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Transient() bool { return false }

var _ retry.Transient = (*permanentError)(nil)

// leaseExtendInterval is how often an in-progress task refreshes its lease.
const leaseExtendInterval = 20 * time.Second

// leaseKeeper extends a task lease on an interval while a crawl runs.
type leaseKeeper struct {
	queue    queue.Queue
	token    string
	interval time.Duration
	done     chan struct{}
}

func newLeaseKeeper(q queue.Queue, token string, interval time.Duration) *leaseKeeper {
	k := &leaseKeeper{queue: q, token: token, interval: interval, done: make(chan struct{})}
	go k.run()
	return k
}

func (k *leaseKeeper) run() {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), k.interval)
			if err := k.queue.ExtendLease(ctx, k.token); err != nil {
				cancel()
				return
			}
			cancel()
		case <-k.done:
			return
		}
	}
}

func (k *leaseKeeper) stop() {
	close(k.done)
}
