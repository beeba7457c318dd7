// Package orchestrator fans crawl work out to the queue and supervises the
// worker pool. One run covers a snapshot of the active sources; its progress
// is checkpointed in the run store so a restart resumes instead of starting
// over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/queue"
	"github.com/djmorgan26/up2d8/internal/store"
	"github.com/djmorgan26/up2d8/internal/worker"
)

// ErrRunInProgress is returned when the schedule slot already has a running
// crawl.
var ErrRunInProgress = errors.New("crawl run already in progress")

// slotFormat derives the schedule slot from the trigger time. One slot per
// day matches the daily crawl schedule.
const slotFormat = "2006-01-02"

// Orchestrator coordinates crawl runs over a pool of workers.
type Orchestrator struct {
	sources news.SourceStore
	runs    news.RunStore
	queue   queue.Queue
	workers []*worker.Worker
	clock   news.Clock
	ids     news.IDGenerator
	emitter events.Emitter
	logger  *zap.Logger
}

// New constructs an Orchestrator.
func New(
	sources news.SourceStore,
	runs news.RunStore,
	q queue.Queue,
	workers []*worker.Worker,
	clock news.Clock,
	ids news.IDGenerator,
	emitter events.Emitter,
	logger *zap.Logger,
) *Orchestrator {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sources: sources,
		runs:    runs,
		queue:   q,
		workers: workers,
		clock:   clock,
		ids:     ids,
		emitter: emitter,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range o.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// StartRun snapshots the active sources, checkpoints the run, and enqueues
// one task per source. A second trigger inside the same slot is rejected
// while the first run is still going.
func (o *Orchestrator) StartRun(ctx context.Context) (news.CrawlRun, error) {
	now := o.clock.Now()
	slot := now.UTC().Format(slotFormat)

	if _, err := o.runs.ActiveRun(ctx, slot); err == nil {
		return news.CrawlRun{}, ErrRunInProgress
	} else if !errors.Is(err, store.ErrNotFound) {
		return news.CrawlRun{}, fmt.Errorf("check active run: %w", err)
	}

	sources, err := o.sources.ListActive(ctx)
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("list active sources: %w", err)
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return news.CrawlRun{}, fmt.Errorf("generate run id: %w", err)
	}

	run := news.CrawlRun{
		ID:           runID,
		ScheduleSlot: slot,
		State:        news.RunStateRunning,
		TotalTasks:   len(sources),
		StartedAt:    now,
	}
	tasks := make([]news.CrawlTask, 0, len(sources))
	for _, src := range sources {
		tasks = append(tasks, news.CrawlTask{
			RunID:    runID,
			SourceID: src.ID,
			FetchURI: src.FetchURI,
			Kind:     src.Kind,
			State:    news.TaskStatePending,
		})
	}

	// Checkpoint before enqueueing anything: a crash between these two steps
	// leaves a resumable run, never silently lost tasks.
	if err := o.runs.CreateRun(ctx, run, tasks); err != nil {
		return news.CrawlRun{}, fmt.Errorf("create run: %w", err)
	}

	if len(tasks) == 0 {
		o.logger.Warn("no active sources, closing run immediately", zap.String("run_id", runID))
		if err := o.runs.CompleteRun(ctx, runID, news.RunStateCompleted, now); err != nil {
			return news.CrawlRun{}, fmt.Errorf("complete empty run: %w", err)
		}
		run.State = news.RunStateCompleted
		run.FinishedAt = &now
		return run, nil
	}

	for _, task := range tasks {
		if err := o.queue.Enqueue(ctx, task); err != nil {
			return news.CrawlRun{}, fmt.Errorf("enqueue task %s: %w", task.SourceID, err)
		}
	}

	o.logger.Info("crawl run started",
		zap.String("run_id", runID),
		zap.String("slot", slot),
		zap.Int("tasks", len(tasks)),
	)
	o.emitter.Emit(events.Event{Kind: events.KindRunStarted, TS: now, RunID: runID, Articles: len(tasks)})
	return run, nil
}

// Resume re-enqueues the unfinished tasks of the current slot's running run,
// if any. Called once at startup.
func (o *Orchestrator) Resume(ctx context.Context) error {
	slot := o.clock.Now().UTC().Format(slotFormat)

	run, err := o.runs.ActiveRun(ctx, slot)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check active run: %w", err)
	}

	// Counters may already be terminal if the process died between the last
	// task landing and the run close.
	if run.Terminal() {
		if err := o.runs.CompleteRun(ctx, run.ID, run.FinalState(), o.clock.Now()); err != nil {
			return fmt.Errorf("close terminal run %s: %w", run.ID, err)
		}
		o.logger.Info("closed terminal run on resume", zap.String("run_id", run.ID))
		return nil
	}

	tasks, err := o.runs.PendingTasks(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	for _, task := range tasks {
		task.State = news.TaskStatePending
		if err := o.queue.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("re-enqueue task %s: %w", task.SourceID, err)
		}
	}

	o.logger.Info("resumed crawl run",
		zap.String("run_id", run.ID),
		zap.Int("requeued", len(tasks)),
	)
	return nil
}
