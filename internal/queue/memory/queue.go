// Package memory provides a queue implementation for local development and
// tests. It keeps full lease semantics so the worker path behaves the same
// as it does against Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/queue"
)

type lease struct {
	task     news.CrawlTask
	deadline time.Time
}

// Queue is an in-memory lease queue with context-aware operations.
type Queue struct {
	cfg   queue.Config
	clock news.Clock

	mu       sync.Mutex
	pending  []news.CrawlTask
	inflight map[string]lease
	notify   chan struct{}
	closed   bool
}

// NewQueue constructs a queue with the provided configuration.
func NewQueue(cfg queue.Config, clock news.Clock) *Queue {
	return &Queue{
		cfg:      cfg.Normalize(),
		clock:    clock,
		inflight: make(map[string]lease),
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends the task to the pending backlog.
func (q *Queue) Enqueue(ctx context.Context, task news.CrawlTask) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	q.pending = append(q.pending, task)
	q.wake()
	return nil
}

// Dequeue pops the next visible task, blocking until one is available, an
// expired lease is redelivered, or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (news.CrawlTask, string, error) {
	for {
		task, token, wait, err := q.tryDequeue()
		if err != nil {
			return news.CrawlTask{}, "", err
		}
		if token != "" {
			return task, token, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return news.CrawlTask{}, "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryDequeue reaps expired leases and hands out the head of the backlog. The
// returned wait is how long to sleep before the next expiry check when the
// backlog is empty.
func (q *Queue) tryDequeue() (news.CrawlTask, string, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return news.CrawlTask{}, "", 0, queue.ErrClosed
	}
	q.reapLocked()

	if len(q.pending) == 0 {
		wait := q.cfg.LeaseWindow
		now := q.clock.Now()
		for _, l := range q.inflight {
			if d := l.deadline.Sub(now); d > 0 && d < wait {
				wait = d
			}
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		return news.CrawlTask{}, "", wait, nil
	}

	task := q.pending[0]
	q.pending = q.pending[1:]
	task.State = news.TaskStateInFlight
	token := uuid.NewString()
	q.inflight[token] = lease{task: task, deadline: q.clock.Now().Add(q.cfg.LeaseWindow)}
	return task, token, 0, nil
}

// Ack removes the leased task for good.
func (q *Queue) Ack(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[token]; !ok {
		return queue.ErrUnknownLease
	}
	delete(q.inflight, token)
	return nil
}

// Release puts the leased task back at the head of the backlog with an
// incremented attempt count.
func (q *Queue) Release(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.inflight[token]
	if !ok {
		return queue.ErrUnknownLease
	}
	delete(q.inflight, token)
	q.requeueLocked(l.task)
	return nil
}

// ExtendLease moves the visibility deadline out by one lease window.
func (q *Queue) ExtendLease(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.inflight[token]
	if !ok {
		return queue.ErrUnknownLease
	}
	l.deadline = q.clock.Now().Add(q.cfg.LeaseWindow)
	q.inflight[token] = l
	return nil
}

// Close rejects further operations. In-flight leases are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wake()
}

// Depth reports the pending backlog size, used by metrics.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// reapLocked redelivers every lease whose deadline has passed.
func (q *Queue) reapLocked() {
	now := q.clock.Now()
	for token, l := range q.inflight {
		if !l.deadline.After(now) {
			delete(q.inflight, token)
			q.requeueLocked(l.task)
		}
	}
}

func (q *Queue) requeueLocked(task news.CrawlTask) {
	task.Attempt++
	task.State = news.TaskStatePending
	q.pending = append([]news.CrawlTask{task}, q.pending...)
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
