package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(lease time.Duration) (*Queue, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	q := NewQueue(queue.Config{LeaseWindow: lease}, clock)
	return q, clock
}

func TestQueueEnqueueDequeueAck(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	task := news.CrawlTask{RunID: "run-1", SourceID: "src-1"}
	require.NoError(t, q.Enqueue(context.Background(), task))

	got, token, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "src-1", got.SourceID)
	require.Equal(t, news.TaskStateInFlight, got.State)
	require.NotEmpty(t, token)

	require.NoError(t, q.Ack(context.Background(), token))
	require.ErrorIs(t, q.Ack(context.Background(), token), queue.ErrUnknownLease)
	require.Zero(t, q.Depth())
}

func TestQueueReleaseRedeliversWithAttempt(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	require.NoError(t, q.Enqueue(context.Background(), news.CrawlTask{RunID: "r", SourceID: "s"}))

	_, token, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Release(context.Background(), token))

	got, token2, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempt)
	require.NotEqual(t, token, token2)
}

func TestQueueLeaseExpiryRedelivers(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(30 * time.Second)
	require.NoError(t, q.Enqueue(context.Background(), news.CrawlTask{RunID: "r", SourceID: "s"}))

	_, token, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	got, _, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "s", got.SourceID)
	require.Equal(t, 1, got.Attempt)

	// The original lease is gone after redelivery.
	require.ErrorIs(t, q.Ack(context.Background(), token), queue.ErrUnknownLease)
}

func TestQueueExtendLeaseKeepsTaskInvisible(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(30 * time.Second)
	require.NoError(t, q.Enqueue(context.Background(), news.CrawlTask{RunID: "r", SourceID: "s"}))

	_, token, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	require.NoError(t, q.ExtendLease(context.Background(), token))
	clock.Advance(20 * time.Second)

	// 40s elapsed but the lease was renewed at t+20s, so nothing is visible.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = q.Dequeue(ctx)
	require.Error(t, err)

	require.NoError(t, q.Ack(context.Background(), token))
}

func TestQueueDequeueCancellation(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := q.Dequeue(ctx)
	require.ErrorContains(t, err, "dequeue canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(time.Minute)
	q.Close()
	require.ErrorIs(t, q.Enqueue(context.Background(), news.CrawlTask{}), queue.ErrClosed)
	_, _, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
}
