// Package redis provides the durable crawl queue backed by Redis.
//
// Layout: a pending list holds serialized tasks awaiting delivery, an
// in-flight sorted set maps lease tokens to visibility deadlines, and a hash
// keeps the payload for each outstanding lease. A dequeue first sweeps
// expired leases back onto the pending list, so redelivery needs no separate
// reaper process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/queue"
)

const pollInterval = 250 * time.Millisecond

// Queue implements queue.Queue on a Redis connection.
type Queue struct {
	rdb   *redis.Client
	cfg   queue.Config
	clock news.Clock

	pendingKey  string
	inflightKey string
	payloadKey  string
}

// NewQueue constructs a Queue. The prefix namespaces all keys so several
// environments can share one Redis.
func NewQueue(rdb *redis.Client, prefix string, cfg queue.Config, clock news.Clock) *Queue {
	if prefix == "" {
		prefix = "up2d8:crawlq"
	}
	return &Queue{
		rdb:         rdb,
		cfg:         cfg.Normalize(),
		clock:       clock,
		pendingKey:  prefix + ":pending",
		inflightKey: prefix + ":inflight",
		payloadKey:  prefix + ":payloads",
	}
}

// Enqueue pushes the serialized task onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, task news.CrawlTask) error {
	task.State = news.TaskStatePending
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.pendingKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue sweeps expired leases, then pops the next pending task. It polls
// rather than blocking server-side so the expiry sweep keeps running while
// the backlog is empty.
func (q *Queue) Dequeue(ctx context.Context) (news.CrawlTask, string, error) {
	for {
		if err := q.reap(ctx); err != nil {
			return news.CrawlTask{}, "", err
		}

		data, err := q.rdb.LPop(ctx, q.pendingKey).Bytes()
		switch {
		case err == nil:
			return q.lease(ctx, data)
		case errors.Is(err, redis.Nil):
			// backlog empty, poll again
		default:
			return news.CrawlTask{}, "", fmt.Errorf("pop pending: %w", err)
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return news.CrawlTask{}, "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// lease registers the popped task under a fresh token.
func (q *Queue) lease(ctx context.Context, data []byte) (news.CrawlTask, string, error) {
	var task news.CrawlTask
	if err := json.Unmarshal(data, &task); err != nil {
		return news.CrawlTask{}, "", fmt.Errorf("unmarshal task: %w", err)
	}
	task.State = news.TaskStateInFlight

	payload, err := json.Marshal(task)
	if err != nil {
		return news.CrawlTask{}, "", fmt.Errorf("marshal leased task: %w", err)
	}

	token := uuid.NewString()
	deadline := q.clock.Now().Add(q.cfg.LeaseWindow)

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.payloadKey, token, payload)
	pipe.ZAdd(ctx, q.inflightKey, redis.Z{Score: float64(deadline.UnixMilli()), Member: token})
	if _, err := pipe.Exec(ctx); err != nil {
		return news.CrawlTask{}, "", fmt.Errorf("register lease: %w", err)
	}
	return task, token, nil
}

// Ack drops the lease and its payload.
func (q *Queue) Ack(ctx context.Context, token string) error {
	removed, err := q.rdb.ZRem(ctx, q.inflightKey, token).Result()
	if err != nil {
		return fmt.Errorf("ack lease: %w", err)
	}
	if removed == 0 {
		return queue.ErrUnknownLease
	}
	if err := q.rdb.HDel(ctx, q.payloadKey, token).Err(); err != nil {
		return fmt.Errorf("drop payload: %w", err)
	}
	return nil
}

// Release returns the leased task to the head of the pending list with an
// incremented attempt count.
func (q *Queue) Release(ctx context.Context, token string) error {
	return q.requeue(ctx, token)
}

// ExtendLease renews the visibility deadline for an outstanding lease.
func (q *Queue) ExtendLease(ctx context.Context, token string) error {
	deadline := float64(q.clock.Now().Add(q.cfg.LeaseWindow).UnixMilli())
	added, err := q.rdb.ZAddXX(ctx, q.inflightKey, redis.Z{Score: deadline, Member: token}).Result()
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	// ZADD XX reports 0 both for updates and for missing members, so confirm
	// the member actually exists.
	if added == 0 {
		if _, err := q.rdb.ZScore(ctx, q.inflightKey, token).Result(); errors.Is(err, redis.Nil) {
			return queue.ErrUnknownLease
		} else if err != nil {
			return fmt.Errorf("check lease: %w", err)
		}
	}
	return nil
}

// reap moves every expired lease back to pending.
func (q *Queue) reap(ctx context.Context) error {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	expired, err := q.rdb.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("scan expired leases: %w", err)
	}
	for _, token := range expired {
		if err := q.requeue(ctx, token); err != nil && !errors.Is(err, queue.ErrUnknownLease) {
			return err
		}
	}
	return nil
}

// requeue atomically moves one lease back onto the pending list.
func (q *Queue) requeue(ctx context.Context, token string) error {
	data, err := q.rdb.HGet(ctx, q.payloadKey, token).Bytes()
	if errors.Is(err, redis.Nil) {
		return queue.ErrUnknownLease
	}
	if err != nil {
		return fmt.Errorf("load lease payload: %w", err)
	}

	var task news.CrawlTask
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("unmarshal lease payload: %w", err)
	}
	task.Attempt++
	task.State = news.TaskStatePending
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal requeued task: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.pendingKey, payload)
	zrem := pipe.ZRem(ctx, q.inflightKey, token)
	pipe.HDel(ctx, q.payloadKey, token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	if zrem.Val() == 0 {
		// Another worker requeued the same expired lease first; the LPush
		// above duplicated the task, but the idempotent upsert downstream
		// absorbs the double delivery.
		return queue.ErrUnknownLease
	}
	return nil
}

// Depth reports the pending backlog size, used by metrics.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
