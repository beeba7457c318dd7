// Package queue defines the crawl task queue contract.
//
// The queue hands out time-bounded leases: a dequeued task is invisible to
// other workers until it is acked, released, or its lease expires. Expired
// leases are redelivered, which gives at-least-once delivery; the article
// store's idempotent upsert makes redelivery safe.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

// Sentinel errors shared by all implementations.
var (
	// ErrUnknownLease is returned for tokens that were never issued or whose
	// lease already expired and was redelivered.
	ErrUnknownLease = errors.New("unknown or expired lease")

	// ErrClosed is returned once the queue has shut down.
	ErrClosed = errors.New("queue closed")
)

// Queue provides lease-based work distribution for crawl tasks.
type Queue interface {
	// Enqueue makes the task visible to workers.
	Enqueue(ctx context.Context, task news.CrawlTask) error

	// Dequeue blocks until a task is available or the context ends. The
	// returned token must be used to Ack, Release, or ExtendLease.
	Dequeue(ctx context.Context) (news.CrawlTask, string, error)

	// Ack removes the task permanently.
	Ack(ctx context.Context, token string) error

	// Release returns the task to pending for immediate redelivery with an
	// incremented attempt count.
	Release(ctx context.Context, token string) error

	// ExtendLease pushes the visibility deadline out by one lease window.
	ExtendLease(ctx context.Context, token string) error
}

// Config carries the knobs common to queue implementations.
type Config struct {
	// LeaseWindow is how long a dequeued task stays invisible.
	LeaseWindow time.Duration

	// Capacity bounds the pending backlog (memory implementation only).
	Capacity int
}

const (
	defaultLeaseWindow = 60 * time.Second
	defaultCapacity    = 256
)

// Normalize fills zero-valued knobs with defaults.
func (c Config) Normalize() Config {
	if c.LeaseWindow <= 0 {
		c.LeaseWindow = defaultLeaseWindow
	}
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	return c
}
