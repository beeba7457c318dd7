// Package scheduler wires the crawl and digest triggers onto cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/digest"
	"github.com/djmorgan26/up2d8/internal/metrics"
	"github.com/djmorgan26/up2d8/internal/orchestrator"
)

// Config carries the cron expressions (standard 5-field format).
type Config struct {
	CrawlSpec  string
	DigestSpec string
}

// Scheduler owns the cron instance driving the background pipeline.
type Scheduler struct {
	cron    *cron.Cron
	orch    *orchestrator.Orchestrator
	batcher *digest.Batcher
	logger  *zap.Logger
}

// New registers both triggers and returns the scheduler, not yet started.
func New(cfg Config, orch *orchestrator.Orchestrator, batcher *digest.Batcher, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(),
		orch:    orch,
		batcher: batcher,
		logger:  logger,
	}

	if cfg.CrawlSpec != "" {
		if _, err := s.cron.AddFunc(cfg.CrawlSpec, s.triggerCrawl); err != nil {
			return nil, fmt.Errorf("add crawl schedule %q: %w", cfg.CrawlSpec, err)
		}
	}
	if cfg.DigestSpec != "" {
		if _, err := s.cron.AddFunc(cfg.DigestSpec, s.triggerDigest); err != nil {
			return nil, fmt.Errorf("add digest schedule %q: %w", cfg.DigestSpec, err)
		}
	}
	return s, nil
}

// Start begins firing the registered schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedules and waits for running triggers to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop wait: %w", ctx.Err())
	}
}

func (s *Scheduler) triggerCrawl() {
	run, err := s.orch.StartRun(context.Background())
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		s.logger.Warn("crawl trigger skipped, previous run still going")
	case err != nil:
		s.logger.Error("crawl trigger failed", zap.Error(err))
	default:
		s.logger.Info("crawl trigger fired",
			zap.String("run_id", run.ID),
			zap.Int("tasks", run.TotalTasks),
		)
	}
}

func (s *Scheduler) triggerDigest() {
	summary, err := s.batcher.Run(context.Background(), digest.Options{})
	switch {
	case errors.Is(err, digest.ErrCycleInProgress):
		s.logger.Warn("digest trigger skipped, previous cycle still going")
	case err != nil:
		s.logger.Error("digest trigger failed", zap.Error(err))
	default:
		metrics.ObserveDigestCycle(summary.Status)
		s.logger.Info("digest trigger fired",
			zap.String("status", summary.Status),
			zap.Int("sent", summary.NewslettersSent),
		)
	}
}
