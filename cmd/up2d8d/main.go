// Package main wires together the news digest service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/analytics"
	"github.com/djmorgan26/up2d8/internal/api"
	"github.com/djmorgan26/up2d8/internal/clock/system"
	"github.com/djmorgan26/up2d8/internal/config"
	"github.com/djmorgan26/up2d8/internal/delivery"
	"github.com/djmorgan26/up2d8/internal/digest"
	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/events/sinks"
	"github.com/djmorgan26/up2d8/internal/fetch"
	"github.com/djmorgan26/up2d8/internal/id/uuid"
	"github.com/djmorgan26/up2d8/internal/logging"
	"github.com/djmorgan26/up2d8/internal/mail"
	"github.com/djmorgan26/up2d8/internal/metrics"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/orchestrator"
	"github.com/djmorgan26/up2d8/internal/queue"
	queuememory "github.com/djmorgan26/up2d8/internal/queue/memory"
	queueredis "github.com/djmorgan26/up2d8/internal/queue/redis"
	"github.com/djmorgan26/up2d8/internal/relevance"
	"github.com/djmorgan26/up2d8/internal/retry"
	"github.com/djmorgan26/up2d8/internal/scheduler"
	"github.com/djmorgan26/up2d8/internal/secrets"
	"github.com/djmorgan26/up2d8/internal/store/postgres"
	"github.com/djmorgan26/up2d8/internal/summarize"
	"github.com/djmorgan26/up2d8/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	dotenvPath := flag.String("dotenv", ".env", "Path to optional .env file")
	flag.Parse()

	secretStore, err := secrets.Load(*dotenvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load secrets failed: %v\n", err)
		os.Exit(1)
	}
	// Viper reads the DSN from the environment; surface a .env value there so
	// both paths behave the same.
	if dsn, ok := secretStore.Secret(secrets.KeyDatabaseDSN); ok {
		if err := os.Setenv(secrets.KeyDatabaseDSN, dsn); err != nil {
			fmt.Fprintf(os.Stderr, "set dsn env failed: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	clock := system.New()
	idGen := uuid.New()

	articleStore := postgres.NewArticleStore(pool, idGen)
	sourceStore := postgres.NewSourceStore(pool)
	runStore := postgres.NewRunStore(pool)
	userStore := postgres.NewUserStore(pool)
	analyticsStore := postgres.NewAnalyticsStore(pool)

	queueCfg := queue.Config{LeaseWindow: cfg.LeaseWindow()}
	var taskQueue queue.Queue
	var memQueue *queuememory.Queue
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
		taskQueue = queueredis.NewQueue(rdb, "", queueCfg, clock)
		logger.Info("using redis task queue", zap.String("addr", cfg.Redis.Addr))
	} else {
		memQueue = queuememory.NewQueue(queueCfg, clock)
		taskQueue = memQueue
		logger.Warn("using in-memory task queue; crawl state does not survive restarts")
	}

	fetchCfg := fetch.Config{
		UserAgent:         cfg.Crawl.UserAgent,
		RequestTimeout:    cfg.RequestTimeout(),
		RatePerHost:       cfg.Crawl.RatePerHost,
		NavigationTimeout: time.Duration(cfg.Render.NavTimeoutSec) * time.Second,
		MaxParallelRender: cfg.Render.MaxParallel,
	}
	limiter := fetch.NewHostLimiter(cfg.Crawl.RatePerHost, 0)
	httpFetcher, err := fetch.NewCollyFetcher(fetchCfg, limiter, logger.Named("fetch"))
	if err != nil {
		logger.Fatal("http fetcher init failed", zap.Error(err))
	}
	var renderFetcher news.Fetcher
	if cfg.Render.Enabled {
		rf := fetch.NewRenderFetcher(fetchCfg)
		defer rf.Close()
		renderFetcher = rf
	}
	registry := fetch.NewRegistry(httpFetcher, renderFetcher)

	metrics.Init()
	aggregator := analytics.NewAggregator(analyticsStore, clock, logger.Named("analytics"))
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	hub := events.NewHub(
		events.Config{Logger: logger.Named("events")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		sinks.NewAnalyticsSink(aggregator, logger.Named("analytics")),
	)

	crawlPolicy := retry.NewPolicy(cfg.Crawl.MaxAttempts, 0, 0)
	var workers []*worker.Worker
	for i := 0; i < cfg.Crawl.Workers; i++ {
		workers = append(workers, worker.New(
			taskQueue,
			registry,
			articleStore,
			sourceStore,
			runStore,
			clock,
			crawlPolicy,
			hub,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	orch := orchestrator.New(
		sourceStore,
		runStore,
		taskQueue,
		workers,
		clock,
		idGen,
		hub,
		logger.Named("orchestrator"),
	)

	var summarizer news.Summarizer
	if apiKey, ok := secretStore.Secret(secrets.KeySummarizerAPIKey); ok {
		client, err := summarize.NewOpenAIClient(summarize.Config{
			Endpoint: cfg.Summarizer.Endpoint,
			Model:    cfg.Summarizer.Model,
			APIKey:   apiKey,
			Timeout:  time.Duration(cfg.Summarizer.TimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Fatal("summarizer init failed", zap.Error(err))
		}
		summarizer = client
	} else {
		logger.Warn("no summarizer api key; using static digest rendering")
		summarizer = summarize.NewStaticSummarizer()
	}

	var transport news.MailTransport
	if cfg.SMTP.Host != "" {
		password, _ := secretStore.Secret(secrets.KeySMTPPassword)
		smtpTransport, err := mail.NewSMTPTransport(mail.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			logger.Fatal("smtp transport init failed", zap.Error(err))
		}
		transport = smtpTransport
	} else {
		logger.Warn("no smtp host configured; digests are logged, not sent")
		transport = mail.NewLogTransport(logger.Named("delivery"))
	}

	deliveryPolicy := retry.NewPolicy(
		cfg.Delivery.MaxAttempts,
		time.Duration(cfg.Delivery.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Delivery.BackoffMaxMs)*time.Millisecond,
	)
	dispatcher := delivery.NewDispatcher(transport, deliveryPolicy, clock, hub, logger.Named("delivery"))

	weeklyDay, err := cfg.WeeklyDay()
	if err != nil {
		logger.Fatal("invalid digest weekday", zap.Error(err))
	}
	batcher := digest.NewBatcher(
		digest.Config{
			BatchLimit:     cfg.Digest.BatchLimit,
			MaxPerDigest:   cfg.Digest.MaxPerDigest,
			PerUserTimeout: cfg.PerUserTimeout(),
			WeeklyDay:      weeklyDay,
		},
		articleStore,
		userStore,
		runStore,
		relevance.NewKeywordScorer(),
		summarizer,
		dispatcher,
		clock,
		hub,
		logger.Named("digest"),
	)

	sched, err := scheduler.New(
		scheduler.Config{CrawlSpec: cfg.Schedule.Crawl, DigestSpec: cfg.Schedule.Digest},
		orch,
		batcher,
		logger.Named("scheduler"),
	)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	apiServer := api.NewServer(
		articleStore,
		runStore,
		analyticsStore,
		orch,
		batcher,
		hub,
		clock,
		logger.Named("api"),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("crawl workers started", zap.Int("count", len(workers)))
		orch.Run(ctx)
	}()

	// Re-enqueue tasks from a run interrupted by the previous shutdown.
	if err := orch.Resume(ctx); err != nil {
		logger.Warn("crawl run resume failed", zap.Error(err))
	}

	sched.Start()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}
	if memQueue != nil {
		memQueue.Close()
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
