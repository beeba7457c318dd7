// Package api exposes the HTTP interface for the digest service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/digest"
	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/metrics"
	"github.com/djmorgan26/up2d8/internal/news"
)

const storeTimeout = 5 * time.Second

// CrawlTrigger starts a crawl run on demand.
type CrawlTrigger interface {
	StartRun(ctx context.Context) (news.CrawlRun, error)
}

// DigestTrigger runs a digest cycle on demand.
type DigestTrigger interface {
	Run(ctx context.Context, opts digest.Options) (news.DigestSummary, error)
}

// Server wires HTTP handlers to the stores, triggers, and event hub.
type Server struct {
	router    chi.Router
	articles  news.ArticleStore
	runs      news.RunStore
	analytics news.AnalyticsStore
	crawl     CrawlTrigger
	digest    DigestTrigger
	emitter   events.Emitter
	clock     news.Clock
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	articles news.ArticleStore,
	runs news.RunStore,
	analytics news.AnalyticsStore,
	crawl CrawlTrigger,
	digestTrigger DigestTrigger,
	emitter events.Emitter,
	clock news.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	metrics.Init()

	s := &Server{
		articles:  articles,
		runs:      runs,
		analytics: analytics,
		crawl:     crawl,
		digest:    digestTrigger,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl/run", s.startCrawl)
		r.Get("/runs/{run_id}", s.getRun)
		r.Post("/digest/run", s.runDigest)
		r.Post("/feedback", s.submitFeedback)
		r.Post("/clicks", s.submitClick)
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/companies", s.topCompanies)
			r.Get("/industries", s.topIndustries)
			r.Get("/sources", s.sourcePerformance)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		dur := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), dur)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", dur.Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
