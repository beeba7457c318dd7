package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/djmorgan26/up2d8/internal/digest"
	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/orchestrator"
	"github.com/djmorgan26/up2d8/internal/store"
)

const (
	defaultAnalyticsLimit = 10
	maxAnalyticsLimit     = 100
)

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	run, err := s.crawl.StartRun(r.Context())
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "crawl run already in progress")
			return
		}
		s.logger.Error("start crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

type digestRequest struct {
	Email string `json:"email"`
	Force bool   `json:"force"`
}

// runDigest triggers a cycle synchronously and returns its summary. A summary
// with status completed_with_errors is still a 200; per-user failures are not
// transport failures.
func (s *Server) runDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	summary, err := s.digest.Run(r.Context(), digest.Options{Force: req.Force, Email: req.Email})
	if err != nil {
		switch {
		case errors.Is(err, digest.ErrCycleInProgress):
			writeError(w, http.StatusConflict, "digest cycle already in progress")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "subscriber not found")
		default:
			// Structural failures keep the summary shape so callers always
			// parse the same envelope.
			s.logger.Error("digest cycle failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"summary": news.DigestSummary{
				Status: digest.StatusError,
				Errors: []string{err.Error()},
			}})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

type feedbackRequest struct {
	ArticleID string `json:"article_id"`
	Kind      string `json:"kind"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ArticleID == "" {
		writeError(w, http.StatusBadRequest, "article_id is required")
		return
	}
	kind := news.FeedbackKind(req.Kind)
	if kind != news.FeedbackPositive && kind != news.FeedbackNegative {
		writeError(w, http.StatusBadRequest, "kind must be positive or negative")
		return
	}
	article, ok := s.loadArticle(w, r, req.ArticleID)
	if !ok {
		return
	}
	s.emitter.Emit(events.Event{
		Kind:     events.KindFeedback,
		TS:       s.clock.Now(),
		Article:  article,
		Feedback: kind,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type clickRequest struct {
	ArticleID string `json:"article_id"`
}

func (s *Server) submitClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ArticleID == "" {
		writeError(w, http.StatusBadRequest, "article_id is required")
		return
	}
	article, ok := s.loadArticle(w, r, req.ArticleID)
	if !ok {
		return
	}
	s.emitter.Emit(events.Event{
		Kind:    events.KindClick,
		TS:      s.clock.Now(),
		Article: article,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// loadArticle resolves the article so the analytics sink can fan counters out
// over its source, companies, and industries. Writes the error response itself.
func (s *Server) loadArticle(w http.ResponseWriter, r *http.Request, id string) (news.Article, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	article, err := s.articles.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return news.Article{}, false
		}
		s.logger.Error("get article failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load article")
		return news.Article{}, false
	}
	return article, true
}

func (s *Server) topCompanies(w http.ResponseWriter, r *http.Request) {
	s.serveCounters(w, r, s.analytics.TopCompanies)
}

func (s *Server) topIndustries(w http.ResponseWriter, r *http.Request) {
	s.serveCounters(w, r, s.analytics.TopIndustries)
}

func (s *Server) sourcePerformance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	rows, err := s.analytics.SourcePerformance(ctx)
	if err != nil {
		s.logger.Error("source performance failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source performance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counters": rows})
}

func (s *Server) serveCounters(
	w http.ResponseWriter,
	r *http.Request,
	query func(ctx context.Context, limit int) ([]news.CounterRow, error),
) {
	limit, err := parseLimit(r, defaultAnalyticsLimit, maxAnalyticsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	rows, err := query(ctx, limit)
	if err != nil {
		s.logger.Error("analytics query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counters": rows})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
