package news

import (
	"context"
	"time"
)

// ArticleStore persists deduplicated articles keyed by link.
type ArticleStore interface {
	// Upsert inserts the article unless its link already exists. The bool
	// reports whether a new row was created; the id is valid either way.
	Upsert(ctx context.Context, article Article) (bool, string, error)

	// ListUnprocessed returns up to limit unprocessed articles,
	// oldest-scraped first.
	ListUnprocessed(ctx context.Context, limit int) ([]Article, error)

	// MarkProcessed flips processed=true for the whole id set in one atomic
	// statement. Re-marking already-processed rows is a no-op.
	MarkProcessed(ctx context.Context, ids []string) error

	// Get returns one article by id, or store.ErrNotFound.
	Get(ctx context.Context, id string) (Article, error)
}

// SourceStore reads crawl sources and records bookkeeping.
type SourceStore interface {
	ListActive(ctx context.Context) ([]Source, error)
	TouchCrawled(ctx context.Context, sourceID string, at time.Time) error
}

// UserStore reads subscriber records. The batcher never writes users.
type UserStore interface {
	ListSubscribed(ctx context.Context) ([]User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
}

// RunStore checkpoints crawl runs and their tasks.
type RunStore interface {
	// CreateRun persists the run and all its tasks before anything is
	// enqueued, so a restart can resume instead of re-running.
	CreateRun(ctx context.Context, run CrawlRun, tasks []CrawlTask) error

	// MarkTaskDone / MarkTaskFailed transition a task to a terminal state and
	// atomically increment the matching run counter, returning the updated
	// run so the caller can detect the terminal transition.
	MarkTaskDone(ctx context.Context, runID, sourceID string) (CrawlRun, error)
	MarkTaskFailed(ctx context.Context, runID, sourceID string) (CrawlRun, error)

	// CompleteRun records the terminal state once all counters have landed.
	CompleteRun(ctx context.Context, runID string, state RunState, at time.Time) error

	GetRun(ctx context.Context, runID string) (CrawlRun, error)

	// ActiveRun returns the non-terminal run for the schedule slot, or
	// ErrNotFound when the slot is clear.
	ActiveRun(ctx context.Context, scheduleSlot string) (CrawlRun, error)

	// LatestCompletedRun returns the most recent terminal run, used by the
	// digest batcher to record which crawl cycle it consumed.
	LatestCompletedRun(ctx context.Context) (CrawlRun, error)

	// PendingTasks lists tasks still pending or in-flight for a run, used to
	// resume after a restart.
	PendingTasks(ctx context.Context, runID string) ([]CrawlTask, error)
}

// AnalyticsStore applies atomic counter increments per dimension and serves
// the read-side queries.
type AnalyticsStore interface {
	IncrementDelivered(ctx context.Context, dim Dimension, at time.Time) error
	IncrementFeedback(ctx context.Context, dim Dimension, kind FeedbackKind, at time.Time) error
	IncrementClicks(ctx context.Context, dim Dimension, at time.Time) error

	TopCompanies(ctx context.Context, limit int) ([]CounterRow, error)
	TopIndustries(ctx context.Context, limit int) ([]CounterRow, error)
	SourcePerformance(ctx context.Context) ([]CounterRow, error)
}

// Dimension identifies one counter row.
type Dimension struct {
	Kind DimensionKind `json:"kind"`
	Key  string        `json:"key"`
}

// DimensionKind enumerates tracked counter dimensions.
type DimensionKind string

// Counter dimensions.
const (
	DimArticle  DimensionKind = "article"
	DimSource   DimensionKind = "source"
	DimCompany  DimensionKind = "company"
	DimIndustry DimensionKind = "industry"
	DimDay      DimensionKind = "day"
)

// CounterRow is one analytics counter with its derived score. LastCrawledAt
// is populated for source rows only.
type CounterRow struct {
	Dimension     Dimension  `json:"dimension"`
	Delivered     int64      `json:"delivered"`
	Positive      int64      `json:"positive_feedback"`
	Negative      int64      `json:"negative_feedback"`
	Clicks        int64      `json:"clicks"`
	Popularity    int64      `json:"popularity_score"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
}

// Fetcher retrieves the raw payload for a source URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Parser extracts candidate articles from a raw payload.
type Parser interface {
	Parse(ctx context.Context, source Source, payload []byte) ([]Article, error)
}

// Summarizer turns a user's relevant articles into digest content. External
// collaborator; failures are per-user, never fatal to a run.
type Summarizer interface {
	Summarize(ctx context.Context, prefs Preferences, articles []Article) (string, error)
}

// MailTransport delivers one rendered digest.
type MailTransport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Scorer rates an article's relevance for a user. Zero means irrelevant.
type Scorer interface {
	Score(article Article, user User) float64
}

// SecretProvider is a read-only credential lookup resolved at process start.
type SecretProvider interface {
	Secret(key string) (string, bool)
}

// Clock returns the current time (fakeable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run/article IDs.
type IDGenerator interface {
	NewID() (string, error)
}
