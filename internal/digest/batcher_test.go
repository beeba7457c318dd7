package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
	storememory "github.com/djmorgan26/up2d8/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fakeSummarizer struct {
	err     error
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (s *fakeSummarizer) Summarize(ctx context.Context, _ news.Preferences, articles []news.Article) (string, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("<p>%d articles</p>", len(articles)), nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered map[string][]news.Article
	failFor   map[string]error
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{delivered: make(map[string][]news.Article), failFor: make(map[string]error)}
}

func (d *fakeDeliverer) Deliver(_ context.Context, user news.User, _ string, _ string, articles []news.Article) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failFor[user.Email]; err != nil {
		return err
	}
	d.delivered[user.Email] = articles
	return nil
}

type fixture struct {
	articles   *storememory.ArticleStore
	users      *storememory.UserStore
	runs       *storememory.RunStore
	summarizer *fakeSummarizer
	deliverer  *fakeDeliverer
	batcher    *Batcher
	clock      fixedClock
}

// tagScorer matches when a user topic appears in the article industries.
type tagScorer struct{}

func (tagScorer) Score(article news.Article, user news.User) float64 {
	for _, topic := range user.Topics {
		for _, tag := range article.Industries {
			if tag == topic {
				return 1
			}
		}
	}
	return 0
}

func newFixture(t *testing.T, cfg Config, users ...news.User) *fixture {
	t.Helper()
	// Tuesday 2023-11-14.
	clock := fixedClock{now: time.Date(2023, 11, 14, 7, 0, 0, 0, time.UTC)}
	f := &fixture{
		articles:   storememory.NewArticleStore(&seqIDs{}),
		users:      storememory.NewUserStore(users...),
		runs:       storememory.NewRunStore(),
		summarizer: &fakeSummarizer{},
		deliverer:  newFakeDeliverer(),
		clock:      clock,
	}
	f.batcher = NewBatcher(cfg, f.articles, f.users, f.runs, tagScorer{}, f.summarizer, f.deliverer, clock, nil, nil)
	return f
}

func (f *fixture) seedArticles(t *testing.T, industries ...string) {
	t.Helper()
	for i, industry := range industries {
		a, err := news.NewArticle(fmt.Sprintf("https://example.com/%d", i), "Title", "Summary", "src-1")
		require.NoError(t, err)
		a.Industries = []string{industry}
		a.ScrapedAt = f.clock.now
		_, _, err = f.articles.Upsert(context.Background(), a)
		require.NoError(t, err)
	}
}

func dailyUser(id, email string, topics ...string) news.User {
	return news.User{
		ID: id, Email: email, Topics: topics,
		Preferences: news.Preferences{Frequency: news.FrequencyDaily, NotificationsEnabled: true, Format: "html"},
	}
}

func TestRunSendsDigestsAndMarksProcessed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{},
		dailyUser("u1", "a@example.com", "tech"),
		dailyUser("u2", "b@example.com", "sports"),
	)
	f.seedArticles(t, "tech", "tech", "finance")

	summary, err := f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, summary.Status)
	require.Equal(t, 2, summary.UsersProcessed)
	require.Equal(t, 1, summary.NewslettersSent)
	require.Equal(t, 1, summary.UsersSkipped, "no relevant articles is a quiet skip")
	require.Equal(t, 3, summary.ArticlesProcessed)
	require.Empty(t, summary.Errors)

	require.Len(t, f.deliverer.delivered["a@example.com"], 2)

	// The whole batch is marked processed, including the unmatched article.
	rest, err := f.articles.ListUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestRunEmptyBacklogIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, dailyUser("u1", "a@example.com", "tech"))

	summary, err := f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, summary.Status)
	require.Zero(t, summary.UsersProcessed)
	require.Zero(t, summary.ArticlesProcessed)
}

func TestRunFrequencyGating(t *testing.T) {
	t.Parallel()

	weekly := dailyUser("u1", "weekly@example.com", "tech")
	weekly.Preferences.Frequency = news.FrequencyWeekly
	monthly := dailyUser("u2", "monthly@example.com", "tech")
	monthly.Preferences.Frequency = news.FrequencyMonthly

	// Cycle runs on a Tuesday; weekly day is Monday.
	f := newFixture(t, Config{WeeklyDay: time.Monday}, weekly, monthly)
	f.seedArticles(t, "tech")

	summary, err := f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.UsersSkipped)
	require.Zero(t, summary.NewslettersSent)

	// Force bypasses the gate.
	f2 := newFixture(t, Config{WeeklyDay: time.Monday}, weekly, monthly)
	f2.seedArticles(t, "tech")
	summary, err = f2.batcher.Run(context.Background(), Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, 2, summary.NewslettersSent)
}

func TestRunSummarizerFailureIsRecordedSkip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{},
		dailyUser("u1", "a@example.com", "tech"),
		dailyUser("u2", "b@example.com", "tech"),
	)
	f.seedArticles(t, "tech")
	f.summarizer.err = errors.New("llm unavailable")

	summary, err := f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err, "per-user failures never fail the cycle")
	require.Equal(t, StatusWithErrors, summary.Status)
	require.Equal(t, 2, summary.UsersSkipped)
	require.Len(t, summary.Errors, 2)

	// Articles are still marked processed.
	rest, err := f.articles.ListUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestRunDeliveryFailureIsolatedPerUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{},
		dailyUser("u1", "ok@example.com", "tech"),
		dailyUser("u2", "broken@example.com", "tech"),
	)
	f.seedArticles(t, "tech")
	f.deliverer.failFor["broken@example.com"] = errors.New("mailbox full")

	summary, err := f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.NewslettersSent)
	require.Equal(t, 1, summary.UsersSkipped)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "broken@example.com")
}

func TestRunSingleUserTrigger(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{},
		dailyUser("u1", "a@example.com", "tech"),
		dailyUser("u2", "b@example.com", "tech"),
	)
	f.seedArticles(t, "tech")

	summary, err := f.batcher.Run(context.Background(), Options{Email: "a@example.com"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.UsersProcessed)
	require.Equal(t, 1, summary.NewslettersSent)
	require.Contains(t, f.deliverer.delivered, "a@example.com")
	require.NotContains(t, f.deliverer.delivered, "b@example.com")

	_, err = f.batcher.Run(context.Background(), Options{Email: "missing@example.com"})
	require.ErrorContains(t, err, "lookup user missing@example.com")
}

func TestRunUnknownEmailFailsOnEmptyBacklog(t *testing.T) {
	t.Parallel()

	// No articles seeded: the lookup must still run before the no-op return.
	f := newFixture(t, Config{}, dailyUser("u1", "a@example.com", "tech"))

	_, err := f.batcher.Run(context.Background(), Options{Email: "missing@example.com"})
	require.ErrorContains(t, err, "lookup user missing@example.com")
}

// flakyMarkStore fails MarkProcessed a fixed number of times before
// delegating to the wrapped store.
type flakyMarkStore struct {
	news.ArticleStore
	failures int
	calls    int
}

func (s *flakyMarkStore) MarkProcessed(ctx context.Context, ids []string) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection refused")
	}
	return s.ArticleStore.MarkProcessed(ctx, ids)
}

func TestRunRetriesMarkProcessed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, dailyUser("u1", "a@example.com", "tech"))
	f.seedArticles(t, "tech")
	flaky := &flakyMarkStore{ArticleStore: f.articles, failures: 1}
	b := NewBatcher(Config{}, flaky, f.users, f.runs, tagScorer{}, f.summarizer, f.deliverer, f.clock, nil, nil)

	summary, err := b.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, summary.Status)
	require.Empty(t, summary.Errors, "a transient mark failure is absorbed by the retry")
	require.Equal(t, 2, flaky.calls)

	rest, err := f.articles.ListUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestRunMarkProcessedExhaustionIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, dailyUser("u1", "a@example.com", "tech"))
	f.seedArticles(t, "tech")
	flaky := &flakyMarkStore{ArticleStore: f.articles, failures: 10}
	b := NewBatcher(Config{}, flaky, f.users, f.runs, tagScorer{}, f.summarizer, f.deliverer, f.clock, nil, nil)

	summary, err := b.Run(context.Background(), Options{})
	require.NoError(t, err, "a mark failure degrades the summary, not the cycle")
	require.Equal(t, StatusWithErrors, summary.Status)
	require.Equal(t, 1, summary.NewslettersSent)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "mark processed")
}

func TestRunSingletonGuard(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PerUserTimeout: 5 * time.Second}, dailyUser("u1", "a@example.com", "tech"))
	f.seedArticles(t, "tech")
	f.summarizer.block = make(chan struct{})
	f.summarizer.started = make(chan struct{})

	done := make(chan struct{})
	go func() {
		_, _ = f.batcher.Run(context.Background(), Options{})
		close(done)
	}()
	// The first cycle holds the guard while its summarize call blocks.
	<-f.summarizer.started
	_, err := f.batcher.Run(context.Background(), Options{})
	require.ErrorIs(t, err, ErrCycleInProgress)

	close(f.summarizer.block)
	<-done

	// Guard is released after the cycle.
	_, err = f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err)
}

func TestRunPerUserTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PerUserTimeout: 20 * time.Millisecond}, dailyUser("u1", "a@example.com", "tech"))
	f.seedArticles(t, "tech")
	f.summarizer.block = make(chan struct{}) // never closes; ctx must fire

	summary, err := f.batcher.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, StatusWithErrors, summary.Status)
	require.Equal(t, 1, summary.UsersSkipped)
	require.Contains(t, summary.Errors[0], "context deadline exceeded")
}
