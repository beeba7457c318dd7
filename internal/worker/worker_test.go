package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/events"
	"github.com/djmorgan26/up2d8/internal/metrics"
	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/queue"
	queuememory "github.com/djmorgan26/up2d8/internal/queue/memory"
	"github.com/djmorgan26/up2d8/internal/retry"
	storememory "github.com/djmorgan26/up2d8/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "id-" + string(rune('0'+s.n)), nil
}

type fakeStrategies struct {
	fetch func(ctx context.Context, uri string) ([]byte, error)
	parse func(ctx context.Context, source news.Source, payload []byte) ([]news.Article, error)
}

func (f *fakeStrategies) For(kind news.SourceKind) (news.Fetcher, news.Parser, error) {
	if kind == news.SourceKind("unknown") {
		return nil, nil, errors.New("unknown source kind")
	}
	return fetcherFunc(f.fetch), parserFunc(f.parse), nil
}

type fetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) { return f(ctx, uri) }

type parserFunc func(ctx context.Context, source news.Source, payload []byte) ([]news.Article, error)

func (f parserFunc) Parse(ctx context.Context, source news.Source, payload []byte) ([]news.Article, error) {
	return f(ctx, source, payload)
}

type captureEmitter struct{ events []events.Event }

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

type fixture struct {
	queue    *queuememory.Queue
	articles *storememory.ArticleStore
	sources  *storememory.SourceStore
	runs     *storememory.RunStore
	emitter  *captureEmitter
	worker   *Worker
	clock    fixedClock
}

func newFixture(t *testing.T, strategies Strategies) *fixture {
	t.Helper()
	metrics.Init()
	clock := fixedClock{now: time.Date(2023, 11, 14, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		queue:    queuememory.NewQueue(queue.Config{}, clock),
		articles: storememory.NewArticleStore(&seqIDs{}),
		sources:  storememory.NewSourceStore(news.Source{ID: "src-1", Active: true}),
		runs:     storememory.NewRunStore(),
		emitter:  &captureEmitter{},
		clock:    clock,
	}
	f.worker = New(
		f.queue, strategies, f.articles, f.sources, f.runs,
		clock, retry.NewPolicy(2, time.Millisecond, time.Millisecond),
		f.emitter, nil,
	)
	return f
}

func (f *fixture) seedRun(t *testing.T, tasks ...news.CrawlTask) {
	t.Helper()
	run := news.CrawlRun{
		ID:           "run-1",
		ScheduleSlot: "2023-11-14",
		State:        news.RunStateRunning,
		TotalTasks:   len(tasks),
		StartedAt:    f.clock.now,
	}
	require.NoError(t, f.runs.CreateRun(context.Background(), run, tasks))
	for _, task := range tasks {
		require.NoError(t, f.queue.Enqueue(context.Background(), task))
	}
}

func feedTask(sourceID string) news.CrawlTask {
	return news.CrawlTask{
		RunID:    "run-1",
		SourceID: sourceID,
		FetchURI: "https://example.com/feed",
		Kind:     news.SourceKindFeed,
		State:    news.TaskStatePending,
	}
}

func TestWorkerProcessesTaskAndCompletesRun(t *testing.T) {
	t.Parallel()

	strategies := &fakeStrategies{
		fetch: func(context.Context, string) ([]byte, error) { return []byte("payload"), nil },
		parse: func(_ context.Context, source news.Source, _ []byte) ([]news.Article, error) {
			a, _ := news.NewArticle("https://example.com/one", "One", "s", source.ID)
			b, _ := news.NewArticle("https://example.com/two", "Two", "s", source.ID)
			return []news.Article{a, b}, nil
		},
	}
	f := newFixture(t, strategies)
	f.seedRun(t, feedTask("src-1"))

	ctx := context.Background()
	task, token, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.worker.processTask(ctx, task, token)

	require.Equal(t, 2, f.articles.Len())

	src, ok := f.sources.Get("src-1")
	require.True(t, ok)
	require.NotNil(t, src.LastCrawledAt)

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, run.CompletedTasks)
	require.Equal(t, news.RunStateCompleted, run.State)

	require.Len(t, f.emitter.events, 2)
	require.Equal(t, events.KindTaskDone, f.emitter.events[0].Kind)
	require.Equal(t, 2, f.emitter.events[0].Articles)
	require.Equal(t, events.KindRunDone, f.emitter.events[1].Kind)

	require.Equal(t, 0, f.queue.Depth())
}

func TestWorkerTreatsEmptyParseAsSuccess(t *testing.T) {
	t.Parallel()

	strategies := &fakeStrategies{
		fetch: func(context.Context, string) ([]byte, error) { return []byte("payload"), nil },
		parse: func(context.Context, news.Source, []byte) ([]news.Article, error) { return nil, nil },
	}
	f := newFixture(t, strategies)
	f.seedRun(t, feedTask("src-1"))

	ctx := context.Background()
	task, token, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.worker.processTask(ctx, task, token)

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, run.CompletedTasks)
	require.Equal(t, 0, run.FailedTasks)
	require.Equal(t, 0, f.articles.Len())
}

func TestWorkerReleasesOnTransientFailure(t *testing.T) {
	t.Parallel()

	strategies := &fakeStrategies{
		fetch: func(context.Context, string) ([]byte, error) { return nil, errors.New("connection reset") },
		parse: func(context.Context, news.Source, []byte) ([]news.Article, error) { return nil, nil },
	}
	f := newFixture(t, strategies)
	f.seedRun(t, feedTask("src-1"))

	ctx := context.Background()
	task, token, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.worker.processTask(ctx, task, token)

	// Task is back on the queue with a bumped attempt count.
	require.Equal(t, 1, f.queue.Depth())
	redelivered, _, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, redelivered.Attempt)

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 0, run.FailedTasks)
	require.Equal(t, news.RunStateRunning, run.State)
}

func TestWorkerFailsTaskAfterAttemptsExhausted(t *testing.T) {
	t.Parallel()

	strategies := &fakeStrategies{
		fetch: func(context.Context, string) ([]byte, error) { return nil, errors.New("connection reset") },
		parse: func(context.Context, news.Source, []byte) ([]news.Article, error) { return nil, nil },
	}
	f := newFixture(t, strategies)
	task := feedTask("src-1")
	task.Attempt = 1 // second and final attempt
	f.seedRun(t, task)

	ctx := context.Background()
	dequeued, token, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.worker.processTask(ctx, dequeued, token)

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, run.FailedTasks)
	require.Equal(t, news.RunStateCompletedWithErrors, run.State)

	require.Equal(t, events.KindTaskFailed, f.emitter.events[0].Kind)
	require.Equal(t, 0, f.queue.Depth())
}

func TestWorkerParseErrorIsPermanent(t *testing.T) {
	t.Parallel()

	strategies := &fakeStrategies{
		fetch: func(context.Context, string) ([]byte, error) { return []byte("payload"), nil },
		parse: func(context.Context, news.Source, []byte) ([]news.Article, error) {
			return nil, errors.New("malformed payload")
		},
	}
	f := newFixture(t, strategies)
	f.seedRun(t, feedTask("src-1"))

	ctx := context.Background()
	task, token, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.worker.processTask(ctx, task, token)

	// No retry despite attempts remaining: parse errors are permanent.
	require.Equal(t, 0, f.queue.Depth())

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, run.FailedTasks)
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	strategies := &fakeStrategies{
		fetch: func(context.Context, string) ([]byte, error) { return []byte("payload"), nil },
		parse: func(context.Context, news.Source, []byte) ([]news.Article, error) { return nil, nil },
	}
	f := newFixture(t, strategies)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
