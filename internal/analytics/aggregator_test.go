package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestAggregatorFansOutDimensions(t *testing.T) {
	t.Parallel()

	store := memory.NewAnalyticsStore()
	now := time.Date(2023, 11, 14, 9, 0, 0, 0, time.UTC)
	agg := NewAggregator(store, fixedClock{now: now}, nil)

	article := news.Article{
		ID:         "art-1",
		SourceID:   "src-1",
		Companies:  []string{"acme", "globex"},
		Industries: []string{"tech"},
	}

	require.NoError(t, agg.RecordDelivery(context.Background(), article))

	for _, dim := range []news.Dimension{
		{Kind: news.DimArticle, Key: "art-1"},
		{Kind: news.DimSource, Key: "src-1"},
		{Kind: news.DimCompany, Key: "acme"},
		{Kind: news.DimCompany, Key: "globex"},
		{Kind: news.DimIndustry, Key: "tech"},
		{Kind: news.DimDay, Key: "2023-11-14"},
	} {
		row, ok := store.Counter(dim)
		require.True(t, ok, "missing dimension %v", dim)
		require.Equal(t, int64(1), row.Delivered)
	}
}

func TestAggregatorFeedbackUpdatesPopularity(t *testing.T) {
	t.Parallel()

	store := memory.NewAnalyticsStore()
	now := time.Date(2023, 11, 14, 9, 0, 0, 0, time.UTC)
	agg := NewAggregator(store, fixedClock{now: now}, nil)

	article := news.Article{ID: "art-1", SourceID: "src-1", Companies: []string{"acme"}}

	require.NoError(t, agg.RecordFeedback(context.Background(), article, news.FeedbackPositive))
	require.NoError(t, agg.RecordFeedback(context.Background(), article, news.FeedbackPositive))
	require.NoError(t, agg.RecordFeedback(context.Background(), article, news.FeedbackNegative))
	require.Error(t, agg.RecordFeedback(context.Background(), article, news.FeedbackKind("meh")))

	row, ok := store.Counter(news.Dimension{Kind: news.DimCompany, Key: "acme"})
	require.True(t, ok)
	require.Equal(t, int64(2), row.Positive)
	require.Equal(t, int64(1), row.Negative)
	require.Equal(t, int64(3), row.Popularity)
}

func TestAggregatorConcurrentFeedbackKeepsCountersConsistent(t *testing.T) {
	t.Parallel()

	store := memory.NewAnalyticsStore()
	now := time.Date(2023, 11, 14, 9, 0, 0, 0, time.UTC)
	agg := NewAggregator(store, fixedClock{now: now}, nil)

	article := news.Article{ID: "art-1", SourceID: "src-1", Companies: []string{"acme"}}

	const positives, negatives = 40, 25
	errs := make(chan error, positives+negatives)
	var wg sync.WaitGroup
	record := func(kind news.FeedbackKind) {
		defer wg.Done()
		errs <- agg.RecordFeedback(context.Background(), article, kind)
	}
	for i := 0; i < positives; i++ {
		wg.Add(1)
		go record(news.FeedbackPositive)
	}
	for i := 0; i < negatives; i++ {
		wg.Add(1)
		go record(news.FeedbackNegative)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// No increment may be lost and the score must match the final counters.
	for _, dim := range []news.Dimension{
		{Kind: news.DimArticle, Key: "art-1"},
		{Kind: news.DimSource, Key: "src-1"},
		{Kind: news.DimCompany, Key: "acme"},
	} {
		row, ok := store.Counter(dim)
		require.True(t, ok, "missing dimension %v", dim)
		require.Equal(t, int64(positives), row.Positive)
		require.Equal(t, int64(negatives), row.Negative)
		require.Equal(t, news.PopularityScore(row.Positive, row.Negative), row.Popularity)
		require.Equal(t, int64(positives*2-negatives), row.Popularity)
	}
}

func TestAggregatorClicksTouchDayDimension(t *testing.T) {
	t.Parallel()

	store := memory.NewAnalyticsStore()
	now := time.Date(2023, 11, 14, 23, 59, 0, 0, time.UTC)
	agg := NewAggregator(store, fixedClock{now: now}, nil)

	require.NoError(t, agg.RecordClick(context.Background(), news.Article{ID: "art-1"}))

	row, ok := store.Counter(news.Dimension{Kind: news.DimDay, Key: "2023-11-14"})
	require.True(t, ok)
	require.Equal(t, int64(1), row.Clicks)
}
