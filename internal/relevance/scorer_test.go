package relevance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/djmorgan26/up2d8/internal/news"
)

func TestKeywordScorerWeighsTagsOverText(t *testing.T) {
	t.Parallel()

	s := NewKeywordScorer()
	user := news.User{Topics: []string{"fintech", "acme"}}

	tagged := news.Article{Title: "Quarterly results", Companies: []string{"Acme"}, Industries: []string{"fintech"}}
	textual := news.Article{Title: "Acme expands into fintech", Summary: "..."}
	unrelated := news.Article{Title: "Weather report"}

	require.Equal(t, 4.0, s.Score(tagged, user))
	require.Equal(t, 2.0, s.Score(textual, user))
	require.Zero(t, s.Score(unrelated, user))
}

func TestKeywordScorerNoTopics(t *testing.T) {
	t.Parallel()

	s := NewKeywordScorer()
	article := news.Article{Title: "Anything"}
	require.Zero(t, s.Score(article, news.User{}))
}

func TestSelectForOrdersAndLimits(t *testing.T) {
	t.Parallel()

	s := NewKeywordScorer()
	user := news.User{Topics: []string{"tech"}}

	articles := []news.Article{
		{ID: "text", Title: "tech roundup"},
		{ID: "tagged", Industries: []string{"tech"}},
		{ID: "none", Title: "gardening"},
	}

	selected := SelectFor(s, articles, user, 0)
	require.Len(t, selected, 2)
	require.Equal(t, "tagged", selected[0].ID)
	require.Equal(t, "text", selected[1].ID)

	limited := SelectFor(s, articles, user, 1)
	require.Len(t, limited, 1)
	require.Equal(t, "tagged", limited[0].ID)
}
