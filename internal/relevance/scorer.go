// Package relevance ranks articles against user interests.
package relevance

import (
	"sort"
	"strings"

	"github.com/djmorgan26/up2d8/internal/news"
)

// KeywordScorer matches user topics against article tags and text. Tag hits
// weigh more than free-text hits; a zero score means irrelevant.
type KeywordScorer struct {
	tagWeight  float64
	textWeight float64
}

// NewKeywordScorer constructs a scorer with the default weights.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{tagWeight: 2, textWeight: 1}
}

// Score implements news.Scorer. Topics are stored lowercase; article text is
// lowered here before matching.
func (s *KeywordScorer) Score(article news.Article, user news.User) float64 {
	if len(user.Topics) == 0 {
		return 0
	}

	tags := make(map[string]struct{}, len(article.Companies)+len(article.Industries))
	for _, tag := range article.Tags() {
		tags[strings.ToLower(tag)] = struct{}{}
	}
	text := strings.ToLower(article.Title + " " + article.Summary)

	var score float64
	for _, topic := range user.Topics {
		if _, ok := tags[topic]; ok {
			score += s.tagWeight
			continue
		}
		if strings.Contains(text, topic) {
			score += s.textWeight
		}
	}
	return score
}

// SelectFor filters and orders articles for one user, highest score first.
// Articles scoring zero are dropped.
func SelectFor(scorer news.Scorer, articles []news.Article, user news.User, limit int) []news.Article {
	type scored struct {
		article news.Article
		score   float64
	}
	var matched []scored
	for _, a := range articles {
		if sc := scorer.Score(a, user); sc > 0 {
			matched = append(matched, scored{article: a, score: sc})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	selected := make([]news.Article, 0, len(matched))
	for _, m := range matched {
		selected = append(selected, m.article)
	}
	return selected
}
