package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

// apiEnvelope is the wire shape returned by JSON article APIs. Both a bare
// array and an object with an "articles" field are accepted.
type apiEnvelope struct {
	Articles []apiItem `json:"articles"`
}

type apiItem struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Companies   []string `json:"companies"`
	Industries  []string `json:"industries"`
	PublishedAt string   `json:"published_at"`
}

// APIParser extracts articles from JSON API payloads.
type APIParser struct{}

// NewAPIParser constructs a parser for API sources.
func NewAPIParser() *APIParser {
	return &APIParser{}
}

// Parse decodes the JSON body. Items without a URL are skipped.
func (p *APIParser) Parse(_ context.Context, source news.Source, payload []byte) ([]news.Article, error) {
	var items []apiItem
	if err := json.Unmarshal(payload, &items); err != nil {
		var envelope apiEnvelope
		if err2 := json.Unmarshal(payload, &envelope); err2 != nil {
			return nil, fmt.Errorf("parse api payload %s: %w", source.ID, err)
		}
		items = envelope.Articles
	}

	articles := make([]news.Article, 0, len(items))
	for _, item := range items {
		article, err := news.NewArticle(item.URL, item.Title, item.Summary, source.ID)
		if err != nil {
			continue
		}
		article.Companies = normalizeTags(item.Companies)
		article.Industries = normalizeTags(item.Industries)
		if ts, err := time.Parse(time.RFC3339, item.PublishedAt); err == nil {
			article.PublishedAt = ts.UTC()
		}
		articles = append(articles, article)
	}
	return articles, nil
}
