package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/djmorgan26/up2d8/internal/news"
)

// FeedParser extracts articles from RSS and Atom payloads.
type FeedParser struct {
	parser *gofeed.Parser
}

// NewFeedParser constructs a parser for feed sources.
func NewFeedParser() *FeedParser {
	return &FeedParser{parser: gofeed.NewParser()}
}

// Parse decodes the feed body. Entries without a usable link are skipped;
// an empty feed is a successful parse with zero articles.
func (p *FeedParser) Parse(_ context.Context, source news.Source, payload []byte) ([]news.Article, error) {
	parsed, err := p.parser.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source.ID, err)
	}

	articles := make([]news.Article, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := entry.Link
		if link == "" && strings.HasPrefix(entry.GUID, "http") {
			link = entry.GUID
		}
		if link == "" {
			continue
		}

		article, err := news.NewArticle(link, entry.Title, entry.Description, source.ID)
		if err != nil {
			continue
		}
		if entry.PublishedParsed != nil {
			article.PublishedAt = entry.PublishedParsed.UTC()
		}
		article.Industries = normalizeTags(entry.Categories)
		articles = append(articles, article)
	}
	return articles, nil
}

func normalizeTags(raw []string) []string {
	var tags []string
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	return tags
}
