package fetch

import (
	"fmt"

	"github.com/djmorgan26/up2d8/internal/news"
)

// Registry maps source kinds to their fetch strategy and parser.
type Registry struct {
	httpFetcher   news.Fetcher
	renderFetcher news.Fetcher
	feedParser    news.Parser
	apiParser     news.Parser
	pageParser    news.Parser
}

// NewRegistry wires the strategies together.
func NewRegistry(httpFetcher, renderFetcher news.Fetcher) *Registry {
	return &Registry{
		httpFetcher:   httpFetcher,
		renderFetcher: renderFetcher,
		feedParser:    NewFeedParser(),
		apiParser:     NewAPIParser(),
		pageParser:    NewPageParser(),
	}
}

// For returns the fetcher and parser for a source kind.
func (r *Registry) For(kind news.SourceKind) (news.Fetcher, news.Parser, error) {
	switch kind {
	case news.SourceKindFeed:
		return r.httpFetcher, r.feedParser, nil
	case news.SourceKindAPI:
		return r.httpFetcher, r.apiParser, nil
	case news.SourceKindRender:
		return r.renderFetcher, r.pageParser, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", kind)
	}
}
