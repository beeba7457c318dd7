package summarize

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/djmorgan26/up2d8/internal/news"
)

// StaticSummarizer renders a plain HTML list without calling any external
// API. Used when no summarizer credentials are configured.
type StaticSummarizer struct{}

// NewStaticSummarizer returns the fallback renderer.
func NewStaticSummarizer() *StaticSummarizer {
	return &StaticSummarizer{}
}

// Summarize renders title, link, and summary per article.
func (StaticSummarizer) Summarize(_ context.Context, _ news.Preferences, articles []news.Article) (string, error) {
	var b strings.Builder
	b.WriteString("<ul>\n")
	for _, a := range articles {
		fmt.Fprintf(&b, "<li><a href=%q>%s</a>", a.Link, html.EscapeString(a.Title))
		if a.Summary != "" {
			fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(a.Summary))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n")
	return b.String(), nil
}
