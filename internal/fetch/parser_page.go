package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/djmorgan26/up2d8/internal/news"
)

// PageParser extracts articles from rendered HTML. It walks <article>
// elements and falls back to headline anchors when a page carries none.
type PageParser struct{}

// NewPageParser constructs a parser for render sources.
func NewPageParser() *PageParser {
	return &PageParser{}
}

// Parse scrapes the rendered document for article links.
func (p *PageParser) Parse(_ context.Context, source news.Source, payload []byte) ([]news.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", source.ID, err)
	}

	base, err := url.Parse(source.FetchURI)
	if err != nil {
		return nil, fmt.Errorf("invalid source uri %s: %w", source.FetchURI, err)
	}

	var articles []news.Article
	seen := make(map[string]struct{})

	collect := func(_ int, sel *goquery.Selection) {
		anchor := sel.Find("a[href]").First()
		if goquery.NodeName(sel) == "a" {
			anchor = sel
		}
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		link := resolveLink(base, href)
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}

		title := strings.TrimSpace(sel.Find("h1, h2, h3").First().Text())
		if title == "" {
			title = strings.TrimSpace(anchor.Text())
		}
		if title == "" {
			return
		}
		summary := strings.TrimSpace(sel.Find("p").First().Text())

		article, err := news.NewArticle(link, title, summary, source.ID)
		if err != nil {
			return
		}
		seen[link] = struct{}{}
		articles = append(articles, article)
	}

	doc.Find("article").Each(collect)
	if len(articles) == 0 {
		doc.Find("h1 a[href], h2 a[href], h3 a[href]").Each(collect)
	}
	return articles, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
