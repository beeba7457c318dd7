package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// RenderFetcher drives a headless browser for sources that build their pages
// with JavaScript. It implements the same Fetch signature as CollyFetcher.
type RenderFetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRenderFetcher creates a chromedp-backed fetcher with a shared browser
// allocator and a bounded number of parallel tabs.
func NewRenderFetcher(cfg Config) *RenderFetcher {
	cfg = cfg.Normalize()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &RenderFetcher{
		cfg:         cfg,
		slots:       make(chan struct{}, cfg.MaxParallelRender),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the browser allocator.
func (f *RenderFetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the URI and returns the fully rendered DOM.
func (f *RenderFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	select {
	case f.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
	defer func() { <-f.slots }()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if f.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(uri),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return []byte(html), nil
}
