// Package fetch retrieves raw source payloads and parses them into articles.
// Each source kind maps to one fetch strategy: feeds and APIs go over plain
// HTTP, render sources go through a headless browser.
package fetch

import "time"

// Config controls fetch behavior shared across strategies.
type Config struct {
	UserAgent         string
	RequestTimeout    time.Duration
	Concurrency       int
	RatePerHost       float64
	RateBurst         int
	NavigationTimeout time.Duration
	MaxParallelRender int
}

// Normalize fills zero values with working defaults.
func (c Config) Normalize() Config {
	if c.UserAgent == "" {
		c.UserAgent = "up2d8-crawler/1.0"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RatePerHost <= 0 {
		c.RatePerHost = 2
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.MaxParallelRender <= 0 {
		c.MaxParallelRender = 2
	}
	return c
}
