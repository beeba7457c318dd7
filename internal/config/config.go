// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Render     RenderConfig     `mapstructure:"render"`
	Digest     DigestConfig     `mapstructure:"digest"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig selects the queue backend. An empty address falls back to the
// in-memory queue, which is only suitable for single-process development.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CrawlConfig governs the crawl worker pool.
type CrawlConfig struct {
	Workers            int     `mapstructure:"workers"`
	UserAgent          string  `mapstructure:"user_agent"`
	RequestTimeoutSec  int     `mapstructure:"request_timeout_seconds"`
	RatePerHost        float64 `mapstructure:"rate_per_host"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	LeaseWindowSeconds int     `mapstructure:"lease_window_seconds"`
}

// RenderConfig configures the headless rendering subsystem.
type RenderConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DigestConfig controls digest cycle behavior.
type DigestConfig struct {
	BatchLimit        int    `mapstructure:"batch_limit"`
	MaxPerDigest      int    `mapstructure:"max_per_digest"`
	PerUserTimeoutSec int    `mapstructure:"per_user_timeout_seconds"`
	WeeklyDay         string `mapstructure:"weekly_day"`
}

// DeliveryConfig controls delivery retry behavior.
type DeliveryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// SummarizerConfig points at an OpenAI-compatible completion API. The key
// comes from the secret provider, not this file.
type SummarizerConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Model      string `mapstructure:"model"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// SMTPConfig configures digest delivery. An empty host falls back to the log
// transport. The password comes from the secret provider.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	From     string `mapstructure:"from"`
}

// ScheduleConfig carries the cron expressions for the background triggers.
type ScheduleConfig struct {
	Crawl  string `mapstructure:"crawl"`
	Digest string `mapstructure:"digest"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UP2D8")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.user_agent", "up2d8-crawler/1.0")
	v.SetDefault("crawl.request_timeout_seconds", 30)
	v.SetDefault("crawl.rate_per_host", 2)
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("crawl.lease_window_seconds", 60)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout_seconds", 45)
	v.SetDefault("digest.batch_limit", 500)
	v.SetDefault("digest.max_per_digest", 20)
	v.SetDefault("digest.per_user_timeout_seconds", 120)
	v.SetDefault("digest.weekly_day", "Monday")
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.backoff_initial_ms", 500)
	v.SetDefault("delivery.backoff_max_ms", 10000)
	v.SetDefault("summarizer.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("summarizer.model", "gpt-4o-mini")
	v.SetDefault("summarizer.timeout_seconds", 30)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("schedule.crawl", "0 6 * * *")
	v.SetDefault("schedule.digest", "0 7 * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.max_attempts must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	if _, err := c.WeeklyDay(); err != nil {
		return err
	}
	return nil
}

// RequestTimeout converts the crawl timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawl.RequestTimeoutSec) * time.Second
}

// LeaseWindow converts the queue lease window to a duration.
func (c Config) LeaseWindow() time.Duration {
	return time.Duration(c.Crawl.LeaseWindowSeconds) * time.Second
}

// PerUserTimeout converts the digest per-user budget to a duration.
func (c Config) PerUserTimeout() time.Duration {
	return time.Duration(c.Digest.PerUserTimeoutSec) * time.Second
}

// WeeklyDay parses the configured weekday name.
func (c Config) WeeklyDay() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Digest.WeeklyDay) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("digest.weekly_day %q is not a weekday name", c.Digest.WeeklyDay)
}
