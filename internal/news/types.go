// Package news defines core types shared across the digest pipeline.
package news

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceKind selects the fetch strategy for a source.
type SourceKind string

// Source kinds persisted in the source table.
const (
	SourceKindFeed   SourceKind = "feed"
	SourceKindAPI    SourceKind = "api"
	SourceKindRender SourceKind = "render"
)

// Source is an external publication the crawler pulls from.
type Source struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	FetchURI      string     `json:"fetch_uri"`
	Kind          SourceKind `json:"kind"`
	Active        bool       `json:"active"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
}

// Article is one deduplicated piece of scraped content. Link is the natural
// key; the store enforces uniqueness, not the application.
type Article struct {
	ID          string    `json:"id"`
	Link        string    `json:"link"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	SourceID    string    `json:"source_id"`
	Companies   []string  `json:"companies"`
	Industries  []string  `json:"industries"`
	PublishedAt time.Time `json:"published_at"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Processed   bool      `json:"processed"`
}

// NewArticle validates the natural key and trims the text fields.
func NewArticle(link, title, summary, sourceID string) (Article, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return Article{}, errors.New("article link is required")
	}
	if sourceID == "" {
		return Article{}, errors.New("article source id is required")
	}
	return Article{
		Link:     link,
		Title:    strings.TrimSpace(title),
		Summary:  strings.TrimSpace(summary),
		SourceID: sourceID,
	}, nil
}

// Tags returns the union of company and industry labels.
func (a Article) Tags() []string {
	tags := make([]string, 0, len(a.Companies)+len(a.Industries))
	tags = append(tags, a.Companies...)
	tags = append(tags, a.Industries...)
	return tags
}

// TaskState is the lifecycle state of one crawl task.
type TaskState string

// Task states persisted by the run store.
const (
	TaskStatePending  TaskState = "pending"
	TaskStateInFlight TaskState = "in_flight"
	TaskStateDone     TaskState = "done"
	TaskStateFailed   TaskState = "failed"
)

// CrawlTask is one unit of crawl work, scoped to a single source.
type CrawlTask struct {
	RunID    string     `json:"run_id"`
	SourceID string     `json:"source_id"`
	FetchURI string     `json:"fetch_uri"`
	Kind     SourceKind `json:"kind"`
	Attempt  int        `json:"attempt"`
	State    TaskState  `json:"state"`
}

// RunState is the lifecycle state of one crawl run.
type RunState string

// Run states persisted by the run store.
const (
	RunStateRunning             RunState = "running"
	RunStateCompleted           RunState = "completed"
	RunStateCompletedWithErrors RunState = "completed_with_errors"
)

// CrawlRun tracks fan-out/fan-in bookkeeping for one orchestration.
type CrawlRun struct {
	ID             string     `json:"id"`
	ScheduleSlot   string     `json:"schedule_slot"`
	State          RunState   `json:"state"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether every task has reached a terminal state.
func (r CrawlRun) Terminal() bool {
	return r.CompletedTasks+r.FailedTasks >= r.TotalTasks
}

// FinalState derives the terminal run state from the counters.
func (r CrawlRun) FinalState() RunState {
	if r.FailedTasks > 0 {
		return RunStateCompletedWithErrors
	}
	return RunStateCompleted
}

// Frequency is how often a user wants a digest.
type Frequency string

// Supported digest frequencies.
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Preferences capture per-user delivery settings.
type Preferences struct {
	Format               string    `json:"format"`
	Frequency            Frequency `json:"frequency"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
}

// User is the read-only subscriber record consumed by the batcher.
type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Topics      []string    `json:"topics"`
	Preferences Preferences `json:"preferences"`
}

// NewUser normalizes topics to lowercase and validates the address.
func NewUser(id, email string, topics []string, prefs Preferences) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("invalid email %q", email)
	}
	normalized := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	if prefs.Frequency == "" {
		prefs.Frequency = FrequencyDaily
	}
	return User{ID: id, Email: email, Topics: normalized, Preferences: prefs}, nil
}

// DigestSummary is the structured outcome of one digest run. The scheduled
// trigger and the manual trigger both return it.
type DigestSummary struct {
	Status            string   `json:"status"`
	UsersProcessed    int      `json:"users_processed"`
	NewslettersSent   int      `json:"newsletters_sent"`
	UsersSkipped      int      `json:"users_skipped"`
	Errors            []string `json:"errors"`
	ArticlesProcessed int      `json:"articles_processed"`
}

// FeedbackKind labels an engagement event.
type FeedbackKind string

// Supported feedback kinds.
const (
	FeedbackPositive FeedbackKind = "positive"
	FeedbackNegative FeedbackKind = "negative"
)

// PopularityScore is the deterministic ranking function over counters. It is
// computed at write time in the same statement that increments the counters.
func PopularityScore(positive, negative int64) int64 {
	return positive*2 - negative
}
