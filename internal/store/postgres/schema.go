package postgres

import (
	"context"
	"fmt"
)

// schema creates every table the stores depend on. Statements are idempotent
// so Migrate can run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	fetch_uri       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	last_crawled_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	link         TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	source_id    TEXT NOT NULL,
	companies    TEXT[] NOT NULL DEFAULT '{}',
	industries   TEXT[] NOT NULL DEFAULT '{}',
	published_at TIMESTAMPTZ,
	scraped_at   TIMESTAMPTZ NOT NULL,
	processed    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_articles_unprocessed
	ON articles (scraped_at) WHERE processed = FALSE;

CREATE TABLE IF NOT EXISTS crawl_runs (
	id              TEXT PRIMARY KEY,
	schedule_slot   TEXT NOT NULL,
	state           TEXT NOT NULL,
	total_tasks     INTEGER NOT NULL,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks    INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_crawl_runs_active_slot
	ON crawl_runs (schedule_slot) WHERE state = 'running';

CREATE TABLE IF NOT EXISTS crawl_tasks (
	run_id    TEXT NOT NULL REFERENCES crawl_runs (id),
	source_id TEXT NOT NULL,
	fetch_uri TEXT NOT NULL,
	kind      TEXT NOT NULL,
	attempt   INTEGER NOT NULL DEFAULT 0,
	state     TEXT NOT NULL,
	PRIMARY KEY (run_id, source_id)
);

CREATE TABLE IF NOT EXISTS users (
	id                    TEXT PRIMARY KEY,
	email                 TEXT NOT NULL UNIQUE,
	topics                TEXT[] NOT NULL DEFAULT '{}',
	format                TEXT NOT NULL DEFAULT 'html',
	frequency             TEXT NOT NULL DEFAULT 'daily',
	notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS analytics_counters (
	dim_kind          TEXT NOT NULL,
	dim_key           TEXT NOT NULL,
	delivered         BIGINT NOT NULL DEFAULT 0,
	positive_feedback BIGINT NOT NULL DEFAULT 0,
	negative_feedback BIGINT NOT NULL DEFAULT 0,
	clicks            BIGINT NOT NULL DEFAULT 0,
	popularity_score  BIGINT NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (dim_kind, dim_key)
);
`

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
