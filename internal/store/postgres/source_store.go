package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

// SourceStore implements news.SourceStore on Postgres.
type SourceStore struct {
	db DB
}

// NewSourceStore wires the store to a pool.
func NewSourceStore(db DB) *SourceStore {
	return &SourceStore{db: db}
}

// ListActive returns every source eligible for a crawl run.
func (s *SourceStore) ListActive(ctx context.Context) ([]news.Source, error) {
	const query = `
		SELECT id, name, fetch_uri, kind, active, last_crawled_at
		FROM sources
		WHERE active = TRUE
		ORDER BY id;
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	defer rows.Close()

	var sources []news.Source
	for rows.Next() {
		var src news.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.FetchURI, &src.Kind, &src.Active, &src.LastCrawledAt); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return sources, nil
}

// TouchCrawled records a successful crawl of the source.
func (s *SourceStore) TouchCrawled(ctx context.Context, sourceID string, at time.Time) error {
	const query = `UPDATE sources SET last_crawled_at = $2 WHERE id = $1;`
	if _, err := s.db.Exec(ctx, query, sourceID, at); err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	return nil
}
