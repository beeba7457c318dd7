package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

// ArticleStore implements news.ArticleStore on Postgres. Deduplication rides
// on the unique constraint over link; no application-level locking.
type ArticleStore struct {
	db    DB
	idGen news.IDGenerator
}

// NewArticleStore wires the store to a pool and an id generator.
func NewArticleStore(db DB, idGen news.IDGenerator) *ArticleStore {
	return &ArticleStore{db: db, idGen: idGen}
}

// Upsert inserts the article unless its link already exists. On conflict the
// existing row's id is returned and inserted is false, which makes redelivered
// crawl tasks harmless.
func (s *ArticleStore) Upsert(ctx context.Context, article news.Article) (bool, string, error) {
	if article.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return false, "", fmt.Errorf("generate article id: %w", err)
		}
		article.ID = id
	}

	const insert = `
		INSERT INTO articles
			(id, link, title, summary, source_id, companies, industries, published_at, scraped_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
		ON CONFLICT (link) DO NOTHING
		RETURNING id;
	`
	var id string
	err := s.db.QueryRow(ctx, insert,
		article.ID,
		article.Link,
		article.Title,
		article.Summary,
		article.SourceID,
		article.Companies,
		article.Industries,
		article.PublishedAt,
		article.ScrapedAt,
	).Scan(&id)
	if err == nil {
		return true, id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, "", fmt.Errorf("insert article: %w", err)
	}

	// Conflict path: the link already exists, fetch its id.
	const lookup = `SELECT id FROM articles WHERE link = $1;`
	if err := s.db.QueryRow(ctx, lookup, article.Link).Scan(&id); err != nil {
		return false, "", fmt.Errorf("lookup existing article: %w", err)
	}
	return false, id, nil
}

// ListUnprocessed returns up to limit unprocessed articles, oldest first.
func (s *ArticleStore) ListUnprocessed(ctx context.Context, limit int) ([]news.Article, error) {
	const query = `
		SELECT id, link, title, summary, source_id, companies, industries, published_at, scraped_at, processed
		FROM articles
		WHERE processed = FALSE
		ORDER BY scraped_at ASC
		LIMIT $1;
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed articles: %w", err)
	}
	defer rows.Close()

	var articles []news.Article
	for rows.Next() {
		var a news.Article
		if err := rows.Scan(
			&a.ID,
			&a.Link,
			&a.Title,
			&a.Summary,
			&a.SourceID,
			&a.Companies,
			&a.Industries,
			&a.PublishedAt,
			&a.ScrapedAt,
			&a.Processed,
		); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}
	return articles, nil
}

// Get returns one article by id, or store.ErrNotFound.
func (s *ArticleStore) Get(ctx context.Context, id string) (news.Article, error) {
	const query = `
		SELECT id, link, title, summary, source_id, companies, industries, published_at, scraped_at, processed
		FROM articles
		WHERE id = $1;
	`
	var a news.Article
	err := s.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Link,
		&a.Title,
		&a.Summary,
		&a.SourceID,
		&a.Companies,
		&a.Industries,
		&a.PublishedAt,
		&a.ScrapedAt,
		&a.Processed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return news.Article{}, store.ErrNotFound
	}
	if err != nil {
		return news.Article{}, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// MarkProcessed flips the whole id set in one statement. Rows already
// processed are matched and rewritten to the same value, so retrying after a
// partial failure is safe.
func (s *ArticleStore) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE articles SET processed = TRUE WHERE id = ANY($1);`
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark articles processed: %w", err)
	}
	return nil
}
