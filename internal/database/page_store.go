// Package database provides Postgres-backed persistence for pages and images.
package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	PagesTable      string
	ImagesTable     string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PageStore implements scrape.PageStore on Postgres.
type PageStore struct {
	pool        dbPool
	pagesTable  string
	imagesTable string
}

// NewPageStore creates a Postgres-backed PageStore from the config.
func NewPageStore(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPageStoreWithPool(pool, cfg.PagesTable, cfg.ImagesTable)
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPageStoreWithPool(pool dbPool, pagesTable, imagesTable string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if pagesTable == "" {
		pagesTable = "pages"
	}
	if imagesTable == "" {
		imagesTable = "images"
	}
	for _, table := range []string{pagesTable, imagesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &PageStore{
		pool:        pool,
		pagesTable:  pagesTable,
		imagesTable: imagesTable,
	}, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertPages writes one chunk of pages keyed on URL and returns URL->id for
// the rows written. Re-scrapes overwrite title/content/timestamp in place.
func (s *PageStore) UpsertPages(ctx context.Context, pages []scrape.Page) (map[string]int64, error) {
	if len(pages) == 0 {
		return map[string]int64{}, nil
	}

	placeholders := make([]string, 0, len(pages))
	args := make([]any, 0, len(pages)*4)
	for i, p := range pages {
		base := i * 4
		placeholders = append(placeholders,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		args = append(args, p.URL, p.Title, p.Content, p.ScrapedAt)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (url, title, content, scraped_at)
VALUES %s
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	scraped_at = EXCLUDED.scraped_at
RETURNING id, url`, s.pagesTable, strings.Join(placeholders, ","))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("upsert pages: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64, len(pages))
	for rows.Next() {
		var (
			id  int64
			url string
		)
		if err := rows.Scan(&id, &url); err != nil {
			return nil, fmt.Errorf("scan upserted page: %w", err)
		}
		ids[url] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read upserted pages: %w", err)
	}
	return ids, nil
}

// ExistingPageURLs reports which of the given URLs already have rows, used
// for the insert-vs-update accounting before a commit.
func (s *PageStore) ExistingPageURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	if len(urls) == 0 {
		return map[string]bool{}, nil
	}
	query := fmt.Sprintf(`SELECT url FROM %s WHERE url = ANY($1)`, s.pagesTable)
	rows, err := s.pool.Query(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("select existing pages: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan existing page: %w", err)
		}
		existing[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read existing pages: %w", err)
	}
	return existing, nil
}

// InsertImages writes one chunk of association rows, leaving conflicting
// (page, original_url) pairs untouched, and returns the newly inserted count.
func (s *PageStore) InsertImages(ctx context.Context, images []scrape.ImageRow) (int, error) {
	if len(images) == 0 {
		return 0, nil
	}

	placeholders := make([]string, 0, len(images))
	args := make([]any, 0, len(images)*3)
	for i, img := range images {
		base := i * 3
		placeholders = append(placeholders,
			fmt.Sprintf("($%d,$%d,$%d)", base+1, base+2, base+3))
		args = append(args, img.PageID, img.OriginalURL, img.StoragePath)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (page_id, original_url, storage_path)
VALUES %s
ON CONFLICT (page_id, original_url) DO NOTHING`, s.imagesTable, strings.Join(placeholders, ","))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert images: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExistingImageURLs returns every normalized original URL that already has an
// association row; it seeds the run's uploaded-set.
func (s *PageStore) ExistingImageURLs(ctx context.Context) (map[string]bool, error) {
	query := fmt.Sprintf(`SELECT DISTINCT original_url FROM %s`, s.imagesTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select image urls: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan image url: %w", err)
		}
		existing[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read image urls: %w", err)
	}
	return existing, nil
}
