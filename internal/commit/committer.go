// Package commit persists a completed crawl's pages and image associations.
package commit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/metrics"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// Config controls chunking and retry behavior.
type Config struct {
	ChunkSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Result is the accounting summary for one commit.
type Result struct {
	PagesInserted        int
	PagesUpdated         int
	PagesFailed          int
	ImagesUnique         int
	AssociationsNew      int
	AssociationsExisting int
}

// Committer runs the all-at-once persistence stage after a crawl's frontier
// is exhausted. Chunk failures are logged and excluded from the success
// accounting, never fatal to the run.
type Committer struct {
	store  scrape.PageStore
	cfg    Config
	logger *zap.Logger
}

// New builds a Committer.
func New(store scrape.PageStore, cfg Config, logger *zap.Logger) *Committer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{store: store, cfg: cfg, logger: logger}
}

// Commit upserts pages, resolves pending image records to page ids, and
// inserts association rows. The only error it returns is cancellation.
func (c *Committer) Commit(ctx context.Context, pages []scrape.Page, pending []scrape.PendingImage) (Result, error) {
	var res Result

	deduped := dedupePages(pages)
	urls := make([]string, len(deduped))
	for i, p := range deduped {
		urls[i] = p.URL
	}

	existing, err := c.store.ExistingPageURLs(ctx, urls)
	if err != nil {
		// Without the existence check everything still commits; the
		// inserted/updated split just collapses into inserted.
		c.logger.Warn("pre-commit existence check failed", zap.Error(err))
		existing = map[string]bool{}
	}

	ids := make(map[string]int64, len(deduped))
	for _, chunk := range chunkPages(deduped, c.cfg.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return res, scrape.ErrCancelled
		}
		chunkIDs, err := c.upsertWithRetry(ctx, chunk)
		if err != nil {
			if scrape.IsCancelled(err) {
				return res, err
			}
			c.logger.Error("page chunk failed after retries",
				zap.Int("chunk_size", len(chunk)), zap.Error(err))
			metrics.CommitChunk("pages", "failed")
			res.PagesFailed += len(chunk)
			continue
		}
		metrics.CommitChunk("pages", "ok")
		for url, id := range chunkIDs {
			ids[url] = id
			if existing[url] {
				res.PagesUpdated++
			} else {
				res.PagesInserted++
			}
		}
	}

	rows, unique := resolveImages(pending, ids)
	res.ImagesUnique = unique

	resolved := 0
	for _, chunk := range chunkImages(rows, c.cfg.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return res, scrape.ErrCancelled
		}
		inserted, err := c.insertWithRetry(ctx, chunk)
		if err != nil {
			if scrape.IsCancelled(err) {
				return res, err
			}
			c.logger.Error("image chunk failed after retries",
				zap.Int("chunk_size", len(chunk)), zap.Error(err))
			metrics.CommitChunk("images", "failed")
			continue
		}
		metrics.CommitChunk("images", "ok")
		resolved += len(chunk)
		res.AssociationsNew += inserted
	}
	res.AssociationsExisting = resolved - res.AssociationsNew

	return res, nil
}

func (c *Committer) upsertWithRetry(ctx context.Context, chunk []scrape.Page) (map[string]int64, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		ids, err := c.store.UpsertPages(ctx, chunk)
		if err == nil {
			return ids, nil
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries {
			break
		}
		if waitErr := c.backoff(ctx, attempt); waitErr != nil {
			return nil, waitErr
		}
	}
	return nil, lastErr
}

func (c *Committer) insertWithRetry(ctx context.Context, chunk []scrape.ImageRow) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		inserted, err := c.store.InsertImages(ctx, chunk)
		if err == nil {
			return inserted, nil
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries {
			break
		}
		if waitErr := c.backoff(ctx, attempt); waitErr != nil {
			return 0, waitErr
		}
	}
	return 0, lastErr
}

// backoff sleeps attempt*base capped at MaxBackoff, honoring cancellation.
func (c *Committer) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt) * c.cfg.RetryBackoff
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return scrape.ErrCancelled
	case <-timer.C:
		return nil
	}
}

// dedupePages keeps the last occurrence per URL, preserving first-seen order.
func dedupePages(pages []scrape.Page) []scrape.Page {
	latest := make(map[string]scrape.Page, len(pages))
	order := make([]string, 0, len(pages))
	for _, p := range pages {
		if _, seen := latest[p.URL]; !seen {
			order = append(order, p.URL)
		}
		latest[p.URL] = p
	}
	out := make([]scrape.Page, 0, len(order))
	for _, url := range order {
		out = append(out, latest[url])
	}
	return out
}

// resolveImages maps pending records through the URL->id table, dropping
// records whose owning page id is unknown (the expected outcome for pages in
// a failed chunk). It also reports the distinct original-URL count.
func resolveImages(pending []scrape.PendingImage, ids map[string]int64) ([]scrape.ImageRow, int) {
	uniqueURLs := make(map[string]bool, len(pending))
	seenRow := make(map[string]bool, len(pending))
	rows := make([]scrape.ImageRow, 0, len(pending))
	for _, p := range pending {
		uniqueURLs[p.OriginalURL] = true
		id, ok := ids[p.OwnerPageURL]
		if !ok {
			continue
		}
		rowKey := p.OwnerPageURL + "\x00" + p.OriginalURL
		if seenRow[rowKey] {
			continue
		}
		seenRow[rowKey] = true
		rows = append(rows, scrape.ImageRow{
			PageID:      id,
			OriginalURL: p.OriginalURL,
			StoragePath: p.StoragePath,
		})
	}
	return rows, len(uniqueURLs)
}

func chunkPages(pages []scrape.Page, size int) [][]scrape.Page {
	var chunks [][]scrape.Page
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		chunks = append(chunks, pages[start:end])
	}
	return chunks
}

func chunkImages(rows []scrape.ImageRow, size int) [][]scrape.ImageRow {
	var chunks [][]scrape.ImageRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
