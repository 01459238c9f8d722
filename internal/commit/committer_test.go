package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

type fakeStore struct {
	nextID int64

	existing map[string]bool
	rows     map[string]bool

	upsertCalls  [][]scrape.Page
	insertCalls  [][]scrape.ImageRow
	failUpserts  int
	failInserts  int
	upsertErr    error
	existingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing: map[string]bool{},
		rows:     map[string]bool{},
	}
}

func (f *fakeStore) UpsertPages(_ context.Context, pages []scrape.Page) (map[string]int64, error) {
	f.upsertCalls = append(f.upsertCalls, pages)
	if f.failUpserts > 0 {
		f.failUpserts--
		if f.upsertErr != nil {
			return nil, f.upsertErr
		}
		return nil, errors.New("connection reset")
	}
	ids := make(map[string]int64, len(pages))
	for _, p := range pages {
		f.nextID++
		ids[p.URL] = f.nextID
	}
	return ids, nil
}

func (f *fakeStore) ExistingPageURLs(_ context.Context, urls []string) (map[string]bool, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	out := map[string]bool{}
	for _, u := range urls {
		if f.existing[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (f *fakeStore) InsertImages(_ context.Context, images []scrape.ImageRow) (int, error) {
	f.insertCalls = append(f.insertCalls, images)
	if f.failInserts > 0 {
		f.failInserts--
		return 0, errors.New("deadlock detected")
	}
	inserted := 0
	for _, img := range images {
		key := img.OriginalURL
		if !f.rows[key] {
			f.rows[key] = true
			inserted++
		}
	}
	return inserted, nil
}

func (f *fakeStore) ExistingImageURLs(context.Context) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func testCommitter(store scrape.PageStore, chunkSize int) *Committer {
	return New(store, Config{
		ChunkSize:    chunkSize,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   2 * time.Millisecond,
	}, zap.NewNop())
}

func page(url string) scrape.Page {
	return scrape.Page{URL: url, Title: "t", Content: "c", ScrapedAt: time.Now()}
}

func TestCommitSplitsInsertedAndUpdated(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.existing["https://docs.example.com/old"] = true

	res, err := testCommitter(store, 10).Commit(context.Background(), []scrape.Page{
		page("https://docs.example.com/old"),
		page("https://docs.example.com/new"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesInserted)
	assert.Equal(t, 1, res.PagesUpdated)
	assert.Zero(t, res.PagesFailed)
}

func TestCommitDedupesPagesLastWriteWins(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	first := page("https://docs.example.com/a")
	first.Content = "stale"
	second := page("https://docs.example.com/a")
	second.Content = "fresh"

	res, err := testCommitter(store, 10).Commit(context.Background(), []scrape.Page{first, second}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesInserted)
	require.Len(t, store.upsertCalls, 1)
	require.Len(t, store.upsertCalls[0], 1)
	assert.Equal(t, "fresh", store.upsertCalls[0][0].Content)
}

func TestCommitChunksPages(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	pages := []scrape.Page{
		page("https://docs.example.com/1"),
		page("https://docs.example.com/2"),
		page("https://docs.example.com/3"),
	}

	res, err := testCommitter(store, 2).Commit(context.Background(), pages, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.PagesInserted)
	require.Len(t, store.upsertCalls, 2)
	assert.Len(t, store.upsertCalls[0], 2)
	assert.Len(t, store.upsertCalls[1], 1)
}

func TestCommitRetriesTransientUpsertFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failUpserts = 2 // succeeds on the third attempt

	res, err := testCommitter(store, 10).Commit(context.Background(), []scrape.Page{
		page("https://docs.example.com/a"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesInserted)
	assert.Len(t, store.upsertCalls, 3)
}

func TestCommitNoBackoffAfterFinalAttempt(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failUpserts = 1

	committer := New(store, Config{
		ChunkSize:    10,
		MaxRetries:   1,
		RetryBackoff: 5 * time.Second,
		MaxBackoff:   5 * time.Second,
	}, zap.NewNop())

	start := time.Now()
	res, err := committer.Commit(context.Background(), []scrape.Page{
		page("https://docs.example.com/a"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesFailed)
	assert.Len(t, store.upsertCalls, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCommitFailedChunkSkippedAndCounted(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failUpserts = 3 // first chunk exhausts all attempts

	pages := []scrape.Page{
		page("https://docs.example.com/1"),
		page("https://docs.example.com/2"),
		page("https://docs.example.com/3"),
	}
	pending := []scrape.PendingImage{
		{OwnerPageURL: "https://docs.example.com/1", OriginalURL: "https://cdn.example.com/a.png", StoragePath: "img/a.jpg"},
		{OwnerPageURL: "https://docs.example.com/3", OriginalURL: "https://cdn.example.com/b.png", StoragePath: "img/b.jpg"},
	}

	res, err := testCommitter(store, 2).Commit(context.Background(), pages, pending)
	require.NoError(t, err)

	assert.Equal(t, 2, res.PagesFailed)
	assert.Equal(t, 1, res.PagesInserted)

	// Only the image owned by the surviving page resolves to an id.
	assert.Equal(t, 1, res.AssociationsNew)
	require.Len(t, store.insertCalls, 1)
	assert.Equal(t, "https://cdn.example.com/b.png", store.insertCalls[0][0].OriginalURL)
}

func TestCommitImageAccounting(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.rows["https://cdn.example.com/shared.png"] = true

	pages := []scrape.Page{
		page("https://docs.example.com/1"),
		page("https://docs.example.com/2"),
	}
	pending := []scrape.PendingImage{
		{OwnerPageURL: "https://docs.example.com/1", OriginalURL: "https://cdn.example.com/shared.png", StoragePath: "img/s.jpg"},
		{OwnerPageURL: "https://docs.example.com/2", OriginalURL: "https://cdn.example.com/shared.png", StoragePath: "img/s.jpg"},
		{OwnerPageURL: "https://docs.example.com/2", OriginalURL: "https://cdn.example.com/only.png", StoragePath: "img/o.jpg"},
	}

	res, err := testCommitter(store, 10).Commit(context.Background(), pages, pending)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ImagesUnique)
	// shared.png already has a row; only.png and the second owner's shared
	// row are new inserts.
	assert.Equal(t, 1, res.AssociationsNew)
	assert.Equal(t, 1, res.AssociationsExisting)
}

func TestCommitExistenceCheckFailureDegrades(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.existing["https://docs.example.com/old"] = true
	store.existingErr = errors.New("timeout")

	res, err := testCommitter(store, 10).Commit(context.Background(), []scrape.Page{
		page("https://docs.example.com/old"),
	}, nil)
	require.NoError(t, err)

	// The split collapses into inserted when the precheck is unavailable.
	assert.Equal(t, 1, res.PagesInserted)
	assert.Zero(t, res.PagesUpdated)
}

func TestCommitCancelledBetweenChunks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFakeStore()
	_, err := testCommitter(store, 10).Commit(ctx, []scrape.Page{page("https://docs.example.com/a")}, nil)
	require.Error(t, err)
	assert.True(t, scrape.IsCancelled(err))
	assert.Empty(t, store.upsertCalls)
}
