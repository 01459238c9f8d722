package database

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

func TestUpsertPagesReturnsIDMap(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages", "images")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	pages := []scrape.Page{
		{URL: "https://docs.example.com/p/1", Title: "One", Content: "body one", ScrapedAt: now},
		{URL: "https://docs.example.com/p/2", Title: "Two", Content: "body two", ScrapedAt: now},
	}

	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(
			pages[0].URL, pages[0].Title, pages[0].Content, pages[0].ScrapedAt,
			pages[1].URL, pages[1].Title, pages[1].Content, pages[1].ScrapedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url"}).
			AddRow(int64(11), pages[0].URL).
			AddRow(int64(12), pages[1].URL))

	ids, err := store.UpsertPages(context.Background(), pages)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{
		pages[0].URL: 11,
		pages[1].URL: 12,
	}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPagesEmptyChunk(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages", "images")
	require.NoError(t, err)

	ids, err := store.UpsertPages(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingPageURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages", "images")
	require.NoError(t, err)

	urls := []string{"https://docs.example.com/p/1", "https://docs.example.com/p/2"}
	mock.ExpectQuery("SELECT url FROM pages").
		WithArgs(urls).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow(urls[0]))

	existing, err := store.ExistingPageURLs(context.Background(), urls)
	require.NoError(t, err)
	require.True(t, existing[urls[0]])
	require.False(t, existing[urls[1]])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertImagesCountsNewRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages", "images")
	require.NoError(t, err)

	rows := []scrape.ImageRow{
		{PageID: 11, OriginalURL: "https://cdn.example.com/a.png", StoragePath: "images/aa.jpg"},
		{PageID: 12, OriginalURL: "https://cdn.example.com/a.png", StoragePath: "images/aa.jpg"},
	}

	// One of the two conflicts with an existing association.
	mock.ExpectExec("INSERT INTO images").
		WithArgs(
			rows[0].PageID, rows[0].OriginalURL, rows[0].StoragePath,
			rows[1].PageID, rows[1].OriginalURL, rows[1].StoragePath,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.InsertImages(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingImageURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages", "images")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT DISTINCT original_url FROM images").
		WillReturnRows(pgxmock.NewRows([]string{"original_url"}).
			AddRow("https://cdn.example.com/a.png"))

	existing, err := store.ExistingImageURLs(context.Background())
	require.NoError(t, err)
	require.True(t, existing["https://cdn.example.com/a.png"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPageStoreRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPageStoreWithPool(mock, "pages; DROP TABLE pages", "images")
	require.Error(t, err)
}
