package scrape

import (
	"context"
	"time"
)

// Extractor fetches a URL and returns its extracted content.
type Extractor interface {
	Extract(ctx context.Context, url string, cred *Credential) (ExtractResult, error)
}

// PageStore persists pages and image associations. It captures exactly the
// operations the pipeline needs so any backing store can sit behind it.
type PageStore interface {
	// UpsertPages writes one chunk keyed on URL and returns URL->id for
	// the rows actually written.
	UpsertPages(ctx context.Context, pages []Page) (map[string]int64, error)
	// ExistingPageURLs reports which of the given URLs already have rows.
	ExistingPageURLs(ctx context.Context, urls []string) (map[string]bool, error)
	// InsertImages writes one chunk of association rows and returns how
	// many were newly inserted (conflicting rows are left untouched).
	InsertImages(ctx context.Context, images []ImageRow) (int, error)
	// ExistingImageURLs returns the set of normalized original URLs that
	// already have any association row; seeds the uploaded-set at run start.
	ExistingImageURLs(ctx context.Context) (map[string]bool, error)
}

// ImageRow is a resolved image-association row ready for insertion.
type ImageRow struct {
	PageID      int64
	OriginalURL string
	StoragePath string
}

// BlobStore writes transcoded images to object storage.
type BlobStore interface {
	// EnsureBucket creates the target bucket if absent; idempotent.
	EnsureBucket(ctx context.Context) error
	// Put uploads data under key and returns the stored object path.
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Publisher pushes job completion events to an event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (stubbed in tests).
type Clock interface {
	Now() time.Time
}
