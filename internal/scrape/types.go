// Package scrape defines core types shared across the scrape-and-ingest subsystems.
package scrape

import "time"

// Page is one extracted documentation page, keyed by its normalized URL.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// ImageRef is a raw image reference discovered on a page, resolved absolute.
type ImageRef struct {
	URL     string `json:"url"`
	PageURL string `json:"page_url"`
}

// PendingImage records a successful upload awaiting page-id resolution.
// The owning page's database id is not known until bulk commit, so the
// pipeline buffers these instead of writing image rows directly.
type PendingImage struct {
	OwnerPageURL string `json:"owner_page_url"`
	OriginalURL  string `json:"original_url"`
	StoragePath  string `json:"storage_path"`
}

// ExtractResult is what the fetcher/extractor returns for one URL.
type ExtractResult struct {
	// FinalURL is the post-redirect URL; identity for visited-set checks.
	FinalURL  string
	Title     string
	Content   string
	ImageRefs []string
	PageLinks []string
	// UsedBrowser reports whether the headless path produced this result.
	UsedBrowser bool
}

// Credential carries an optional site login for walled content.
type Credential struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// CrawlParams captures a crawl invocation.
type CrawlParams struct {
	// RootURL seeds discovery mode and derives the hostname allow-list.
	RootURL string `json:"root_url"`
	// PageURLs, when non-empty, switches to bounded mode: exactly these
	// URLs are attempted and link discovery is suppressed.
	PageURLs   []string    `json:"page_urls,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
}

// CrawlSummary is the user-facing completion report for one run.
type CrawlSummary struct {
	PagesInserted int `json:"pages_inserted"`
	PagesUpdated  int `json:"pages_updated"`
	PagesFailed   int `json:"pages_failed"`

	ImagesTotal    int `json:"images_total"`
	ImagesUnique   int `json:"images_unique"`
	ImagesUploaded int `json:"images_uploaded"`
	ImagesSkipped  int `json:"images_skipped"`
	ImagesFailed   int `json:"images_failed"`

	AssociationsNew      int `json:"associations_new"`
	AssociationsExisting int `json:"associations_existing"`

	// LinksDiscovered counts in-scope links seen but not followed in
	// bounded mode, so targeted re-scrapes still surface new pages.
	LinksDiscovered int `json:"links_discovered,omitempty"`
}
