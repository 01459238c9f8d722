// Package metrics exposes Prometheus collectors for the docscrape service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesScrapedTotal   *prometheus.CounterVec
	imagesTotal         *prometheus.CounterVec
	jobsFinishedTotal   *prometheus.CounterVec
	commitChunksTotal   *prometheus.CounterVec
	crawlFrontierLength prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscrape_pages_total",
				Help: "Pages attempted, labeled by outcome (scraped, failed, skipped).",
			},
			[]string{"outcome"},
		)
		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscrape_images_total",
				Help: "Image pipeline results, labeled by outcome (uploaded, skipped, failed).",
			},
			[]string{"outcome"},
		)
		jobsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscrape_jobs_finished_total",
				Help: "Jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)
		commitChunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscrape_commit_chunks_total",
				Help: "Bulk commit chunk attempts, labeled by table and outcome.",
			},
			[]string{"table", "outcome"},
		)
		crawlFrontierLength = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docscrape_frontier_pending",
				Help: "URLs currently pending in the crawl frontier.",
			},
		)
	})
}

// PageOutcome records one attempted page.
func PageOutcome(outcome string) {
	if pagesScrapedTotal != nil {
		pagesScrapedTotal.WithLabelValues(outcome).Inc()
	}
}

// ImageOutcome records one image pipeline result.
func ImageOutcome(outcome string) {
	if imagesTotal != nil {
		imagesTotal.WithLabelValues(outcome).Inc()
	}
}

// JobFinished records one terminal job transition.
func JobFinished(status string) {
	if jobsFinishedTotal != nil {
		jobsFinishedTotal.WithLabelValues(status).Inc()
	}
}

// CommitChunk records one bulk commit chunk attempt.
func CommitChunk(table, outcome string) {
	if commitChunksTotal != nil {
		commitChunksTotal.WithLabelValues(table, outcome).Inc()
	}
}

// FrontierPending sets the current frontier depth.
func FrontierPending(n int) {
	if crawlFrontierLength != nil {
		crawlFrontierLength.Set(float64(n))
	}
}
