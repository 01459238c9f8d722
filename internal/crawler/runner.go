// Package crawler drives a scrape run: it works the URL frontier, feeds
// extracted pages through the image pipeline, and hands the batch to the
// bulk committer.
package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/commit"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/images"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/metrics"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/progress"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// ImagePipeline is the slice of the image pipeline the runner needs.
type ImagePipeline interface {
	SeedUploaded(existing map[string]bool)
	Process(ctx context.Context, ref, ownerPageURL string) (images.Result, error)
	Pending() []scrape.PendingImage
}

// Committer persists the collected pages and image associations.
type Committer interface {
	Commit(ctx context.Context, pages []scrape.Page, pending []scrape.PendingImage) (commit.Result, error)
}

// AssociationSource supplies the already-stored image URLs that seed the
// pipeline's dedup set at run start.
type AssociationSource interface {
	ExistingImageURLs(ctx context.Context) (map[string]bool, error)
}

// Runner executes one crawl from params to summary.
type Runner struct {
	extractor scrape.Extractor
	pipeline  ImagePipeline
	committer Committer
	assoc     AssociationSource
	clock     scrape.Clock
	logger    *zap.Logger
}

// NewRunner builds a Runner. assoc may be nil; the run then starts with an
// empty dedup seed.
func NewRunner(
	extractor scrape.Extractor,
	pipeline ImagePipeline,
	committer Committer,
	assoc AssociationSource,
	clock scrape.Clock,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		extractor: extractor,
		pipeline:  pipeline,
		committer: committer,
		assoc:     assoc,
		clock:     clock,
		logger:    logger,
	}
}

// Run crawls per params and returns the completion summary. Individual page
// and image failures are counted, never fatal; the only error returned mid-
// run is cancellation. Bad params fail synchronously before any work.
func (r *Runner) Run(ctx context.Context, params scrape.CrawlParams, progressLog func(string)) (scrape.CrawlSummary, error) {
	var summary scrape.CrawlSummary

	seed, initial, bounded, err := resolveParams(params)
	if err != nil {
		return summary, err
	}

	r.seedDedup(ctx)

	tracker := progress.NewTracker(len(initial))
	frontier := NewFrontier(initial)
	boundedSeen := make(map[string]bool)

	var pages []scrape.Page

	for {
		url, ok := frontier.Next()
		if !ok {
			break
		}
		metrics.FrontierPending(frontier.PendingCount())

		if ctx.Err() != nil {
			return summary, scrape.ErrCancelled
		}

		res, err := r.extractor.Extract(ctx, url, params.Credential)
		if err != nil {
			if scrape.IsCancelled(err) {
				return summary, err
			}
			summary.PagesFailed++
			metrics.PageOutcome("failed")
			r.logger.Warn("page scrape failed", zap.String("url", url), zap.Error(err))
			r.advance(tracker)
			r.report(progressLog, tracker, fmt.Sprintf("failed %s: %v", url, err))
			continue
		}

		finalURL, err := NormalizeURL(res.FinalURL)
		if err != nil {
			finalURL = res.FinalURL
		}
		if frontier.Visited(finalURL) {
			// A redirect collapsed onto a page already scraped; the
			// attempt still counts so progress reaches total.
			r.advance(tracker)
			continue
		}
		frontier.MarkVisited(finalURL)

		pages = append(pages, scrape.Page{
			URL:       finalURL,
			Title:     res.Title,
			Content:   res.Content,
			ScrapedAt: r.clock.Now().UTC(),
		})
		tracker.IncPages()
		metrics.PageOutcome("ok")

		if err := r.processImages(ctx, tracker, finalURL, res.ImageRefs, &summary); err != nil {
			return summary, err
		}

		links := r.scopedLinks(seed, res.PageLinks)
		if bounded {
			for _, link := range links {
				if !frontier.Known(link) && !boundedSeen[link] {
					boundedSeen[link] = true
					summary.LinksDiscovered++
				}
			}
		} else {
			added := frontier.Add(links)
			tracker.AddToTotal(added)
		}

		r.advance(tracker)
		r.report(progressLog, tracker, "scraped "+finalURL)
	}
	metrics.FrontierPending(0)

	commitRes, err := r.committer.Commit(ctx, pages, r.pipeline.Pending())
	if err != nil {
		return summary, err
	}

	summary.PagesInserted = commitRes.PagesInserted
	summary.PagesUpdated = commitRes.PagesUpdated
	summary.PagesFailed += commitRes.PagesFailed
	summary.ImagesTotal = summary.ImagesUploaded + summary.ImagesSkipped + summary.ImagesFailed
	summary.ImagesUnique = commitRes.ImagesUnique
	summary.AssociationsNew = commitRes.AssociationsNew
	summary.AssociationsExisting = commitRes.AssociationsExisting

	current, total, pageCount, imageCount := tracker.Snapshot()
	r.logger.Info("crawl run finished",
		zap.Int("progress_current", current),
		zap.Int("progress_total", total),
		zap.Int("pages_scraped", pageCount),
		zap.Int("images_processed", imageCount),
		zap.Int("pages_failed", summary.PagesFailed),
	)
	return summary, nil
}

// processImages runs every image reference on a page through the pipeline,
// folding outcomes into the summary. Only cancellation escapes.
func (r *Runner) processImages(
	ctx context.Context,
	tracker *progress.Tracker,
	pageURL string,
	refs []string,
	summary *scrape.CrawlSummary,
) error {
	tracker.AddToTotal(len(refs))
	for _, ref := range refs {
		result, err := r.pipeline.Process(ctx, ref, pageURL)
		if err != nil {
			return err
		}
		switch result.Status {
		case images.StatusUploaded:
			summary.ImagesUploaded++
		case images.StatusSkipped:
			summary.ImagesSkipped++
		case images.StatusFailed:
			summary.ImagesFailed++
			r.logger.Warn("image failed",
				zap.String("url", ref),
				zap.String("page", pageURL),
				zap.String("reason", result.Reason))
		}
		tracker.IncImages()
		r.advance(tracker)
	}
	return nil
}

// scopedLinks normalizes discovered links and keeps those on the seed host.
func (r *Runner) scopedLinks(seed string, links []string) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		norm, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if !SameHost(seed, norm) {
			continue
		}
		out = append(out, norm)
	}
	return out
}

func (r *Runner) seedDedup(ctx context.Context) {
	if r.assoc == nil {
		return
	}
	existing, err := r.assoc.ExistingImageURLs(ctx)
	if err != nil {
		// Dedup degrades to re-uploading; the run itself is unaffected.
		r.logger.Warn("image dedup preload failed", zap.Error(err))
		return
	}
	r.pipeline.SeedUploaded(existing)
}

func (r *Runner) advance(tracker *progress.Tracker) {
	if err := tracker.Increment(); err != nil {
		r.logger.Error("progress tracker invariant violated", zap.Error(err))
	}
}

func (r *Runner) report(progressLog func(string), tracker *progress.Tracker, msg string) {
	if progressLog == nil {
		return
	}
	progressLog(tracker.String() + " " + msg)
}

// resolveParams validates the crawl params and derives the seed URL, initial
// frontier, and mode. A non-empty PageURLs list selects bounded mode; its
// entries are normalized and deduplicated so the progress total matches the
// frontier.
func resolveParams(params scrape.CrawlParams) (seed string, initial []string, bounded bool, err error) {
	bounded = len(params.PageURLs) > 0

	root := params.RootURL
	if root == "" {
		if !bounded {
			return "", nil, false, fmt.Errorf("root url is required")
		}
		root = params.PageURLs[0]
	}
	seed, err = NormalizeURL(root)
	if err != nil {
		return "", nil, false, fmt.Errorf("invalid root url: %w", err)
	}

	if !bounded {
		return seed, []string{seed}, false, nil
	}

	initial = make([]string, 0, len(params.PageURLs))
	seen := make(map[string]bool, len(params.PageURLs))
	for _, raw := range params.PageURLs {
		norm, err := NormalizeURL(raw)
		if err != nil {
			return "", nil, false, fmt.Errorf("invalid page url %q: %w", raw, err)
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		initial = append(initial, norm)
	}
	return seed, initial, true, nil
}
