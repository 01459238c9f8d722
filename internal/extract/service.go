package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// Browser is the rendered-extraction fallback, used when the static path
// detects a login wall.
type Browser interface {
	ExtractRendered(ctx context.Context, url string, cred *scrape.Credential) (html string, finalURL string, err error)
}

// Service implements scrape.Extractor: static fetch first, browser-rendered
// fallback when a login wall is detected. It performs no storage writes.
type Service struct {
	static   *Static
	browser  Browser
	detector *LoginDetector
	parse    ParseOptions
	logger   *zap.Logger
}

// NewService wires the two fetch strategies together. browser may be nil, in
// which case login-walled pages fail with a descriptive error.
func NewService(static *Static, browser Browser, detector *LoginDetector, parse ParseOptions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		static:   static,
		browser:  browser,
		detector: detector,
		parse:    parse,
		logger:   logger,
	}
}

// Extract fetches and parses one page.
func (s *Service) Extract(ctx context.Context, url string, cred *scrape.Credential) (scrape.ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return scrape.ExtractResult{}, scrape.ErrCancelled
	}

	body, finalURL, err := s.static.Fetch(ctx, url)
	if err != nil {
		return scrape.ExtractResult{}, err
	}

	if s.detector.IsLoginWall(body) {
		return s.extractRendered(ctx, url, cred)
	}

	title, content, imageRefs, pageLinks, err := ParseDocument(string(body), finalURL, s.parse)
	if err != nil {
		return scrape.ExtractResult{}, err
	}
	return scrape.ExtractResult{
		FinalURL:  finalURL,
		Title:     title,
		Content:   content,
		ImageRefs: imageRefs,
		PageLinks: pageLinks,
	}, nil
}

func (s *Service) extractRendered(ctx context.Context, url string, cred *scrape.Credential) (scrape.ExtractResult, error) {
	if s.browser == nil {
		return scrape.ExtractResult{}, fmt.Errorf("page %s requires browser rendering but no browser is configured", url)
	}
	if err := ctx.Err(); err != nil {
		return scrape.ExtractResult{}, scrape.ErrCancelled
	}
	s.logger.Debug("promoting to browser extraction", zap.String("url", url))

	html, finalURL, err := s.browser.ExtractRendered(ctx, url, cred)
	if err != nil {
		return scrape.ExtractResult{}, fmt.Errorf("browser extract %s: %w", url, err)
	}
	if finalURL == "" {
		finalURL = url
	}
	title, content, imageRefs, pageLinks, err := ParseDocument(html, finalURL, s.parse)
	if err != nil {
		return scrape.ExtractResult{}, err
	}
	return scrape.ExtractResult{
		FinalURL:    finalURL,
		Title:       title,
		Content:     content,
		ImageRefs:   imageRefs,
		PageLinks:   pageLinks,
		UsedBrowser: true,
	}, nil
}
