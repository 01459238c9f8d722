package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/hash/sha256"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/metrics"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// Status classifies one pipeline result.
type Status string

// Pipeline outcome values.
const (
	StatusUploaded Status = "uploaded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Result is the outcome of processing one image reference.
type Result struct {
	Status      Status
	StoragePath string
	Reason      string
}

// PipelineConfig controls download and upload behavior.
type PipelineConfig struct {
	UserAgent        string
	DownloadTimeout  time.Duration
	MaxDownloadBytes int64
}

// Pipeline deduplicates, downloads, transcodes, and uploads images for one
// crawl run. The uploaded-set is owned by the run, seeded once from existing
// stored associations, so runs stay isolated and testable.
type Pipeline struct {
	cfg        PipelineConfig
	norm       *Normalizer
	transcoder *Transcoder
	blob       scrape.BlobStore
	client     *http.Client
	hasher     *sha256.Hasher
	logger     *zap.Logger

	mu            sync.Mutex
	uploaded      map[string]bool
	pending       []scrape.PendingImage
	bucketChecked bool
}

// NewPipeline builds a Pipeline for one run.
func NewPipeline(cfg PipelineConfig, norm *Normalizer, transcoder *Transcoder, blob scrape.BlobStore, logger *zap.Logger) *Pipeline {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 10 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		norm:       norm,
		transcoder: transcoder,
		blob:       blob,
		client:     &http.Client{Timeout: cfg.DownloadTimeout},
		hasher:     sha256.New(),
		logger:     logger,
		uploaded:   make(map[string]bool),
	}
}

// SeedUploaded registers normalized URLs already present in storage so the
// run skips re-downloading them.
func (p *Pipeline) SeedUploaded(existing map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for u := range existing {
		p.uploaded[u] = true
	}
}

// Pending returns the buffered association records for the bulk commit stage.
func (p *Pipeline) Pending() []scrape.PendingImage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]scrape.PendingImage, len(p.pending))
	copy(out, p.pending)
	return out
}

// ObjectKey derives the stable storage key for a normalized URL.
func (p *Pipeline) ObjectKey(normalized string) (string, error) {
	digest, err := p.hasher.Hash([]byte(normalized))
	if err != nil {
		return "", fmt.Errorf("hash image url: %w", err)
	}
	return digest + ".jpg", nil
}

// Process runs one image reference through the pipeline. The only error it
// returns is scrape.ErrCancelled; ordinary failures are reported in the
// Result so a single bad image never aborts the run.
func (p *Pipeline) Process(ctx context.Context, ref, ownerPageURL string) (Result, error) {
	normalized, err := p.norm.Normalize(ref)
	if err != nil {
		metrics.ImageOutcome(string(StatusFailed))
		return Result{Status: StatusFailed, Reason: err.Error()}, nil
	}
	if p.norm.Excluded(normalized) {
		metrics.ImageOutcome(string(StatusSkipped))
		return Result{Status: StatusSkipped, Reason: "excluded format"}, nil
	}

	key, err := p.ObjectKey(normalized)
	if err != nil {
		metrics.ImageOutcome(string(StatusFailed))
		return Result{Status: StatusFailed, Reason: err.Error()}, nil
	}

	if p.alreadyUploaded(normalized) {
		// Already stored this run or a previous one; the association for
		// this page still needs to be recorded at commit time.
		p.appendPending(ownerPageURL, normalized, key)
		metrics.ImageOutcome(string(StatusSkipped))
		return Result{Status: StatusSkipped, StoragePath: key, Reason: "already uploaded"}, nil
	}

	if err := p.checkCancelled(ctx); err != nil {
		return Result{}, err
	}
	if err := p.ensureBucket(ctx); err != nil {
		p.logger.Warn("bucket check failed", zap.Error(err))
		metrics.ImageOutcome(string(StatusFailed))
		return Result{Status: StatusFailed, Reason: err.Error()}, nil
	}

	if err := p.checkCancelled(ctx); err != nil {
		return Result{}, err
	}
	// Fetch the reference as given; stripped query strings can carry
	// signatures the CDN requires. The normalized form is only the
	// dedup and storage-key identity.
	data, err := p.download(ctx, ref)
	if err != nil {
		if scrape.IsCancelled(err) {
			return Result{}, err
		}
		metrics.ImageOutcome(string(StatusFailed))
		return Result{Status: StatusFailed, Reason: err.Error()}, nil
	}

	encoded, err := p.transcoder.Transcode(data)
	if err != nil {
		metrics.ImageOutcome(string(StatusFailed))
		return Result{Status: StatusFailed, Reason: err.Error()}, nil
	}

	if err := p.checkCancelled(ctx); err != nil {
		return Result{}, err
	}
	storedPath, err := p.blob.Put(ctx, key, "image/jpeg", encoded)
	if err != nil {
		if scrape.IsCancelled(err) {
			return Result{}, scrape.ErrCancelled
		}
		metrics.ImageOutcome(string(StatusFailed))
		return Result{Status: StatusFailed, Reason: err.Error()}, nil
	}

	p.markUploaded(normalized)
	p.appendPending(ownerPageURL, normalized, storedPath)
	metrics.ImageOutcome(string(StatusUploaded))
	return Result{Status: StatusUploaded, StoragePath: storedPath}, nil
}

func (p *Pipeline) download(parent context.Context, imageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return nil, scrape.ErrCancelled
		}
		return nil, fmt.Errorf("download %s: %w", imageURL, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("close image body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", imageURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > p.cfg.MaxDownloadBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", p.cfg.MaxDownloadBytes)
	}
	return data, nil
}

func (p *Pipeline) ensureBucket(ctx context.Context) error {
	p.mu.Lock()
	checked := p.bucketChecked
	p.mu.Unlock()
	if checked {
		return nil
	}
	if err := p.blob.EnsureBucket(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.bucketChecked = true
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return scrape.ErrCancelled
	}
	return nil
}

func (p *Pipeline) alreadyUploaded(normalized string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploaded[normalized]
}

func (p *Pipeline) markUploaded(normalized string) {
	p.mu.Lock()
	p.uploaded[normalized] = true
	p.mu.Unlock()
}

func (p *Pipeline) appendPending(owner, original, storagePath string) {
	p.mu.Lock()
	p.pending = append(p.pending, scrape.PendingImage{
		OwnerPageURL: owner,
		OriginalURL:  original,
		StoragePath:  storagePath,
	})
	p.mu.Unlock()
}
