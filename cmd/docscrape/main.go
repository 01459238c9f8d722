// Package main runs the docscrape service: the HTTP API plus the job
// executor that performs scrape runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/api"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/app"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/clock/system"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/commit"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/config"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/crawler"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/extract"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/extract/headless"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/images"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/jobs"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/logging"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/metrics"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	extractor, browser, err := buildExtractor(cfg, logger)
	if err != nil {
		return err
	}
	if browser != nil {
		defer browser.Close()
	}

	executor := jobs.NewExecutor(container.JobStore(), container.Publisher(), jobs.ExecutorConfig{
		PollInterval:       time.Duration(cfg.Jobs.PollIntervalMs) * time.Millisecond,
		CancelPollInterval: time.Duration(cfg.Jobs.CancelPollMs) * time.Millisecond,
		Topic:              completionTopic(cfg),
	}, logger)
	executor.Register(api.JobName, scrapeHandler(cfg, container, extractor, logger))

	execDone := make(chan struct{})
	go func() {
		executor.Run(ctx)
		close(execDone)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(container.JobStore(), logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	// The executor drains any in-flight job before returning.
	<-execDone
	return nil
}

func buildExtractor(cfg config.Config, logger *zap.Logger) (scrape.Extractor, *headless.Browser, error) {
	pattern, err := regexp.Compile(cfg.Site.PagePathPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("site.page_path_pattern: %w", err)
	}

	static := extract.NewStatic(extract.StaticConfig{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	})

	var browser *headless.Browser
	var svcBrowser extract.Browser
	if cfg.Headless.Enabled {
		browser, err = headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Site.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			RenderWait:        time.Duration(cfg.Headless.RenderWaitMs) * time.Millisecond,
			LoginWait:         time.Duration(cfg.Headless.LoginWaitMs) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init headless browser: %w", err)
		}
		svcBrowser = browser
	}

	svc := extract.NewService(
		static,
		svcBrowser,
		extract.NewLoginDetector(cfg.Headless.MarkerMinBytes),
		extract.ParseOptions{
			ContentSelector: cfg.Site.ContentSelector,
			MaxContentBytes: cfg.Site.MaxContentBytes,
			PagePathPattern: pattern,
		},
		logger,
	)
	return svc, browser, nil
}

// scrapeHandler builds the per-run pipeline and executes a crawl job. The
// image pipeline and committer are per-run state so concurrent runs stay
// isolated.
func scrapeHandler(cfg config.Config, container *app.App, extractor scrape.Extractor, logger *zap.Logger) jobs.Handler {
	return func(ctx context.Context, job jobs.Job, log func(string)) (any, error) {
		var params scrape.CrawlParams
		if err := json.Unmarshal(job.Args, &params); err != nil {
			return nil, fmt.Errorf("decode job args: %w", err)
		}

		runLogger := logger.With(zap.String("job_id", job.ID))
		pipeline := images.NewPipeline(
			images.PipelineConfig{
				UserAgent:        cfg.Site.UserAgent,
				DownloadTimeout:  time.Duration(cfg.Images.DownloadTimeoutS) * time.Second,
				MaxDownloadBytes: cfg.Images.MaxDownloadBytes,
			},
			images.NewNormalizer(cfg.Images.CDNHosts, cfg.Images.ExcludeExtensions),
			images.NewTranscoder(cfg.Images.MaxDimension, cfg.Images.JPEGQuality),
			container.BlobStore(),
			runLogger,
		)
		committer := commit.New(container.PageStore(), commit.Config{
			ChunkSize:    cfg.DB.ChunkSize,
			MaxRetries:   cfg.DB.MaxRetries,
			RetryBackoff: time.Duration(cfg.DB.RetryBackoffMs) * time.Millisecond,
		}, runLogger)
		runner := crawler.NewRunner(extractor, pipeline, committer,
			container.PageStore(), system.New(), runLogger)

		return runner.Run(ctx, params, log)
	}
}

func completionTopic(cfg config.Config) string {
	if !cfg.Jobs.PublisherEnabled {
		return ""
	}
	return cfg.Jobs.CompletionTopic
}
