// Package app initializes and holds the long-lived services shared across
// the scrape service, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/config"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/database"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/jobs"
	pubsubpub "github.com/drexxdk/zeroheight-mcp-sub001/internal/publisher/pubsub"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
	"github.com/drexxdk/zeroheight-mcp-sub001/internal/storage/gcs"
)

// App holds the shared services: logger, stores, and the event publisher.
// It is built once at startup and handed to the components that need it.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pageStore *database.PageStore
	jobStore  *jobs.Store
	blobStore *gcs.BlobStore
	publisher scrape.Publisher

	gcsClient    *gcstorage.Client
	gcsFallback  *gcstorage.Client
	pubsubClient *pubsub.Client
	pubsubPub    *pubsubpub.Publisher
}

// New builds the service container, failing fast when any critical
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.RequireIngest(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}

	var lifetime time.Duration
	if cfg.DB.MaxConnLifetime != "" {
		d, err := time.ParseDuration(cfg.DB.MaxConnLifetime)
		if err != nil {
			return nil, fmt.Errorf("db.max_conn_lifetime: %w", err)
		}
		lifetime = d
	}

	pageStore, err := database.NewPageStore(ctx, database.Config{
		DSN:             cfg.DB.DSN,
		PagesTable:      cfg.DB.PagesTable,
		ImagesTable:     cfg.DB.ImagesTable,
		MaxConns:        cfg.DB.MaxConns,
		MaxConnLifetime: lifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("init page store: %w", err)
	}
	a.pageStore = pageStore

	jobStore, err := jobs.NewStore(ctx, jobs.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.Jobs.Table,
		MaxConns:        cfg.DB.MaxConns,
		MaxConnLifetime: lifetime,
		MinTTL:          time.Duration(cfg.Jobs.MinResultTTLSec) * time.Second,
		MaxTTL:          time.Duration(cfg.Jobs.MaxResultTTLSec) * time.Second,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init job store: %w", err)
	}
	a.jobStore = jobStore

	gcsClient, err := gcstorage.NewClient(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	a.gcsClient = gcsClient

	// A second client with explicit credentials retries uploads that
	// the ambient identity is denied.
	var fallbackClient *gcstorage.Client
	if cfg.Storage.FallbackCredentialsFile != "" {
		fallbackClient, err = gcstorage.NewClient(ctx,
			option.WithCredentialsFile(cfg.Storage.FallbackCredentialsFile))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs fallback client: %w", err)
		}
		a.gcsFallback = fallbackClient
	}

	blobStore, err := gcs.New(gcsClient, fallbackClient, gcs.Config{
		Bucket:    cfg.Storage.Bucket,
		Prefix:    cfg.Storage.Prefix,
		ProjectID: cfg.Storage.ProjectID,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	a.blobStore = blobStore

	if cfg.Jobs.PublisherEnabled {
		if cfg.PubSub.ProjectID == "" {
			a.Close()
			return nil, fmt.Errorf("pubsub.project_id is required when the publisher is enabled")
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPub = pubsubpub.New(client)
		a.publisher = a.pubsubPub
	}

	logger.Info("application services initialized",
		zap.String("bucket", cfg.Storage.Bucket),
		zap.Bool("publisher_enabled", cfg.Jobs.PublisherEnabled),
	)
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// PageStore returns the pages/images persistence layer.
func (a *App) PageStore() *database.PageStore { return a.pageStore }

// JobStore returns the durable job store.
func (a *App) JobStore() *jobs.Store { return a.jobStore }

// BlobStore returns the image object store.
func (a *App) BlobStore() *gcs.BlobStore { return a.blobStore }

// Publisher returns the completion-event publisher, nil when disabled.
func (a *App) Publisher() scrape.Publisher { return a.publisher }

// Close releases every service the container owns. Safe to call on a
// partially initialized container.
func (a *App) Close() {
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsFallback != nil {
		if err := a.gcsFallback.Close(); err != nil {
			a.logger.Warn("close gcs fallback client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
	if a.jobStore != nil {
		a.jobStore.Close()
	}
	if a.pageStore != nil {
		a.pageStore.Close()
	}
	_ = a.logger.Sync()
}
