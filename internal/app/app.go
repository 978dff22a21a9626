package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"nassync/internal/adapter"
	"nassync/internal/catalog"
	"nassync/internal/config"
	"nassync/internal/model"
	"nassync/internal/queue"
	"nassync/internal/storage"
	"nassync/internal/sync"
)

// SyncApp is the application layer between the CLI and the sync Service.
// It constructs all dependencies from config and manages their lifecycle on
// Close. The caller must call Close when done.
type SyncApp struct {
	cfg     *config.Config
	adapter sync.Adapter
	catalog sync.Catalog
	store   sync.ObjectStore
	queue   sync.Queue
	tracker *sync.Tracker
	service *sync.Service
	logger  sync.Logger
	logFile *os.File
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// dryRun overrides the config flag when true.
func NewSyncApp(ctx context.Context, cfg *config.Config, dryRun bool) (*SyncApp, error) {
	runID := sync.UUIDGenerator{}.New()
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	fail := func(err error) (*SyncApp, error) {
		logFile.Close()
		return nil, err
	}

	ad, err := adapter.NewAdapterFromConfig(cfg.Adapter, logger)
	if err != nil {
		return fail(fmt.Errorf("creating adapter: %w", err))
	}

	cat, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path)
	if err != nil {
		return fail(fmt.Errorf("opening catalog: %w", err))
	}
	if err := cat.Initialize(); err != nil {
		cat.Close()
		return fail(fmt.Errorf("initializing catalog: %w", err))
	}

	store, err := storage.NewStoreFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		cat.Close()
		return fail(fmt.Errorf("creating object store: %w", err))
	}

	q, err := queue.NewQueueFromConfig(ctx, cfg.Queue, logger)
	if err != nil {
		cat.Close()
		return fail(fmt.Errorf("creating delivery queue: %w", err))
	}

	clock := sync.RealClock{}
	tracker := sync.NewTracker(clock, time.Second, func(snap model.ProgressSnapshot) {
		logger.Info("progress",
			"phase", snap.Phase,
			"current", snap.Current,
			"total", snap.Total,
			"percent", fmt.Sprintf("%.1f", snap.Percentage),
		)
	})

	dry := dryRun || cfg.DryRun

	scanner := sync.NewScanner(ad, cat, tracker, logger, clock, sync.ScannerConfig{
		ExcludePatterns: cfg.Scan.ExcludePatterns,
		MaxFileSize:     cfg.Scan.MaxFileSize,
		MaxDepth:        cfg.Scan.MaxDepth,
		Concurrency:     cfg.Scan.Concurrency,
	})
	uploader := sync.NewUploader(ad, store, cat, tracker, logger, clock, sync.UploaderConfig{
		Concurrency: cfg.Storage.Concurrency,
		DryRun:      dry,
	})
	publisher := sync.NewPublisher(q, cfg.Storage.Bucket, tracker, logger, clock, sync.PublisherConfig{
		BatchConcurrency: cfg.Queue.BatchConcurrency,
		MaxRetries:       cfg.Queue.MaxRetries,
		DryRun:           dry,
	})

	svc := sync.NewService(ad, cat, scanner, uploader, publisher, logger, dry)

	return &SyncApp{
		cfg:     cfg,
		adapter: ad,
		catalog: cat,
		store:   store,
		queue:   q,
		tracker: tracker,
		service: svc,
		logger:  logger,
		logFile: logFile,
	}, nil
}

// Scan runs a scan pass without uploading or publishing.
func (a *SyncApp) Scan(ctx context.Context, differential bool) (*model.ScanClassification, *model.ScanRun, error) {
	return a.service.Scan(ctx, a.cfg.Scan.Root, differential)
}

// Sync runs the full pipeline: scan, upload, publish.
func (a *SyncApp) Sync(ctx context.Context, differential bool) (*sync.SyncReport, error) {
	return a.service.Sync(ctx, a.cfg.Scan.Root, differential)
}

// Statistics returns catalog-wide totals and the extension breakdown.
func (a *SyncApp) Statistics() (*model.Statistics, error) {
	return a.service.Statistics()
}

// History returns recent scan runs, newest first.
func (a *SyncApp) History(limit int) ([]model.ScanRun, error) {
	return a.service.History(limit)
}

// ErrorLog returns recent per-file errors, newest first.
func (a *SyncApp) ErrorLog(limit int) ([]model.ErrorLogEntry, error) {
	return a.service.ErrorLog(limit)
}

// QueueMetrics returns approximate delivery queue depth.
func (a *SyncApp) QueueMetrics(ctx context.Context) (*model.QueueMetrics, error) {
	return a.service.QueueMetrics(ctx)
}

// Cleanup purges aged error logs and tombstones and compacts the catalog.
func (a *SyncApp) Cleanup() error {
	return a.service.Cleanup()
}

// Close disconnects the adapter and closes the catalog and log file.
func (a *SyncApp) Close() error {
	var firstErr error

	if err := a.adapter.Disconnect(); err != nil {
		firstErr = fmt.Errorf("disconnecting adapter: %w", err)
	}

	if err := a.catalog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
