package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"nassync/internal/model"
)

// UploaderConfig holds the tunables for the upload pipeline.
type UploaderConfig struct {
	Concurrency int  // concurrent transfers, default 10
	DryRun      bool // report synthetic success without touching the network
}

// UploadOutcome pairs a candidate with its transfer result. Err is set when
// the transfer failed; such files keep error status in the catalog and stay
// eligible for the next run's pending query.
type UploadOutcome struct {
	Info     model.FileInfo
	Modified bool // true when the candidate came from the modified set
	Result   *model.UploadResult
	Err      error
}

// Uploader transfers new and modified files to the object store with bounded
// concurrency and writes the remote identifiers back into the catalog.
type Uploader struct {
	adapter  Adapter
	store    ObjectStore
	catalog  Catalog
	progress *Tracker
	logger   Logger
	clock    Clock
	cfg      UploaderConfig
}

// NewUploader creates an Uploader. progress may be nil.
func NewUploader(adapter Adapter, store ObjectStore, catalog Catalog, progress *Tracker, logger Logger, clock Clock, cfg UploaderConfig) *Uploader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Uploader{
		adapter:  adapter,
		store:    store,
		catalog:  catalog,
		progress: progress,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// UploadAll transfers every candidate in the classification's new and
// modified sets. Per-file failures are logged and recorded; they do not stop
// the rest of the batch. The returned outcomes preserve no particular order.
func (u *Uploader) UploadAll(ctx context.Context, result model.ScanClassification) ([]UploadOutcome, error) {
	total := len(result.New) + len(result.Modified)
	if total == 0 {
		return nil, nil
	}

	if u.progress != nil {
		u.progress.Start(model.PhaseUpload, int64(total))
		defer u.progress.Complete(model.PhaseUpload)
	}

	var mu stdsync.Mutex
	outcomes := make([]UploadOutcome, 0, total)
	var done int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)

	upload := func(info model.FileInfo, modified bool) {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			outcome := UploadOutcome{Info: info, Modified: modified}
			res, err := u.uploadOne(gctx, info)
			if err != nil {
				outcome.Err = err
				u.logger.Warn("upload failed", "path", info.Path, "error", err)
				if logErr := u.catalog.LogError(info.Path, "upload", err.Error(), true); logErr != nil {
					u.logger.Error("recording upload error", "path", info.Path, "error", logErr)
				}
			} else {
				outcome.Result = res
			}

			mu.Lock()
			outcomes = append(outcomes, outcome)
			done++
			current := done
			mu.Unlock()

			if u.progress != nil {
				u.progress.Update(model.PhaseUpload, current, info.Path)
			}
			return nil
		})
	}

	for _, info := range result.New {
		upload(info, false)
	}
	for _, info := range result.Modified {
		upload(info, true)
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// uploadOne streams a single file to the object store and finalizes the
// catalog record on success. In dry-run mode no bytes move and the catalog
// keeps the record pending.
func (u *Uploader) uploadOne(ctx context.Context, info model.FileInfo) (*model.UploadResult, error) {
	if u.cfg.DryRun {
		u.logger.Info("dry-run: would upload", "path", info.Path, "size", info.Size)
		return &model.UploadResult{Key: info.Path, DryRun: true}, nil
	}

	start := u.clock.Now()

	f, err := u.adapter.Open(info.Path)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	defer f.Close()

	res, err := u.store.Put(ctx, info.Path, f, info.Size, info.MimeType)
	if err != nil {
		return nil, fmt.Errorf("storing object: %w", err)
	}
	res.Duration = u.clock.Now().Sub(start)

	if err := u.catalog.UpdateRemoteInfo(info.Path, res.Key, res.Version); err != nil {
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	u.logger.Debug("uploaded", "path", info.Path, "key", res.Key, "duration", res.Duration)
	return res, nil
}
