package sync

import (
	"context"
	"fmt"

	"nassync/internal/model"
)

// maxRetryCandidates bounds how many stranded records one run re-attempts.
const maxRetryCandidates = 1000

// SyncReport summarizes one end-to-end pass: scan, upload, delivery.
type SyncReport struct {
	Run          *model.ScanRun
	Result       *model.ScanClassification
	Uploaded     int
	UploadErrors int
	Publisher    PublisherStats
}

// Service coordinates the scan engine, upload pipeline, and delivery
// publisher for the high-level operations the CLI exposes.
type Service struct {
	adapter   Adapter
	catalog   Catalog
	scanner   *Scanner
	uploader  *Uploader
	publisher *Publisher
	logger    Logger
	dryRun    bool
}

// NewService creates a Service from its already-constructed stages.
func NewService(adapter Adapter, catalog Catalog, scanner *Scanner, uploader *Uploader, publisher *Publisher, logger Logger, dryRun bool) *Service {
	return &Service{
		adapter:   adapter,
		catalog:   catalog,
		scanner:   scanner,
		uploader:  uploader,
		publisher: publisher,
		logger:    logger,
		dryRun:    dryRun,
	}
}

// Scan runs a scan pass without uploading or publishing.
func (s *Service) Scan(ctx context.Context, root string, differential bool) (*model.ScanClassification, *model.ScanRun, error) {
	return s.scanner.Scan(ctx, root, differential)
}

// Sync runs the full pipeline: scan, tombstone deletions, upload new and
// modified files, and publish one event per outcome. Per-file failures are
// accounted and retried on the next run; only run-fatal conditions return an
// error.
func (s *Service) Sync(ctx context.Context, root string, differential bool) (*SyncReport, error) {
	result, run, err := s.scanner.Scan(ctx, root, differential)
	if err != nil {
		return &SyncReport{Run: run}, fmt.Errorf("scan: %w", err)
	}

	report := &SyncReport{Run: run, Result: result}

	// Deletions: tombstone the record first so the event can still be
	// re-derived if delivery is interrupted.
	for _, path := range result.Deleted {
		record, err := s.catalog.GetFileMetadata(path)
		if err != nil {
			s.logger.Error("loading deleted record", "path", path, "error", err)
			continue
		}
		if record == nil {
			continue
		}
		if s.dryRun {
			s.logger.Info("dry-run: would tombstone", "path", path)
		} else if err := s.catalog.MarkAsDeleted(path); err != nil {
			s.logger.Error("tombstoning record", "path", path, "error", err)
			continue
		}
		s.publisher.PublishFileDeleted(*record)
	}

	// Records stuck in pending or error status from earlier runs are
	// re-attempted alongside this scan's candidates.
	candidates := *result
	retries, err := s.retryCandidates(result)
	if err != nil {
		return report, err
	}
	for _, rec := range retries {
		info := model.FileInfo{
			Path:       rec.Path,
			Name:       rec.Name,
			Size:       rec.Size,
			MimeType:   rec.MimeType,
			ModifiedAt: rec.ModifiedAt,
			CreatedAt:  rec.CreatedAt,
		}
		if rec.RemoteKey == "" {
			candidates.New = append(candidates.New, info)
		} else {
			candidates.Modified = append(candidates.Modified, info)
		}
		s.logger.Info("retrying stranded upload", "path", rec.Path, "status", rec.Status)
	}

	outcomes, err := s.uploader.UploadAll(ctx, candidates)
	if err != nil {
		return report, fmt.Errorf("upload: %w", err)
	}

	for _, o := range outcomes {
		if o.Err != nil {
			report.UploadErrors++
			continue
		}
		report.Uploaded++
		checksum := s.checksumFor(o.Info.Path)
		if o.Modified {
			s.publisher.PublishFileModified(o.Info, checksum, o.Result)
		} else {
			s.publisher.PublishFileUploaded(o.Info, checksum, o.Result)
		}
	}

	if err := s.publisher.Flush(ctx); err != nil {
		return report, fmt.Errorf("publish: %w", err)
	}

	report.Publisher = s.publisher.Stats()
	s.logger.Info("sync complete",
		"uploaded", report.Uploaded,
		"uploadErrors", report.UploadErrors,
		"published", report.Publisher.Published,
		"deliveryFailed", report.Publisher.Failed,
	)
	return report, nil
}

// retryCandidates returns catalog records still awaiting upload that this
// scan did not already classify or delete. A file whose transfer failed keeps
// error status and an unchanged mtime, so the scan alone would never pick it
// up again.
func (s *Service) retryCandidates(result *model.ScanClassification) ([]model.FileRecord, error) {
	pending, err := s.catalog.GetPendingFiles(maxRetryCandidates)
	if err != nil {
		return nil, fmt.Errorf("listing pending files: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	classified := make(map[string]bool, len(result.New)+len(result.Modified)+len(result.Deleted))
	for _, info := range result.New {
		classified[info.Path] = true
	}
	for _, info := range result.Modified {
		classified[info.Path] = true
	}
	for _, path := range result.Deleted {
		classified[path] = true
	}

	var retries []model.FileRecord
	for _, rec := range pending {
		if classified[rec.Path] {
			continue
		}
		retries = append(retries, rec)
	}
	return retries, nil
}

// checksumFor reads the checksum the scan stored for a path. Best-effort; an
// event without a checksum is still valid.
func (s *Service) checksumFor(path string) string {
	record, err := s.catalog.GetFileMetadata(path)
	if err != nil || record == nil {
		return ""
	}
	return record.Checksum
}

// Statistics returns catalog-wide totals and the watermark timestamp.
func (s *Service) Statistics() (*model.Statistics, error) {
	return s.catalog.GetStatistics()
}

// History returns recent scan runs, newest first.
func (s *Service) History(limit int) ([]model.ScanRun, error) {
	return s.catalog.GetScanHistory(limit)
}

// ErrorLog returns recent per-file errors, newest first.
func (s *Service) ErrorLog(limit int) ([]model.ErrorLogEntry, error) {
	return s.catalog.GetErrorLog(limit)
}

// QueueMetrics returns approximate queue depth counts.
func (s *Service) QueueMetrics(ctx context.Context) (*model.QueueMetrics, error) {
	return s.publisher.Metrics(ctx)
}

// Cleanup purges aged error logs and tombstones and compacts the catalog.
func (s *Service) Cleanup() error {
	return s.catalog.Cleanup()
}
