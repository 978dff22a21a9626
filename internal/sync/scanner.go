package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nassync/internal/model"
)

// ScannerConfig holds the tunables for a scan pass.
type ScannerConfig struct {
	ExcludePatterns []string
	MaxFileSize     int64 // 0 means no ceiling
	MaxDepth        int   // 0 means unbounded
	Concurrency     int   // per-file classify workers, default 20
}

// Scanner walks a tree through an Adapter, compares each entry against the
// Catalog, and classifies it as new, modified, deleted, or unchanged.
//
// Deletion detection policy: only full scans detect deletions. A differential
// scan inspects entries modified since the watermark and classifies new and
// modified files only; paths absent from a differential walk are never
// reported as deleted.
//
// A cataloged path that later matches an exclude pattern leaves sync scope
// and the next full scan reports it deleted. Files that grow past the size
// ceiling are different: the walk still observes them, so they are skipped
// without being treated as deleted.
type Scanner struct {
	adapter  Adapter
	catalog  Catalog
	progress *Tracker
	logger   Logger
	clock    Clock
	cfg      ScannerConfig
}

// NewScanner creates a Scanner. progress may be nil.
func NewScanner(adapter Adapter, catalog Catalog, progress *Tracker, logger Logger, clock Clock, cfg ScannerConfig) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	return &Scanner{
		adapter:  adapter,
		catalog:  catalog,
		progress: progress,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// Scan performs one pass over root. When differential is true, only entries
// modified since the catalog watermark are classified and deletion detection
// is skipped. The returned ScanRun has been persisted and finalized; a run
// that fails before completing never advances the watermark because only
// completed full runs are considered by Catalog.Watermark.
func (s *Scanner) Scan(ctx context.Context, root string, differential bool) (*model.ScanClassification, *model.ScanRun, error) {
	run := &model.ScanRun{
		StartedAt:    s.clock.Now(),
		RootPath:     root,
		Differential: differential,
		Status:       model.RunFailed,
	}
	if err := s.catalog.SaveScanHistory(run); err != nil {
		return nil, nil, fmt.Errorf("recording scan run: %w", err)
	}

	result, err := s.scan(ctx, root, differential, run)
	if err != nil {
		if ctx.Err() != nil {
			run.Status = model.RunAborted
		} else {
			run.Status = model.RunFailed
		}
	} else {
		run.Status = model.RunCompleted
	}
	run.Duration = s.clock.Now().Sub(run.StartedAt)

	if ferr := s.catalog.FinalizeScanHistory(run); ferr != nil {
		if err == nil {
			err = fmt.Errorf("finalizing scan run: %w", ferr)
		} else {
			s.logger.Error("finalizing scan run", "error", ferr)
		}
	}

	if err != nil {
		return nil, run, err
	}
	return result, run, nil
}

func (s *Scanner) scan(ctx context.Context, root string, differential bool, run *model.ScanRun) (*model.ScanClassification, error) {
	if err := s.adapter.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting adapter: %w", err)
	}

	var watermark *time.Time
	if differential {
		wm, err := s.catalog.Watermark()
		if err != nil {
			return nil, fmt.Errorf("reading watermark: %w", err)
		}
		watermark = wm
	}

	// Known paths are only needed to compute deletions, which full scans
	// alone are responsible for.
	known := make(map[string]bool)
	if !differential {
		paths, err := s.catalog.GetAllFilePaths()
		if err != nil {
			return nil, fmt.Errorf("listing catalog paths: %w", err)
		}
		for _, p := range paths {
			known[p] = false
		}
	}

	if s.progress != nil {
		s.progress.Start(model.PhaseScan, 0)
		defer s.progress.Complete(model.PhaseScan)
	}

	var mu stdsync.Mutex
	result := &model.ScanClassification{}

	entries, err := s.adapter.ScanDirectory(ctx, root, ScanOptions{
		ExcludePatterns: s.cfg.ExcludePatterns,
		MaxDepth:        s.cfg.MaxDepth,
		OnError: func(path string, walkErr error) {
			mu.Lock()
			run.Errors++
			mu.Unlock()
			s.logger.Warn("scan entry failed", "path", path, "error", walkErr)
			if logErr := s.catalog.LogError(path, "scan", walkErr.Error(), true); logErr != nil {
				s.logger.Error("recording scan error", "path", path, "error", logErr)
			}
		},
		OnProgress: func(visited int64) {
			if s.progress != nil {
				s.progress.Update(model.PhaseScan, visited, "")
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("starting walk of %s: %w", root, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for entry := range entries {
		entry := entry
		if gctx.Err() != nil {
			break
		}
		if entry.IsDirectory {
			continue
		}
		if s.cfg.MaxFileSize > 0 && entry.Size > s.cfg.MaxFileSize {
			s.logger.Debug("skipping oversized file", "path", entry.Path, "size", entry.Size)
			// The walk observed the file; growing past the ceiling must
			// not read as a deletion.
			if !differential {
				mu.Lock()
				known[entry.Path] = true
				mu.Unlock()
			}
			continue
		}

		mu.Lock()
		result.TotalFiles++
		result.TotalBytes += entry.Size
		if !differential {
			known[entry.Path] = true
		}
		mu.Unlock()

		g.Go(func() error {
			class, err := s.classify(entry, watermark)
			if err != nil {
				mu.Lock()
				run.Errors++
				mu.Unlock()
				s.logger.Warn("classification failed", "path", entry.Path, "error", err)
				if logErr := s.catalog.LogError(entry.Path, "classify", err.Error(), true); logErr != nil {
					s.logger.Error("recording classify error", "path", entry.Path, "error", logErr)
				}
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			switch class.bucket {
			case bucketNew:
				result.New = append(result.New, class.info)
			case bucketModified:
				result.Modified = append(result.Modified, class.info)
			case bucketUnchanged:
				result.Unchanged++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if !differential {
		for path, seen := range known {
			if !seen {
				result.Deleted = append(result.Deleted, path)
			}
		}
	}

	sort.Slice(result.New, func(i, j int) bool { return result.New[i].Path < result.New[j].Path })
	sort.Slice(result.Modified, func(i, j int) bool { return result.Modified[i].Path < result.Modified[j].Path })
	sort.Strings(result.Deleted)

	run.TotalFiles = result.TotalFiles
	run.TotalBytes = result.TotalBytes
	run.NewFiles = int64(len(result.New))
	run.Modified = int64(len(result.Modified))
	run.Deleted = int64(len(result.Deleted))

	s.logger.Info("scan complete",
		"root", root,
		"differential", differential,
		"total", result.TotalFiles,
		"new", len(result.New),
		"modified", len(result.Modified),
		"deleted", len(result.Deleted),
		"unchanged", result.Unchanged,
		"errors", run.Errors,
	)
	return result, nil
}

type classBucket int

const (
	bucketUnchanged classBucket = iota
	bucketNew
	bucketModified
)

type classification struct {
	bucket classBucket
	info   model.FileInfo
}

// classify decides which bucket a single entry belongs to and keeps the
// catalog record current. Checksums are computed only for new/modified
// candidates; entries whose size and mtime both match the catalog are
// unchanged without touching their bytes.
func (s *Scanner) classify(entry model.FileInfo, watermark *time.Time) (classification, error) {
	if watermark != nil && !entry.ModifiedAt.After(*watermark) {
		return classification{bucket: bucketUnchanged, info: entry}, nil
	}

	record, err := s.catalog.GetFileMetadata(entry.Path)
	if err != nil {
		return classification{}, fmt.Errorf("looking up %s: %w", entry.Path, err)
	}

	if record == nil || record.Status == model.StatusDeleted {
		sum, err := s.adapter.Checksum(entry.Path)
		if err != nil {
			return classification{}, fmt.Errorf("checksum %s: %w", entry.Path, err)
		}
		rec := recordFromInfo(entry, sum)
		if record == nil {
			if err := s.catalog.InsertFile(rec); err != nil {
				return classification{}, fmt.Errorf("inserting %s: %w", entry.Path, err)
			}
		} else {
			// Tombstoned path re-appeared; revive it as a new file.
			if err := s.catalog.UpdateFile(rec); err != nil {
				return classification{}, fmt.Errorf("reviving %s: %w", entry.Path, err)
			}
		}
		return classification{bucket: bucketNew, info: entry}, nil
	}

	if record.Size == entry.Size && record.ModifiedAt.Equal(entry.ModifiedAt) {
		return classification{bucket: bucketUnchanged, info: entry}, nil
	}

	sum, err := s.adapter.Checksum(entry.Path)
	if err != nil {
		return classification{}, fmt.Errorf("checksum %s: %w", entry.Path, err)
	}
	if record.Checksum != "" && record.Checksum == sum {
		// Metadata-only touch; bytes are identical. Refresh the stored
		// mtime so the next scan short-circuits, keep the sync status.
		rec := *record
		rec.ModifiedAt = entry.ModifiedAt
		rec.Size = entry.Size
		if err := s.catalog.UpdateFile(rec); err != nil {
			return classification{}, fmt.Errorf("refreshing %s: %w", entry.Path, err)
		}
		return classification{bucket: bucketUnchanged, info: entry}, nil
	}

	rec := recordFromInfo(entry, sum)
	if err := s.catalog.UpdateFile(rec); err != nil {
		return classification{}, fmt.Errorf("updating %s: %w", entry.Path, err)
	}
	return classification{bucket: bucketModified, info: entry}, nil
}

func recordFromInfo(entry model.FileInfo, checksum string) model.FileRecord {
	return model.FileRecord{
		Path:        entry.Path,
		Name:        entry.Name,
		Size:        entry.Size,
		MimeType:    entry.MimeType,
		ModifiedAt:  entry.ModifiedAt,
		CreatedAt:   entry.CreatedAt,
		IsDirectory: entry.IsDirectory,
		Checksum:    checksum,
		Status:      model.StatusPending,
	}
}
