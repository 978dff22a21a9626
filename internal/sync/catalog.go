package sync

import (
	"time"

	"nassync/internal/model"
)

// Catalog is the durable local record of every file ever seen. All writes are
// committed before success is reported; there is no write-behind caching.
type Catalog interface {
	// Initialize creates the schema if absent. Safe to call repeatedly.
	Initialize() error

	// InsertFile records a new file. It is a no-op if the path already
	// exists; callers must use UpdateFile to change an existing record.
	InsertFile(record model.FileRecord) error

	// UpdateFile upserts the record keyed by path.
	UpdateFile(record model.FileRecord) error

	// MarkAsDeleted tombstones the record without removing it.
	MarkAsDeleted(path string) error

	GetFileMetadata(path string) (*model.FileRecord, error)

	// GetAllFilePaths returns every non-tombstoned path in the catalog.
	GetAllFilePaths() ([]string, error)

	// GetPendingFiles returns records eligible for upload (status pending or
	// error), oldest-smallest-first so early batches are cheap.
	GetPendingFiles(limit int) ([]model.FileRecord, error)

	// UpdateRemoteInfo finalizes a successful upload: stores the remote key
	// and version and flips the record to synced.
	UpdateRemoteInfo(path, remoteKey, remoteVersion string) error

	// LogError appends an error log entry and flips the record to error
	// status.
	LogError(path, kind, message string, recoverable bool) error

	GetStatistics() (*model.Statistics, error)

	// Watermark returns the start time of the most recent completed full
	// scan, or nil if none exists.
	Watermark() (*time.Time, error)

	SaveScanHistory(run *model.ScanRun) error
	FinalizeScanHistory(run *model.ScanRun) error
	GetScanHistory(limit int) ([]model.ScanRun, error)
	GetErrorLog(limit int) ([]model.ErrorLogEntry, error)

	// Cleanup purges error logs older than 30 days and tombstones older than
	// 7 days, then compacts free space. Best-effort housekeeping.
	Cleanup() error

	Close() error
}
