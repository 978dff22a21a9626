package model

import "time"

// SyncStatus is the lifecycle state of a FileRecord.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusError   SyncStatus = "error"
	StatusDeleted SyncStatus = "deleted"
)

// FileRecord is the catalog's durable record of a file. Path is the unique key
// among non-deleted records. Deleted records are tombstoned, not removed, so
// that deletion events can still be delivered after a crash.
type FileRecord struct {
	Path          string // Relative path from the scan root (unique key)
	Name          string // Display name (basename)
	Size          int64
	MimeType      string
	ModifiedAt    time.Time
	CreatedAt     time.Time
	IsDirectory   bool
	Checksum      string // SHA-256 hex; empty until computed
	Status        SyncStatus
	LastError     string
	LastSyncedAt  *time.Time
	RemoteKey     string // Object key in the destination bucket
	RemoteVersion string // ETag/version returned by the object store
}

// RunStatus is the terminal state of a ScanRun.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

// ScanRun summarizes one scan pass. It is created when a scan starts and
// finalized exactly once when the scan ends; completed full runs supply the
// watermark for later differential scans.
type ScanRun struct {
	ID           int64
	StartedAt    time.Time
	RootPath     string
	Differential bool
	TotalFiles   int64
	TotalBytes   int64
	NewFiles     int64
	Modified     int64
	Deleted      int64
	Errors       int64
	Duration     time.Duration
	Status       RunStatus
}

// ErrorLogEntry records a single per-file failure. Entries accumulate across
// runs; they are never overwritten by later failures on the same path.
type ErrorLogEntry struct {
	ID          int64
	Path        string
	Kind        string
	Message     string
	Recoverable bool
	OccurredAt  time.Time
}

// FileInfo is the adapter-level view of a directory entry produced by a walk.
type FileInfo struct {
	Path        string // Relative to the adapter root
	Name        string
	Size        int64
	MimeType    string
	ModifiedAt  time.Time
	CreatedAt   time.Time
	IsDirectory bool
}

// ScanClassification holds the disjoint outcome sets of one scan run. It is
// owned by the scan engine for the duration of the run and handed to the
// upload and delivery stages by value; they must not mutate it.
type ScanClassification struct {
	New        []FileInfo
	Modified   []FileInfo
	Deleted    []string // Catalog paths no longer present on disk
	Unchanged  int64
	TotalFiles int64
	TotalBytes int64
}

// EventType identifies what happened to a file.
type EventType string

const (
	EventFileUploaded EventType = "FILE_UPLOADED"
	EventFileModified EventType = "FILE_MODIFIED"
	EventFileDeleted  EventType = "FILE_DELETED"
)

// DeliveryMessage is the immutable per-file event handed to the publisher.
type DeliveryMessage struct {
	Event     EventType
	Bucket    string
	Key       string
	Size      int64
	MimeType  string
	Path      string // Originating path relative to the scan root
	Checksum  string
	EmittedAt time.Time
	Metadata  map[string]string
}

// UploadResult is returned by the object store for a completed transfer.
type UploadResult struct {
	Key      string
	Version  string
	Duration time.Duration
	DryRun   bool
}

// Phase names a tracked progress stream.
type Phase string

const (
	PhaseScan    Phase = "scan"
	PhaseUpload  Phase = "upload"
	PhaseProcess Phase = "process"
)

// ProgressSnapshot is a transient view of one phase's progress. Rate is in
// items per second; ETA is nil until at least one item has completed.
type ProgressSnapshot struct {
	Phase      Phase
	Current    int64
	Total      int64
	Percentage float64
	Message    string
	Rate       float64
	ETA        *time.Duration
	Elapsed    time.Duration
}

// ExtensionCount is one row of the statistics breakdown.
type ExtensionCount struct {
	Extension string
	Count     int64
	Bytes     int64
}

// Statistics aggregates catalog-wide totals.
type Statistics struct {
	TotalFiles        int64
	TotalBytes        int64
	ByExtension       []ExtensionCount
	LastCompletedScan *time.Time
}

// QueueMetrics reports approximate message counts from the queue service.
type QueueMetrics struct {
	Visible  int64
	InFlight int64
	Delayed  int64
}
