package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nassync/internal/catalog/migrations"
	"nassync/internal/model"
	"nassync/internal/sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Retention windows for Cleanup.
const (
	errorLogRetention  = 30 * 24 * time.Hour
	tombstoneRetention = 7 * 24 * time.Hour
)

// topExtensions bounds the statistics breakdown.
const topExtensions = 10

// SQLiteCatalog implements the sync.Catalog interface using SQLite.
// Writes go straight to the database; success is never reported before the
// corresponding statement has committed.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens a catalog at path.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// NewSQLiteCatalogFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteCatalogFromDB(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured
// SQLite connection. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Wait for locks instead of failing immediately; concurrent per-file
	// workers share this connection pool.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Initialize creates the schema if absent. Safe to call repeatedly.
func (c *SQLiteCatalog) Initialize() error {
	if err := migrations.MigrateUp(c.db); err != nil {
		return fmt.Errorf("initializing catalog schema: %w", err)
	}
	return nil
}

// CheckMigrations verifies the catalog schema is up-to-date.
func (c *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(c.db)
}

// InsertFile records a new file. It is a no-op if the path already exists.
func (c *SQLiteCatalog) InsertFile(record model.FileRecord) error {
	_, err := c.db.Exec(`
		INSERT OR IGNORE INTO files
			(path, name, size, mime_type, modified_at, created_at, is_directory, checksum, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Path, record.Name, record.Size, record.MimeType,
		record.ModifiedAt, record.CreatedAt, record.IsDirectory,
		record.Checksum, string(record.Status),
	)
	if err != nil {
		return fmt.Errorf("inserting file %s: %w", record.Path, err)
	}
	return nil
}

// UpdateFile upserts the record keyed by path.
func (c *SQLiteCatalog) UpdateFile(record model.FileRecord) error {
	_, err := c.db.Exec(`
		INSERT INTO files
			(path, name, size, mime_type, modified_at, created_at, is_directory, checksum, status, last_error, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			size = excluded.size,
			mime_type = excluded.mime_type,
			modified_at = excluded.modified_at,
			created_at = excluded.created_at,
			is_directory = excluded.is_directory,
			checksum = excluded.checksum,
			status = excluded.status,
			last_error = excluded.last_error,
			deleted_at = NULL`,
		record.Path, record.Name, record.Size, record.MimeType,
		record.ModifiedAt, record.CreatedAt, record.IsDirectory,
		record.Checksum, string(record.Status), record.LastError,
	)
	if err != nil {
		return fmt.Errorf("updating file %s: %w", record.Path, err)
	}
	return nil
}

// MarkAsDeleted tombstones a record without removing it. The tombstone is
// purged by Cleanup after the retention window.
func (c *SQLiteCatalog) MarkAsDeleted(path string) error {
	_, err := c.db.Exec(
		`UPDATE files SET status = ?, deleted_at = ? WHERE path = ?`,
		string(model.StatusDeleted), time.Now(), path,
	)
	if err != nil {
		return fmt.Errorf("tombstoning %s: %w", path, err)
	}
	return nil
}

// GetFileMetadata returns the record for a path, or nil if not found.
func (c *SQLiteCatalog) GetFileMetadata(path string) (*model.FileRecord, error) {
	row := c.db.QueryRow(`
		SELECT path, name, size, mime_type, modified_at, created_at, is_directory,
		       checksum, status, last_error, last_synced_at, remote_key, remote_version
		FROM files WHERE path = ?`, path)

	record, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file by path: %w", err)
	}
	return record, nil
}

// GetAllFilePaths returns every non-tombstoned file path in the catalog.
func (c *SQLiteCatalog) GetAllFilePaths() ([]string, error) {
	rows, err := c.db.Query(
		`SELECT path FROM files WHERE status != ? AND is_directory = 0`,
		string(model.StatusDeleted),
	)
	if err != nil {
		return nil, fmt.Errorf("listing file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetPendingFiles returns records eligible for upload, oldest-smallest-first
// so early batches are cheap. Records in error status stay eligible and are
// naturally retried on the next run.
func (c *SQLiteCatalog) GetPendingFiles(limit int) ([]model.FileRecord, error) {
	rows, err := c.db.Query(`
		SELECT path, name, size, mime_type, modified_at, created_at, is_directory,
		       checksum, status, last_error, last_synced_at, remote_key, remote_version
		FROM files
		WHERE status IN (?, ?) AND is_directory = 0
		ORDER BY modified_at ASC, size ASC
		LIMIT ?`,
		string(model.StatusPending), string(model.StatusError), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending files: %w", err)
	}
	defer rows.Close()

	var records []model.FileRecord
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending file: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// UpdateRemoteInfo finalizes a successful upload: stores the remote key and
// version and flips the record to synced.
func (c *SQLiteCatalog) UpdateRemoteInfo(path, remoteKey, remoteVersion string) error {
	res, err := c.db.Exec(`
		UPDATE files
		SET remote_key = ?, remote_version = ?, status = ?, last_synced_at = ?, last_error = ''
		WHERE path = ?`,
		remoteKey, remoteVersion, string(model.StatusSynced), time.Now(), path,
	)
	if err != nil {
		return fmt.Errorf("recording upload for %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording upload for %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("no catalog record for %s", path)
	}
	return nil
}

// LogError appends an error log entry and flips the record to error status.
// Entries accumulate; repeated failures on the same path never overwrite
// prior evidence.
func (c *SQLiteCatalog) LogError(path, kind, message string, recoverable bool) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO error_logs (path, kind, message, recoverable, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		path, kind, message, recoverable, time.Now(),
	); err != nil {
		return fmt.Errorf("appending error log: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE files SET status = ?, last_error = ? WHERE path = ? AND status != ?`,
		string(model.StatusError), message, path, string(model.StatusDeleted),
	); err != nil {
		return fmt.Errorf("flipping %s to error: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing error log: %w", err)
	}
	return nil
}

// GetStatistics returns catalog-wide totals, a top-N extension breakdown,
// and the watermark timestamp.
func (c *SQLiteCatalog) GetStatistics() (*model.Statistics, error) {
	stats := &model.Statistics{}

	row := c.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files WHERE status != ? AND is_directory = 0`,
		string(model.StatusDeleted),
	)
	if err := row.Scan(&stats.TotalFiles, &stats.TotalBytes); err != nil {
		return nil, fmt.Errorf("counting files: %w", err)
	}

	byExt, err := c.extensionBreakdown()
	if err != nil {
		return nil, err
	}
	stats.ByExtension = byExt

	wm, err := c.Watermark()
	if err != nil {
		return nil, err
	}
	stats.LastCompletedScan = wm

	return stats, nil
}

func (c *SQLiteCatalog) extensionBreakdown() ([]model.ExtensionCount, error) {
	rows, err := c.db.Query(
		`SELECT name, size FROM files WHERE status != ? AND is_directory = 0`,
		string(model.StatusDeleted),
	)
	if err != nil {
		return nil, fmt.Errorf("listing files for breakdown: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]*model.ExtensionCount)
	for rows.Next() {
		var name string
		var size int64
		if err := rows.Scan(&name, &size); err != nil {
			return nil, fmt.Errorf("scanning file for breakdown: %w", err)
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext == "" {
			ext = "(none)"
		}
		ec, ok := counts[ext]
		if !ok {
			ec = &model.ExtensionCount{Extension: ext}
			counts[ext] = ec
		}
		ec.Count++
		ec.Bytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	breakdown := make([]model.ExtensionCount, 0, len(counts))
	for _, ec := range counts {
		breakdown = append(breakdown, *ec)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Count != breakdown[j].Count {
			return breakdown[i].Count > breakdown[j].Count
		}
		return breakdown[i].Extension < breakdown[j].Extension
	})
	if len(breakdown) > topExtensions {
		breakdown = breakdown[:topExtensions]
	}
	return breakdown, nil
}

// Watermark returns the start time of the most recent completed full scan,
// or nil if none exists. Incomplete, failed, and differential runs never
// advance the watermark.
func (c *SQLiteCatalog) Watermark() (*time.Time, error) {
	row := c.db.QueryRow(`
		SELECT started_at FROM scan_history
		WHERE status = ? AND differential = 0
		ORDER BY started_at DESC LIMIT 1`,
		string(model.RunCompleted),
	)

	var wm time.Time
	if err := row.Scan(&wm); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading watermark: %w", err)
	}
	return &wm, nil
}

// SaveScanHistory inserts a new running scan record and sets run.ID.
func (c *SQLiteCatalog) SaveScanHistory(run *model.ScanRun) error {
	res, err := c.db.Exec(
		`INSERT INTO scan_history (started_at, root_path, differential, status) VALUES (?, ?, ?, 'running')`,
		run.StartedAt, run.RootPath, run.Differential,
	)
	if err != nil {
		return fmt.Errorf("inserting scan run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading scan run id: %w", err)
	}
	run.ID = id
	return nil
}

// FinalizeScanHistory records the terminal counts and status for a run.
// A run is finalized exactly once; the row is immutable afterwards.
func (c *SQLiteCatalog) FinalizeScanHistory(run *model.ScanRun) error {
	_, err := c.db.Exec(`
		UPDATE scan_history
		SET total_files = ?, total_bytes = ?, new_files = ?, modified_files = ?,
		    deleted_files = ?, error_count = ?, duration_ms = ?, status = ?
		WHERE id = ? AND status = 'running'`,
		run.TotalFiles, run.TotalBytes, run.NewFiles, run.Modified,
		run.Deleted, run.Errors, run.Duration.Milliseconds(), string(run.Status),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalizing scan run %d: %w", run.ID, err)
	}
	return nil
}

// GetScanHistory returns scan runs, newest first.
func (c *SQLiteCatalog) GetScanHistory(limit int) ([]model.ScanRun, error) {
	rows, err := c.db.Query(`
		SELECT id, started_at, root_path, differential, total_files, total_bytes,
		       new_files, modified_files, deleted_files, error_count, duration_ms, status
		FROM scan_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan history: %w", err)
	}
	defer rows.Close()

	var runs []model.ScanRun
	for rows.Next() {
		var run model.ScanRun
		var durationMs int64
		var status string
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.RootPath, &run.Differential,
			&run.TotalFiles, &run.TotalBytes, &run.NewFiles, &run.Modified,
			&run.Deleted, &run.Errors, &durationMs, &status,
		); err != nil {
			return nil, fmt.Errorf("scanning scan run: %w", err)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.Status = model.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetErrorLog returns error log entries, newest first.
func (c *SQLiteCatalog) GetErrorLog(limit int) ([]model.ErrorLogEntry, error) {
	rows, err := c.db.Query(`
		SELECT id, path, kind, message, recoverable, occurred_at
		FROM error_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing error log: %w", err)
	}
	defer rows.Close()

	var entries []model.ErrorLogEntry
	for rows.Next() {
		var e model.ErrorLogEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Kind, &e.Message, &e.Recoverable, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning error log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup purges aged error logs and tombstones, then compacts free space.
// Best-effort housekeeping; call it off the critical path.
func (c *SQLiteCatalog) Cleanup() error {
	now := time.Now()

	if _, err := c.db.Exec(
		`DELETE FROM error_logs WHERE occurred_at < ?`, now.Add(-errorLogRetention),
	); err != nil {
		return fmt.Errorf("purging error logs: %w", err)
	}

	if _, err := c.db.Exec(
		`DELETE FROM files WHERE status = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		string(model.StatusDeleted), now.Add(-tombstoneRetention),
	); err != nil {
		return fmt.Errorf("purging tombstones: %w", err)
	}

	if _, err := c.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("compacting catalog: %w", err)
	}
	return nil
}

// Path returns the catalog file path (or ":memory:" for in-memory catalogs).
func (c *SQLiteCatalog) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanFileRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row scanner) (*model.FileRecord, error) {
	var r model.FileRecord
	var status string
	var lastSynced sql.NullTime
	if err := row.Scan(
		&r.Path, &r.Name, &r.Size, &r.MimeType, &r.ModifiedAt, &r.CreatedAt,
		&r.IsDirectory, &r.Checksum, &status, &r.LastError, &lastSynced,
		&r.RemoteKey, &r.RemoteVersion,
	); err != nil {
		return nil, err
	}
	r.Status = model.SyncStatus(status)
	if lastSynced.Valid {
		t := lastSynced.Time
		r.LastSyncedAt = &t
	}
	return &r, nil
}

// Compile-time check that SQLiteCatalog implements sync.Catalog
var _ sync.Catalog = (*SQLiteCatalog)(nil)
