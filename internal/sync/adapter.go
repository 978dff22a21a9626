package sync

import (
	"context"
	"io"

	"nassync/internal/model"
)

// ScanOptions controls a recursive directory walk.
type ScanOptions struct {
	// ExcludePatterns are glob patterns matched against the full relative
	// path (patterns containing '/') or the basename (patterns without).
	ExcludePatterns []string

	// MaxDepth bounds recursion. 0 means unbounded; 1 means the root's
	// immediate entries only.
	MaxDepth int

	// FileFilter, when set, is applied after exclusion; entries for which it
	// returns false are skipped.
	FileFilter func(model.FileInfo) bool

	// OnError is invoked for per-entry failures. The walk continues past the
	// failing entry.
	OnError func(path string, err error)

	// OnProgress fires once per visited entry with a running count.
	OnProgress func(visited int64)
}

// Adapter provides uniform access to a file tree regardless of how it is
// mounted. Relative paths are resolved against the adapter's configured root.
// Connect and Disconnect are idempotent.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error

	Exists(path string) (bool, error)
	Stat(path string) (model.FileInfo, error)
	ReadDir(path string) ([]model.FileInfo, error)
	IsDirectory(path string) (bool, error)
	IsFile(path string) (bool, error)
	FileSize(path string) (int64, error)

	// Open returns a streaming reader for the file's bytes.
	Open(path string) (io.ReadCloser, error)

	// Checksum streams the file through a SHA-256 digest and returns the hex
	// sum. It never buffers the whole file.
	Checksum(path string) (string, error)

	// ScanDirectory walks root depth-first and delivers entries on the
	// returned channel, which is closed when the walk ends. Cancelling ctx
	// stops the walk; a directory that cannot be listed is reported through
	// OnError and its subtree skipped.
	ScanDirectory(ctx context.Context, root string, opts ScanOptions) (<-chan model.FileInfo, error)
}
