package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"

	"nassync/internal/model"
	"nassync/internal/sync"
)

// MountedAdapter accesses a file tree through a locally mounted share.
// Relative paths are resolved against the configured mount root; entry paths
// produced by walks are relative to that root, which is what the catalog
// keys on.
type MountedAdapter struct {
	root   string
	logger sync.Logger

	mu        stdsync.Mutex
	connected bool
}

// NewMountedAdapter creates an adapter rooted at the given mount path.
func NewMountedAdapter(root string, logger sync.Logger) *MountedAdapter {
	return &MountedAdapter{
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Root returns the mount root.
func (a *MountedAdapter) Root() string { return a.root }

// Connect verifies the mount is reachable. Idempotent.
func (a *MountedAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("mount not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount root is not a directory: %s", a.root)
	}
	a.connected = true
	a.logger.Debug("adapter connected", "root", a.root)
	return nil
}

// Disconnect tears down access. Idempotent.
func (a *MountedAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// resolve turns an adapter-relative or absolute path into an absolute one
// under the root.
func (a *MountedAdapter) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(a.root, path)
}

// relative converts an absolute path back to the adapter-relative form used
// as the catalog key.
func (a *MountedAdapter) relative(absPath string) string {
	rel, err := filepath.Rel(a.root, absPath)
	if err != nil {
		return absPath
	}
	return filepath.ToSlash(rel)
}

func (a *MountedAdapter) Exists(path string) (bool, error) {
	_, err := os.Stat(a.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

func (a *MountedAdapter) Stat(path string) (model.FileInfo, error) {
	abs := a.resolve(path)
	info, err := os.Stat(abs)
	if err != nil {
		return model.FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return a.fileInfo(abs, info), nil
}

func (a *MountedAdapter) ReadDir(path string) ([]model.FileInfo, error) {
	abs := a.resolve(path)
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}

	infos := make([]model.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		infos = append(infos, a.fileInfo(filepath.Join(abs, entry.Name()), info))
	}
	return infos, nil
}

func (a *MountedAdapter) IsDirectory(path string) (bool, error) {
	info, err := os.Stat(a.resolve(path))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

func (a *MountedAdapter) IsFile(path string) (bool, error) {
	info, err := os.Stat(a.resolve(path))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

func (a *MountedAdapter) FileSize(path string) (int64, error) {
	info, err := os.Stat(a.resolve(path))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func (a *MountedAdapter) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(a.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Checksum streams the file through SHA-256. Multi-gigabyte files are never
// buffered in memory.
func (a *MountedAdapter) Checksum(path string) (string, error) {
	f, err := os.Open(a.resolve(path))
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ScanDirectory walks root depth-first, delivering entries lazily on the
// returned channel. The walk is restartable (each call re-walks from
// scratch) but not resumable mid-walk. A directory that cannot be listed is
// reported through OnError and its subtree skipped; cancelling ctx stops the
// walk promptly.
func (a *MountedAdapter) ScanDirectory(ctx context.Context, root string, opts sync.ScanOptions) (<-chan model.FileInfo, error) {
	absRoot := a.resolve(root)
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", root)
	}

	matcher := NewExcludeMatcher(opts.ExcludePatterns)
	out := make(chan model.FileInfo)

	go func() {
		defer close(out)
		var visited int64
		a.walk(ctx, absRoot, 1, matcher, opts, out, &visited)
	}()

	return out, nil
}

// walk recursively descends one directory level. depth starts at 1 for the
// root's immediate entries.
func (a *MountedAdapter) walk(ctx context.Context, dir string, depth int, matcher *ExcludeMatcher, opts sync.ScanOptions, out chan<- model.FileInfo, visited *int64) {
	if ctx.Err() != nil {
		return
	}
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if opts.OnError != nil {
			opts.OnError(a.relative(dir), err)
		}
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		abs := filepath.Join(dir, entry.Name())
		rel := a.relative(abs)
		if matcher.Match(rel) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if opts.OnError != nil {
				opts.OnError(rel, err)
			}
			continue
		}
		// Symlinks, devices, and other specials are not synced.
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}

		fi := a.fileInfo(abs, info)
		if opts.FileFilter != nil && !opts.FileFilter(fi) {
			continue
		}

		*visited++
		if opts.OnProgress != nil {
			opts.OnProgress(*visited)
		}

		select {
		case out <- fi:
		case <-ctx.Done():
			return
		}

		if info.IsDir() {
			a.walk(ctx, abs, depth+1, matcher, opts, out, visited)
		}
	}
}

func (a *MountedAdapter) fileInfo(absPath string, info fs.FileInfo) model.FileInfo {
	fi := model.FileInfo{
		Path:        a.relative(absPath),
		Name:        info.Name(),
		Size:        info.Size(),
		ModifiedAt:  info.ModTime(),
		CreatedAt:   createdAt(info),
		IsDirectory: info.IsDir(),
	}
	if !info.IsDir() {
		fi.MimeType = mimeTypeFor(info.Name())
	}
	return fi
}

// mimeTypeFor classifies a file by extension, falling back to a generic
// binary type.
func mimeTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip charset parameters; the catalog stores the bare type.
		if i := strings.IndexByte(t, ';'); i > 0 {
			return strings.TrimSpace(t[:i])
		}
		return t
	}
	return "application/octet-stream"
}

// Compile-time check that MountedAdapter implements sync.Adapter
var _ sync.Adapter = (*MountedAdapter)(nil)
