package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"nassync/internal/model"
	"nassync/internal/sync"
)

// memoryFile is one entry in the in-memory tree.
type memoryFile struct {
	content    []byte
	modifiedAt time.Time
	createdAt  time.Time
	isDir      bool
	err        error // injected failure for this path
}

// MemoryAdapter is an in-memory implementation of sync.Adapter for unit
// tests. It is safe for concurrent use.
type MemoryAdapter struct {
	mu    stdsync.RWMutex
	files map[string]*memoryFile

	connectErr error
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{files: make(map[string]*memoryFile)}
}

// AddFile adds a file, creating parent directories implicitly.
func (a *MemoryAdapter) AddFile(p string, content []byte, modifiedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p = normalize(p)
	a.files[p] = &memoryFile{
		content:    content,
		modifiedAt: modifiedAt,
		createdAt:  modifiedAt,
		isDir:      false,
	}
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, ok := a.files[dir]; !ok {
			a.files[dir] = &memoryFile{isDir: true, modifiedAt: modifiedAt, createdAt: modifiedAt}
		}
	}
}

// AddDirectory adds an empty directory.
func (a *MemoryAdapter) AddDirectory(p string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	a.files[normalize(p)] = &memoryFile{isDir: true, modifiedAt: now, createdAt: now}
}

// Remove deletes a file or directory from the tree.
func (a *MemoryAdapter) Remove(p string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, normalize(p))
}

// FailPath injects an error returned by any operation touching the path.
func (a *MemoryAdapter) FailPath(p string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p = normalize(p)
	if f, ok := a.files[p]; ok {
		f.err = err
		return
	}
	a.files[p] = &memoryFile{err: err}
}

// FailConnect makes Connect return the given error.
func (a *MemoryAdapter) FailConnect(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
}

func normalize(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

func (a *MemoryAdapter) Connect(context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connectErr
}

func (a *MemoryAdapter) Disconnect() error { return nil }

func (a *MemoryAdapter) get(p string) (*memoryFile, error) {
	f, ok := a.files[normalize(p)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f, nil
}

func (a *MemoryAdapter) Exists(p string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.files[normalize(p)]
	return ok, nil
}

func (a *MemoryAdapter) Stat(p string) (model.FileInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, err := a.get(p)
	if err != nil {
		return model.FileInfo{}, err
	}
	return a.fileInfo(normalize(p), f), nil
}

func (a *MemoryAdapter) ReadDir(p string) ([]model.FileInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prefix := normalize(p)
	var infos []model.FileInfo
	for fp, f := range a.files {
		if parentOf(fp) != prefix {
			continue
		}
		infos = append(infos, a.fileInfo(fp, f))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func (a *MemoryAdapter) IsDirectory(p string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, err := a.get(p)
	if err != nil {
		return false, err
	}
	return f.isDir, nil
}

func (a *MemoryAdapter) IsFile(p string) (bool, error) {
	dir, err := a.IsDirectory(p)
	if err != nil {
		return false, err
	}
	return !dir, nil
}

func (a *MemoryAdapter) FileSize(p string) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, err := a.get(p)
	if err != nil {
		return 0, err
	}
	return int64(len(f.content)), nil
}

func (a *MemoryAdapter) Open(p string) (io.ReadCloser, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, err := a.get(p)
	if err != nil {
		return nil, err
	}
	if f.isDir {
		return nil, fmt.Errorf("cannot open directory: %s", p)
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (a *MemoryAdapter) Checksum(p string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, err := a.get(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(f.content)
	return hex.EncodeToString(sum[:]), nil
}

func (a *MemoryAdapter) ScanDirectory(ctx context.Context, root string, opts sync.ScanOptions) (<-chan model.FileInfo, error) {
	a.mu.RLock()
	rootKey := normalize(root)
	if rootKey != "" {
		if f, ok := a.files[rootKey]; !ok || !f.isDir {
			a.mu.RUnlock()
			return nil, fmt.Errorf("scan root is not a directory: %s", root)
		}
	}

	// Snapshot paths in sorted order for a deterministic depth-first walk.
	paths := make([]string, 0, len(a.files))
	for p := range a.files {
		if rootKey == "" || p == rootKey || strings.HasPrefix(p, rootKey+"/") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	snapshot := make(map[string]*memoryFile, len(paths))
	for _, p := range paths {
		snapshot[p] = a.files[p]
	}
	a.mu.RUnlock()

	matcher := NewExcludeMatcher(opts.ExcludePatterns)
	out := make(chan model.FileInfo)

	go func() {
		defer close(out)
		var visited int64
		for _, p := range paths {
			if ctx.Err() != nil {
				return
			}
			if p == rootKey {
				continue
			}
			if matcher.Match(p) {
				continue
			}
			if opts.MaxDepth > 0 && depthOf(p, rootKey) > opts.MaxDepth {
				continue
			}

			f := snapshot[p]
			if f.err != nil {
				if opts.OnError != nil {
					opts.OnError(p, f.err)
				}
				continue
			}

			fi := a.fileInfo(p, f)
			if opts.FileFilter != nil && !opts.FileFilter(fi) {
				continue
			}

			visited++
			if opts.OnProgress != nil {
				opts.OnProgress(visited)
			}

			select {
			case out <- fi:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func depthOf(p, root string) int {
	rel := p
	if root != "" {
		rel = strings.TrimPrefix(p, root+"/")
	}
	return strings.Count(rel, "/") + 1
}

func (a *MemoryAdapter) fileInfo(p string, f *memoryFile) model.FileInfo {
	fi := model.FileInfo{
		Path:        p,
		Name:        path.Base(p),
		Size:        int64(len(f.content)),
		ModifiedAt:  f.modifiedAt,
		CreatedAt:   f.createdAt,
		IsDirectory: f.isDir,
	}
	if !f.isDir {
		fi.MimeType = mimeTypeFor(fi.Name)
	}
	return fi
}

// Compile-time check that MemoryAdapter implements sync.Adapter
var _ sync.Adapter = (*MemoryAdapter)(nil)
