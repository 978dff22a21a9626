package adapter

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"nassync/internal/model"
	"nassync/internal/sync"
)

// LocalAdapter behaves exactly like MountedAdapter but is restricted to a
// base directory: any path resolving outside it is rejected. It is used for
// development and testing and carries fixture helpers for seeding and
// tearing down test trees.
type LocalAdapter struct {
	mounted *MountedAdapter
	base    string
}

// NewLocalAdapter creates a sandboxed adapter under base, creating the
// directory if needed.
func NewLocalAdapter(base string, logger sync.Logger) (*LocalAdapter, error) {
	base = filepath.Clean(base)
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating sandbox directory: %w", err)
	}
	return &LocalAdapter{
		mounted: NewMountedAdapter(base, logger),
		base:    base,
	}, nil
}

// Base returns the sandbox directory.
func (a *LocalAdapter) Base() string { return a.base }

// guard rejects paths that resolve outside the sandbox.
func (a *LocalAdapter) guard(path string) error {
	abs := a.mounted.resolve(path)
	if abs != a.base && !strings.HasPrefix(abs, a.base+string(filepath.Separator)) {
		return fmt.Errorf("path escapes sandbox %s: %s", a.base, path)
	}
	return nil
}

func (a *LocalAdapter) Connect(ctx context.Context) error { return a.mounted.Connect(ctx) }
func (a *LocalAdapter) Disconnect() error                 { return a.mounted.Disconnect() }

func (a *LocalAdapter) Exists(path string) (bool, error) {
	if err := a.guard(path); err != nil {
		return false, err
	}
	return a.mounted.Exists(path)
}

func (a *LocalAdapter) Stat(path string) (model.FileInfo, error) {
	if err := a.guard(path); err != nil {
		return model.FileInfo{}, err
	}
	return a.mounted.Stat(path)
}

func (a *LocalAdapter) ReadDir(path string) ([]model.FileInfo, error) {
	if err := a.guard(path); err != nil {
		return nil, err
	}
	return a.mounted.ReadDir(path)
}

func (a *LocalAdapter) IsDirectory(path string) (bool, error) {
	if err := a.guard(path); err != nil {
		return false, err
	}
	return a.mounted.IsDirectory(path)
}

func (a *LocalAdapter) IsFile(path string) (bool, error) {
	if err := a.guard(path); err != nil {
		return false, err
	}
	return a.mounted.IsFile(path)
}

func (a *LocalAdapter) FileSize(path string) (int64, error) {
	if err := a.guard(path); err != nil {
		return 0, err
	}
	return a.mounted.FileSize(path)
}

func (a *LocalAdapter) Open(path string) (io.ReadCloser, error) {
	if err := a.guard(path); err != nil {
		return nil, err
	}
	return a.mounted.Open(path)
}

func (a *LocalAdapter) Checksum(path string) (string, error) {
	if err := a.guard(path); err != nil {
		return "", err
	}
	return a.mounted.Checksum(path)
}

func (a *LocalAdapter) ScanDirectory(ctx context.Context, root string, opts sync.ScanOptions) (<-chan model.FileInfo, error) {
	if err := a.guard(root); err != nil {
		return nil, err
	}
	return a.mounted.ScanDirectory(ctx, root, opts)
}

// Seed writes fixture files (relative path -> content) under the sandbox,
// creating parent directories as needed.
func (a *LocalAdapter) Seed(files map[string][]byte) error {
	for path, content := range files {
		if err := a.guard(path); err != nil {
			return err
		}
		abs := a.mounted.resolve(path)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return fmt.Errorf("creating fixture directory for %s: %w", path, err)
		}
		if err := os.WriteFile(abs, content, 0644); err != nil {
			return fmt.Errorf("writing fixture %s: %w", path, err)
		}
	}
	return nil
}

// Teardown removes everything under the sandbox but keeps the directory.
func (a *LocalAdapter) Teardown() error {
	entries, err := os.ReadDir(a.base)
	if err != nil {
		return fmt.Errorf("listing sandbox: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(a.base, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// SandboxStats aggregates what the sandbox currently holds.
type SandboxStats struct {
	Files       int64
	Directories int64
	TotalBytes  int64
}

// Stats walks the sandbox and returns aggregate counts.
func (a *LocalAdapter) Stats() (*SandboxStats, error) {
	stats := &SandboxStats{}
	err := filepath.WalkDir(a.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == a.base {
			return nil
		}
		if d.IsDir() {
			stats.Directories++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.Files++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking sandbox: %w", err)
	}
	return stats, nil
}

// Compile-time check that LocalAdapter implements sync.Adapter
var _ sync.Adapter = (*LocalAdapter)(nil)
