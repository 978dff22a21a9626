//go:build unix

package adapter

import (
	"io/fs"
	"syscall"
	"time"
)

// createdAt extracts the inode change time as the closest portable stand-in
// for a creation timestamp. Birth time is not available on most Unix
// filesystems.
func createdAt(info fs.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	}
	return info.ModTime()
}
