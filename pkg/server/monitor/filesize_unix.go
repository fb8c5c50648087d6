//go:build !windows

package monitor

import (
	"os"

	"golang.org/x/sys/unix"
)

// getActualFileSize returns actual disk usage in bytes on Unix systems.
// Sparse and preallocated files report allocated blocks, not logical size.
func getActualFileSize(path string, info os.FileInfo) (int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.Size(), err
	}
	// st_blocks is always in 512-byte units
	return st.Blocks * 512, nil
}
