//go:build !windows

package rootindex

import "syscall"

// deviceOf returns the filesystem device ID backing path, used to
// implement Include.OneFileSystem. It reports ok=false if the platform
// stat call fails, in which case the scanner has no device to compare
// and descends into the directory.
func deviceOf(path string) (uint64, bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return 0, false
	}
	return uint64(st.Dev), true
}
