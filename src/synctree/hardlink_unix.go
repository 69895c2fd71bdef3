//go:build !windows

package synctree

import (
	"os"
	"syscall"
)

// inodeOf identifies a regular file that has other directory entries linked
// to the same inode. Files with a single link are not worth tracking.
func inodeOf(info os.FileInfo) (inodeKey, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink < 2 {
		return inodeKey{}, false
	}
	return inodeKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
