//go:build !windows

package synctree

import (
	"errors"
	"os"
	"syscall"
)

// lchown carries source ownership over to the destination entry. Running
// unprivileged, EPERM is expected and the sync keeps the caller's ownership.
func lchown(path string, info os.FileInfo) error {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	err := os.Lchown(path, int(st.Uid), int(st.Gid))
	if err == nil || errors.Is(err, syscall.EPERM) || errors.Is(err, os.ErrPermission) {
		return nil
	}
	return err
}
