//go:build windows

package synctree

import "os"

func inodeOf(info os.FileInfo) (inodeKey, bool) { return inodeKey{}, false }
