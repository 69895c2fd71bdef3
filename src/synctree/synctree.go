// Package synctree mirrors a source directory tree into a destination tree.
// When a base tree is supplied, files that are unchanged relative to the base
// (same size, modification time and mode) are materialized as hard links into
// it instead of fresh copies, so an incremental generation only pays for the
// bytes that actually changed. Mirror semantics: entries present in the
// destination but absent from the source are removed.
package synctree

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// inodeKey identifies a source file across multiple directory entries.
type inodeKey struct{ dev, ino uint64 }

// Sync mirrors src into dst. base may be empty; when set it points at the
// corresponding tree of the previous generation and is only ever read.
// Permissions, ownership, timestamps, symlinks and hard-link groups are
// preserved. The walk aborts between entries when ctx is cancelled.
func Sync(ctx context.Context, src, dst, base string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}

	links := map[inodeKey]string{}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dstPath := filepath.Join(dst, rel)
		basePath := ""
		if base != "" {
			basePath = filepath.Join(base, rel)
		}
		return syncEntry(path, dstPath, basePath, d, links)
	})
	if err != nil {
		return err
	}
	return removeExtraneous(ctx, src, dst)
}

func syncEntry(srcPath, dstPath, basePath string, d fs.DirEntry, links map[inodeKey]string) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if err := clearMismatch(dstPath, info); err != nil {
		return err
	}

	switch {
	case d.IsDir():
		if err := os.MkdirAll(dstPath, info.Mode().Perm()); err != nil {
			return err
		}
		if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
			return err
		}
		return lchown(dstPath, info)

	case d.Type()&fs.ModeSymlink != 0:
		link, err := os.Readlink(srcPath)
		if err != nil {
			return err
		}
		if err := os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Symlink(link, dstPath); err != nil {
			return err
		}
		return lchown(dstPath, info)

	case d.Type().IsRegular():
		// paths sharing one inode in the source stay one inode in the copy
		if key, ok := inodeOf(info); ok {
			if first, linked := links[key]; linked {
				if err := os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
					return err
				}
				return os.Link(first, dstPath)
			}
			links[key] = dstPath
		}
		if basePath != "" && unchangedSince(info, basePath) {
			if err := os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Link(basePath, dstPath); err == nil {
				return nil
			}
			// cross-device or base vanished; fall through to a real copy
		}
		return copyFile(srcPath, dstPath, info)

	default:
		// sockets, fifos, devices: nothing a file backup can restore
		return nil
	}
}

// unchangedSince reports whether the base copy of a file still matches the
// live one. Size, mtime and mode together are the same signal rsync uses for
// its quick check.
func unchangedSince(src os.FileInfo, basePath string) bool {
	bi, err := os.Lstat(basePath)
	if err != nil || !bi.Mode().IsRegular() {
		return false
	}
	return bi.Size() == src.Size() &&
		bi.ModTime().Equal(src.ModTime()) &&
		bi.Mode() == src.Mode()
}

func copyFile(srcPath, dstPath string, info os.FileInfo) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
		return err
	}
	if err := lchown(dstPath, info); err != nil {
		return err
	}
	return os.Chtimes(dstPath, info.ModTime(), info.ModTime())
}

// clearMismatch removes a destination entry whose type differs from the
// source entry about to replace it.
func clearMismatch(dstPath string, srcInfo os.FileInfo) error {
	di, err := os.Lstat(dstPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if di.Mode().Type() == srcInfo.Mode().Type() {
		return nil
	}
	return os.RemoveAll(dstPath)
}

// removeExtraneous deletes entries under dst that no longer exist under src.
func removeExtraneous(ctx context.Context, src, dst string) error {
	entries, err := os.ReadDir(dst)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		si, err := os.Lstat(srcPath)
		if os.IsNotExist(err) {
			if err := os.RemoveAll(dstPath); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if e.IsDir() && si.IsDir() {
			if err := removeExtraneous(ctx, srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}
