// Package archive packs a finished generation directory into a single
// portable tar.gz artifact and unpacks it again. Artifacts are written to a
// temp file and renamed into place so a partial write never looks like a
// finished archive.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Pack archives dir (with its base name as the top-level entry) into outPath.
func Pack(dir, outPath string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("pack source %s is not a directory", dir)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".pack-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)
	top := filepath.Base(dir)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := top
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(top, rel))
		}
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		// hard links inside a generation flatten to regular entries; the
		// space saving is an on-disk property, not an archive one
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outPath)
}

// Unpack extracts an artifact into destDir. Entries naming paths outside
// destDir, symlinks with relative-escape targets, and writes routed through a
// symlinked parent are all rejected.
func Unpack(artifact, destDir string) error {
	f, err := os.Open(artifact)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", artifact, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	resolvedDest, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", artifact, err)
		}
		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		path := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if strings.Contains(hdr.Linkname, "..") {
				return fmt.Errorf("archive symlink %q has an unsafe target %q", hdr.Name, hdr.Linkname)
			}
			if err := prepareParent(resolvedDest, path); err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := prepareParent(resolvedDest, path); err != nil {
				return err
			}
			// never write through a symlink left by an earlier entry
			if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				if err := os.Remove(path); err != nil {
					return err
				}
			}
			out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if err := os.Chtimes(path, hdr.ModTime, hdr.ModTime); err != nil {
				return err
			}
		}
	}
}

// prepareParent creates an entry's parent directory and verifies it still
// resolves inside the destination. A parent resolving elsewhere means an
// earlier symlink entry redirected the tree.
func prepareParent(resolvedDest, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if resolved != resolvedDest && !strings.HasPrefix(resolved, resolvedDest+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes destination", path)
	}
	return nil
}
