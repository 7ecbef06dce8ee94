// Package fileutil holds the filesystem primitives shared by every stage:
// same-filesystem moves, collision-safe target names, atomic writes and
// directory sizes.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrCrossDevice reports a rename between two filesystems. Stage handovers
// never fall back to copy-and-delete.
var ErrCrossDevice = errors.New("cross-device move")

// Move renames src to dst, creating the parent of dst when missing. A target
// that already exists is never overwritten.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: target %s: %w", src, dst, fs.ErrExist)
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			return fmt.Errorf("move %s to %s: %w", src, dst, ErrCrossDevice)
		}
		return err
	}
	return nil
}

// MoveUnique moves src into dir under name, adding a timestamp suffix where
// split places it when the name is taken. It returns the final path.
func MoveUnique(src, dir, name string, now time.Time, split Splitter) (string, error) {
	target := UniquePathSplit(dir, name, now, split)
	if err := Move(src, target); err != nil {
		return "", err
	}
	return target, nil
}

// Splitter splits a file name into the stem that takes a collision suffix
// and the tail that stays at the end.
type Splitter func(name string) (stem, tail string)

// UniquePath returns dir/name, or a variant with a timestamp (and counter)
// inserted before the extension when dir/name already exists.
func UniquePath(dir, name string, now time.Time) string {
	return UniquePathSplit(dir, name, now, SplitExt)
}

// UniquePathSplit is UniquePath with the insertion point chosen by split.
func UniquePathSplit(dir, name string, now time.Time, split Splitter) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate
	}
	base, tail := split(name)
	stamp := now.UTC().Format("20060102T150405.000Z")
	candidate = filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, stamp, tail))
	for i := 1; exists(candidate); i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", base, stamp, i, tail))
	}
	return candidate
}

// SplitExt splits name into base and extension. Sidecar double extensions
// such as ".error.json" are not special-cased.
func SplitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// DirSize sums the sizes of the regular files below root.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
