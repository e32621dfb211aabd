package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Move renames src to dst, creating dst's parent with dirPerm. When the rename
// crosses filesystems the file is copied with verification, given fileMode,
// and the source removed.
func Move(src, dst string, fileMode, dirPerm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, unix.EXDEV) {
			return fmt.Errorf("move file: %w", err)
		}
		if err := CopyFileVerified(src, dst); err != nil {
			return fmt.Errorf("copy file across devices: %w", err)
		}
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("remove source after copy: %w", err)
		}
	}
	if fileMode != 0 {
		if err := os.Chmod(dst, fileMode); err != nil {
			return fmt.Errorf("set file mode: %w", err)
		}
	}
	return nil
}

// Copy copies src to dst with verification, leaving src in place.
func Copy(src, dst string, fileMode, dirPerm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	if err := CopyFileVerified(src, dst); err != nil {
		return err
	}
	if fileMode != 0 {
		if err := os.Chmod(dst, fileMode); err != nil {
			return fmt.Errorf("set file mode: %w", err)
		}
	}
	return nil
}

// UniquePath returns path unchanged when nothing exists there, otherwise the
// first free "name (N).ext" sibling.
func UniquePath(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// RemoveEmptyDirs deletes dir and then each empty parent up to, but not
// including, stop. It returns the number of directories removed.
func RemoveEmptyDirs(dir, stop string) int {
	dir = filepath.Clean(dir)
	stop = filepath.Clean(stop)
	removed := 0
	for dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		removed++
		dir = filepath.Dir(dir)
	}
	return removed
}

// CheckWritable reports whether the current process can create files in dir.
func CheckWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return nil
}
