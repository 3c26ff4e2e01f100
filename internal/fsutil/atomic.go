// Package fsutil holds small file helpers shared by the state writers.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces dir/name with data so that readers see either the
// old or the new content. dir is created with mode 0755 when missing.
func WriteFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	return replace(dir, name, perm, bytes.NewReader(data))
}

// CopyFileAtomic copies src over dir/name by rename, so a running executable
// at the destination can be replaced without ETXTBSY.
func CopyFileAtomic(src, dir, name string, perm os.FileMode) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", src, err)
	}
	defer f.Close()
	return replace(dir, name, perm, f)
}

func replace(dir, name string, perm os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("fsutil: create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("fsutil: chmod %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("fsutil: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsutil: sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fsutil: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("fsutil: rename into place: %w", err)
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry so the rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsutil: sync %s: %w", dir, err)
	}
	return nil
}
