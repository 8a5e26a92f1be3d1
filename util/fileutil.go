package util

import (
	"os"
	"path/filepath"
)

// PathExists reports whether path refers to an existing file or directory.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	if PathExists(dir) {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// EnsureParentDir creates the directory containing path when missing.
func EnsureParentDir(path string) error {
	return EnsureDir(filepath.Dir(path))
}
