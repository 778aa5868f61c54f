// Package fsutil has small filesystem helpers shared by the artifact
// store and config loading.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome resolves a leading "~" against the current user's home
// directory. Paths without the prefix pass through unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")
	if rest == "" {
		return home, nil
	}
	return filepath.Join(home, rest), nil
}

// PathExists reports whether the path exists. Errors other than
// not-exist (e.g. permission) count as existing.
func PathExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	return true
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
