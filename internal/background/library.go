package background

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/g960059/itch/internal/model"
)

// Scan lists the image files directly inside dir as absolute, symlink
// resolved paths in lexical order.
func Scan(dir string) ([]string, error) {
	if dir == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backgrounds dir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !model.IsImagePath(entry.Name()) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		resolved, err := filepath.EvalSymlinks(full)
		if err != nil {
			continue
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return nil, fmt.Errorf("absolute path %s: %w", resolved, err)
		}
		out = append(out, abs)
	}
	sort.Strings(out)
	return out, nil
}

// Canonical makes path absolute and resolves symlinks when it exists, so
// it compares equal to the entries Scan returns.
func Canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
