package fsutil

import (
	"fmt"
	"path/filepath"
	"sort"
)

// SearchFiles expands a glob pattern into the matching paths, sorted.
// With firstOnly set at most one path is returned.
func SearchFiles(pattern string, firstOnly bool) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", pattern, err)
	}
	sort.Strings(matches)
	if firstOnly && len(matches) > 1 {
		matches = matches[:1]
	}
	return matches, nil
}
