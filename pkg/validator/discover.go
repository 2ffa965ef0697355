package validator

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"drjosh.dev/zzglob"
	"go.uber.org/zap"
)

// DefaultFilePatterns is used when no trigger patterns are configured.
var DefaultFilePatterns = []string{"**/*"}

// Discover expands the glob patterns relative to root and returns the
// matching regular files, deduplicated and sorted. Patterns are matched all
// at once, so overlapping patterns cost a single walk.
func Discover(ctx context.Context, root string, patterns []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(patterns) == 0 {
		patterns = DefaultFilePatterns
	}

	var globs []*zzglob.Pattern
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		g, err := zzglob.Parse(filepath.ToSlash(p))
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]struct{})
		files []string
	)
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("couldn't walk path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d != nil && d.IsDir() {
			return nil
		}
		path = filepath.Clean(path)

		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			files = append(files, path)
		}
		return nil
	}
	if err := zzglob.MultiGlob(ctx, globs, walk); err != nil {
		return nil, fmt.Errorf("globbing patterns: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
