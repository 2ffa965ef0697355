// Package scanner walks a source tree and reports hard-coded secrets.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
	"github.com/doodlesbykumbi/vaultsweep/pkg/keyderive"
	"github.com/doodlesbykumbi/vaultsweep/pkg/patterns"
)

// Matcher finds secret matches in file content.
type Matcher interface {
	Match(content []byte) []patterns.Match
}

// Detection is one secret found in a file.
type Detection struct {
	Type string
	Key  string
	// Identifier is the raw identifier capture the key was derived from.
	Identifier string
	Value      string
	// File is the path as visited, RelPath is relative to the scan root.
	File    string
	RelPath string
	Line    int
	// Start and End delimit the whole match, ValueStart and ValueEnd the value.
	Start      int
	End        int
	ValueStart int
	ValueEnd   int
	Subpath    string
}

// Warning records a file that could not be scanned.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) Error() string {
	return fmt.Sprintf("failed to read %s: %v", w.Path, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Options configures a Scanner.
type Options struct {
	Workers int
	Filter  *Filter
	Logger  *zap.Logger
}

// Scanner applies a Matcher to every candidate file under a root.
type Scanner struct {
	matcher Matcher
	filter  *Filter
	workers int
	logger  *zap.Logger
}

// New creates a Scanner.
func New(m Matcher, opts Options) *Scanner {
	s := &Scanner{
		matcher: m,
		filter:  opts.Filter,
		workers: opts.Workers,
		logger:  opts.Logger,
	}
	if s.filter == nil {
		s.filter = NewFilter(config.DefaultCandidateExtensions, config.DefaultAllowedDotfiles, nil)
	}
	if s.workers < 1 {
		s.workers = config.DefaultWorkers
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// NewFromConfig builds a Scanner with the filter rules of cfg. The ignore
// file is resolved against root.
func NewFromConfig(m Matcher, cfg *config.Config, root string, logger *zap.Logger) (*Scanner, error) {
	var lines []string
	if cfg.IgnoreFile != "" {
		path := cfg.IgnoreFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		var err error
		if lines, err = LoadIgnoreFile(path); err != nil {
			return nil, fmt.Errorf("failed to load ignore file: %w", err)
		}
	}
	return New(m, Options{
		Workers: cfg.Workers,
		Filter:  NewFilter(cfg.CandidateExtensions, cfg.AllowedDotfiles, lines),
		Logger:  logger,
	}), nil
}

// Scan visits root and returns every detection. Unreadable files are
// recorded as warnings and do not fail the scan. Results are ordered by file
// path then offset, so scanning an unchanged tree yields the same report.
func (s *Scanner) Scan(ctx context.Context, root string) (*Report, error) {
	files, warnings, err := s.candidates(ctx, root)
	if err != nil {
		return nil, err
	}

	results := make([][]Detection, len(files))
	fileWarnings := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			detections, err := s.scanFile(root, file)
			if err != nil {
				fileWarnings[i] = err
				return nil
			}
			results[i] = detections
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := newReport()
	report.Warnings = warnings
	for i, file := range files {
		if fileWarnings[i] != nil {
			w := Warning{Path: file, Err: fileWarnings[i]}
			s.logger.Warn("skipping unreadable file", zap.String("file", file), zap.Error(fileWarnings[i]))
			report.Warnings = append(report.Warnings, w)
			continue
		}
		report.add(file, results[i])
		if n := len(results[i]); n > 0 {
			s.logger.Info("found secrets", zap.String("file", file), zap.Int("count", n))
		}
	}
	return report, nil
}

func (s *Scanner) candidates(ctx context.Context, root string) ([]string, []Warning, error) {
	var (
		files    []string
		warnings []Warning
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			warnings = append(warnings, Warning{Path: path, Err: err})
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !s.filter.Include(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, warnings, nil
}

func (s *Scanner) scanFile(root, path string) ([]Detection, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	// keys depend on the parent directory name, which must not vary with
	// how root was spelled
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	matches := s.matcher.Match(content)
	detections := make([]Detection, 0, len(matches))
	for _, m := range matches {
		detections = append(detections, Detection{
			Type:       m.Type,
			Key:        keyderive.Derive(abs, m.Identifier),
			Identifier: m.Identifier,
			Value:      m.Value,
			File:       path,
			RelPath:    rel,
			Line:       lineAt(content, m.Start),
			Start:      m.Start,
			End:        m.End,
			ValueStart: m.ValueStart,
			ValueEnd:   m.ValueEnd,
			Subpath:    m.Subpath,
		})
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Start < detections[j].Start
	})
	return detections, nil
}

// lineAt returns the 1-based line number containing offset.
func lineAt(content []byte, offset int) int {
	return bytes.Count(content[:offset], []byte{'\n'}) + 1
}
