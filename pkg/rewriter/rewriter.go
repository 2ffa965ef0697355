// Package rewriter replaces detected secret values with reference tokens,
// keeping a backup of every file it changes.
package rewriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/doodlesbykumbi/vaultsweep/pkg/reference"
	"github.com/doodlesbykumbi/vaultsweep/pkg/scanner"
)

// FileWriteError means a file was left unchanged.
type FileWriteError struct {
	File string
	Err  error
}

func (e *FileWriteError) Error() string {
	return fmt.Sprintf("failed to rewrite %s: %v", e.File, e.Err)
}

func (e *FileWriteError) Unwrap() error {
	return e.Err
}

// Skipped is a detection that was not substituted.
type Skipped struct {
	Detection scanner.Detection
	Reason    string
}

// Result describes a completed rewrite.
type Result struct {
	File     string
	Backup   string
	Replaced int
	Skipped  []Skipped
}

// Rewriter substitutes tokens into files.
type Rewriter struct {
	backups *Backups
	logger  *zap.Logger
}

func New(backups *Backups, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{backups: backups, logger: logger}
}

// StorePath returns the full store path for a detection.
func StorePath(storeRoot string, d scanner.Detection) string {
	return storeRoot + "/" + d.Subpath
}

type substitution struct {
	start, end int
	token      string
	detection  scanner.Detection
}

// Rewrite replaces each detection's value in file with its reference token.
// Only the exact bytes of the value capture are replaced. The file is backed
// up before it is written, and is left untouched if any step fails.
func (r *Rewriter) Rewrite(file string, detections []scanner.Detection, storeRoot string) (*Result, error) {
	if len(detections) == 0 {
		return &Result{File: file}, nil
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, &FileWriteError{File: file, Err: err}
	}

	subs, skipped, err := plan(content, detections, storeRoot)
	if err != nil {
		return nil, &FileWriteError{File: file, Err: err}
	}
	result := &Result{File: file, Skipped: skipped}
	if len(subs) == 0 {
		return result, nil
	}

	updated := apply(content, subs)

	backup, err := r.backups.Save(file, content)
	if err != nil {
		return nil, &FileWriteError{File: file, Err: err}
	}
	result.Backup = backup

	if err := writeFileAtomic(file, updated); err != nil {
		return nil, &FileWriteError{File: file, Err: err}
	}
	result.Replaced = len(subs)

	for _, s := range skipped {
		r.logger.Warn("secret not replaced", zap.String("file", file),
			zap.Int("line", s.Detection.Line), zap.String("reason", s.Reason))
	}
	r.logger.Info("rewrote file", zap.String("file", file),
		zap.Int("replaced", result.Replaced), zap.String("backup", backup))
	return result, nil
}

// plan validates every detection against the current content and returns
// the substitutions in descending offset order. A value that no longer
// matches means the file changed since the scan, which fails the file.
func plan(content []byte, detections []scanner.Detection, storeRoot string) ([]substitution, []Skipped, error) {
	subs := make([]substitution, 0, len(detections))
	for _, d := range detections {
		if d.ValueStart < 0 || d.ValueEnd > len(content) || d.ValueStart >= d.ValueEnd {
			return nil, nil, fmt.Errorf("line %d: value offsets out of range", d.Line)
		}
		if string(content[d.ValueStart:d.ValueEnd]) != d.Value {
			return nil, nil, fmt.Errorf("line %d: content changed since scan", d.Line)
		}
		token, err := reference.Encode(StorePath(storeRoot, d), d.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", d.Line, err)
		}
		subs = append(subs, substitution{start: d.ValueStart, end: d.ValueEnd, token: token, detection: d})
	}

	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].start > subs[j].start
	})

	var (
		out     []substitution
		skipped []Skipped
	)
	for _, s := range subs {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if s.start == prev.start && s.end == prev.end && s.token == prev.token {
				continue
			}
			if s.end > prev.start {
				skipped = append(skipped, Skipped{Detection: s.detection, Reason: "overlaps another replacement"})
				continue
			}
		}
		out = append(out, s)
	}
	return out, skipped, nil
}

// apply expects subs in descending offset order.
func apply(content []byte, subs []substitution) []byte {
	updated := append([]byte(nil), content...)
	for _, s := range subs {
		tail := append([]byte(s.token), updated[s.end:]...)
		updated = append(updated[:s.start], tail...)
	}
	return updated
}

// writeFileAtomic replaces path via a temporary file in the same directory,
// keeping the original mode.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
