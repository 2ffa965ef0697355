// Package validator checks that every reference token in a set of files
// resolves in the secret store.
package validator

import (
	"context"
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/doodlesbykumbi/vaultsweep/pkg/audit"
	"github.com/doodlesbykumbi/vaultsweep/pkg/reference"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
)

// Reference is the outcome of checking one token. A lookup error is
// recorded here instead of being returned.
type Reference struct {
	Path  string
	Key   string
	Line  int
	Valid bool
	Err   error
}

// FileResult holds the references found in one file. Err is set when the
// file could not be read.
type FileResult struct {
	File       string
	References []Reference
	Err        error
}

// Invalid returns the number of invalid references in the file.
func (f FileResult) Invalid() int {
	n := 0
	for _, r := range f.References {
		if !r.Valid {
			n++
		}
	}
	return n
}

// Result aggregates a validation run.
type Result struct {
	State               State
	TotalFiles          int
	FilesWithReferences int
	ValidReferences     int
	InvalidReferences   int
	// Files lists only files that contain references or could not be read.
	Files []FileResult
	// Checked is every file the run looked at.
	Checked []string
}

// Failed reports whether any reference is invalid.
func (r *Result) Failed() bool {
	return r.InvalidReferences > 0
}

// Options configures a Validator.
type Options struct {
	Workers int
	Logger  *zap.Logger
	Audit   *audit.Logger
	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// Validator resolves reference tokens against a store.Client.
type Validator struct {
	client  store.Client
	workers int
	logger  *zap.Logger
	audit   *audit.Logger
	onTrans func(from, to State)

	mu    sync.Mutex
	state State

	lookups singleflight.Group
}

func New(client store.Client, opts Options) *Validator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Validator{
		client:  client,
		workers: opts.Workers,
		logger:  opts.Logger,
		audit:   opts.Audit,
		onTrans: opts.OnTransition,
	}
}

// State returns the current state.
func (v *Validator) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Validator) transition(s State) {
	v.mu.Lock()
	prev := v.state
	v.state = s
	v.mu.Unlock()
	v.logger.Debug("validator state", zap.Stringer("from", prev), zap.Stringer("to", s))
	if v.onTrans != nil {
		v.onTrans(prev, s)
	}
}

// Run discovers files under root matching patterns and validates them.
// Only discovery errors and cancellation are returned as errors.
func (v *Validator) Run(ctx context.Context, root string, patterns []string) (*Result, error) {
	v.transition(StateDiscoveringFiles)
	files, err := Discover(ctx, root, patterns, v.logger)
	if err != nil {
		v.transition(StateIdle)
		return nil, err
	}
	v.logger.Info("found files to check for vault references", zap.Int("files", len(files)))
	return v.Validate(ctx, files)
}

// Validate checks every token in files.
func (v *Validator) Validate(ctx context.Context, files []string) (*Result, error) {
	v.transition(StateValidatingReferences)

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.validateFile(gctx, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.transition(StateIdle)
		return nil, err
	}

	res := &Result{TotalFiles: len(files), Checked: files}
	for _, fr := range results {
		if fr.Err != nil {
			v.logger.Warn("couldn't read file", zap.String("file", fr.File), zap.Error(fr.Err))
			res.Files = append(res.Files, fr)
			continue
		}
		if len(fr.References) == 0 {
			continue
		}
		res.FilesWithReferences++
		invalid := fr.Invalid()
		res.InvalidReferences += invalid
		res.ValidReferences += len(fr.References) - invalid
		res.Files = append(res.Files, fr)

		if invalid == 0 {
			v.logger.Info("all references valid", zap.String("file", fr.File), zap.Int("valid", len(fr.References)))
		} else {
			v.logger.Warn("invalid references", zap.String("file", fr.File),
				zap.Int("valid", len(fr.References)-invalid), zap.Int("invalid", invalid))
		}
	}

	if res.Failed() {
		res.State = StateDoneInvalid
	} else {
		res.State = StateDoneValid
	}
	v.transition(res.State)
	return res, nil
}

func (v *Validator) validateFile(ctx context.Context, file string) FileResult {
	fr := FileResult{File: file}
	content, err := os.ReadFile(file)
	if err != nil {
		fr.Err = err
		return fr
	}

	line, last := 1, 0
	for tok := range reference.Decode(content) {
		for ; last < tok.Start; last++ {
			if content[last] == '\n' {
				line++
			}
		}

		ref := Reference{Path: tok.Path, Key: tok.Key, Line: line}
		if err := v.lookup(ctx, tok.Path, tok.Key); err != nil {
			ref.Err = err
		} else {
			ref.Valid = true
		}
		fr.References = append(fr.References, ref)

		ev := audit.ReferenceCheckEvent{File: file, Path: tok.Path, Key: tok.Key, Valid: ref.Valid}
		if ref.Err != nil {
			ev.ErrorMessage = ref.Err.Error()
		}
		v.audit.Log(ev)
	}
	return fr
}

// lookup collapses concurrent checks of the same reference into one call.
func (v *Validator) lookup(ctx context.Context, path, key string) error {
	_, err, _ := v.lookups.Do(path+":"+key, func() (interface{}, error) {
		_, err := v.client.Get(ctx, path, key)
		return nil, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrNotFound
	}
	return err
}
