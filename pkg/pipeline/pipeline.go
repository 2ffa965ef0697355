// Package pipeline runs the storage lifecycle: check the store, scan a
// tree, store what was found and replace it with reference tokens.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/doodlesbykumbi/vaultsweep/pkg/audit"
	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
	"github.com/doodlesbykumbi/vaultsweep/pkg/scanner"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
)

// Scanner produces a scan report for a root directory.
type Scanner interface {
	Scan(ctx context.Context, root string) (*scanner.Report, error)
}

// Rewriter replaces stored detections in one file.
type Rewriter interface {
	Rewrite(file string, detections []scanner.Detection, storeRoot string) (*rewriter.Result, error)
}

// Config wires a Pipeline.
type Config struct {
	Client   store.Client
	Scanner  Scanner
	Rewriter Rewriter
	// StoreRoot is mount/base/project.
	StoreRoot string
	// Address is reported in connectivity errors.
	Address string
	// Workers bounds the number of store paths written concurrently.
	Workers int
	Logger  *zap.Logger
	Audit   *audit.Logger
	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)
	Now          func() time.Time
}

// Options selects the stages of a run.
type Options struct {
	Root    string
	Scan    bool
	Store   bool
	Replace bool
}

// StoreFailure is a detection whose value could not be stored. No token is
// written for it.
type StoreFailure struct {
	Detection scanner.Detection
	Err       *store.WriteError
}

// RewriteFailure is a file left unchanged.
type RewriteFailure struct {
	File string
	Err  error
}

// Summary describes a completed run.
type Summary struct {
	State  State
	Report *scanner.Report
	// MissingPaths were absent before storing; they are created by the writes.
	MissingPaths    []string
	Stored          int
	StoreFailures   []StoreFailure
	Rewritten       []*rewriter.Result
	RewriteFailures []RewriteFailure
}

// SecretsFound returns the number of detections, or 0 if no scan ran.
func (s *Summary) SecretsFound() int {
	if s.Report == nil {
		return 0
	}
	return s.Report.Total()
}

// Replaced returns the number of values replaced with tokens.
func (s *Summary) Replaced() int {
	n := 0
	for _, r := range s.Rewritten {
		n += r.Replaced
	}
	return n
}

// Pipeline is a single storage run state machine. It is safe to call Run
// again after it returns.
type Pipeline struct {
	cfg Config

	mu    sync.Mutex
	state State
}

func New(cfg Config) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg}
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.cfg.Logger.Debug("pipeline state", zap.Stringer("from", from), zap.Stringer("to", to))
	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(from, to)
	}
}

// Run executes the stages selected by opts. A connectivity failure aborts
// the run before scanning and is returned as a *store.ConnectivityError.
// Failures of single secrets or files are reported in the Summary. On
// cancellation the partial Summary is returned with the context error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	logger := p.cfg.Logger

	status, err := store.CheckConnectivity(ctx, p.cfg.Client, p.cfg.Address)
	if err != nil {
		p.transition(StateAborted)
		logger.Error("aborting due to store connection failure", zap.Error(err))
		return &Summary{State: StateAborted}, err
	}
	logger.Info("connected to secret store", zap.String("address", p.cfg.Address), zap.String("version", status.Version))

	summary := &Summary{State: StateIdle}
	if !opts.Scan {
		return summary, nil
	}

	p.transition(StateScanning)
	report, err := p.cfg.Scanner.Scan(ctx, opts.Root)
	if err != nil {
		p.transition(StateIdle)
		return summary, err
	}
	summary.Report = report
	logger.Info("scan completed",
		zap.Int("secrets", report.Total()),
		zap.Int("files", report.FilesScanned),
		zap.Int("warnings", len(report.Warnings)))

	if report.Total() == 0 || !opts.Store {
		p.transition(StateIdle)
		return summary, nil
	}

	p.transition(StateStoringSecrets)
	stored, err := p.store(ctx, report, summary)
	if err != nil {
		p.transition(StateIdle)
		return summary, err
	}

	if opts.Replace {
		p.transition(StateRewritingFiles)
		if err := p.rewrite(ctx, report, stored, summary); err != nil {
			p.transition(StateIdle)
			return summary, err
		}
	}

	p.transition(StateIdle)
	return summary, nil
}

// store writes every detection. Writes to the same path run in file and
// line order so that a derivation collision resolves to the last one;
// distinct paths are written concurrently. It returns the detections
// confirmed stored, keyed by their position in report.Detections().
func (p *Pipeline) store(ctx context.Context, report *scanner.Report, summary *Summary) (map[int]bool, error) {
	logger := p.cfg.Logger
	detections := report.Detections()

	for id, ds := range report.Collisions() {
		locations := make([]string, 0, len(ds))
		for _, d := range ds {
			locations = append(locations, d.RelPath)
		}
		logger.Warn("detections share a key, the last one stored wins", zap.String("key", id), zap.Strings("files", locations))
	}

	byPath := make(map[string][]int)
	var paths []string
	for i, d := range detections {
		path := rewriter.StorePath(p.cfg.StoreRoot, d)
		if _, ok := byPath[path]; !ok {
			paths = append(paths, path)
		}
		byPath[path] = append(byPath[path], i)
	}
	sort.Strings(paths)

	for _, path := range paths {
		exists, err := p.cfg.Client.PathExists(ctx, path)
		switch {
		case err != nil:
			logger.Warn("couldn't check store path", zap.String("path", path), zap.Error(err))
		case exists:
			logger.Debug("path already exists", zap.String("path", path))
		default:
			logger.Info("path will be created", zap.String("path", path))
			summary.MissingPaths = append(summary.MissingPaths, path)
		}
	}

	var (
		mu       sync.Mutex
		stored   = make(map[int]bool)
		failures []StoreFailure
	)
	now := p.cfg.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, path := range paths {
		g.Go(func() error {
			for _, i := range byPath[path] {
				if err := gctx.Err(); err != nil {
					return err
				}
				d := detections[i]
				meta := store.NewMetadata(d.RelPath, d.Line, d.Type, now)
				err := p.cfg.Client.Put(gctx, path, d.Key, d.Value, meta)

				ev := audit.SecretStoreEvent{Path: path, Key: d.Key, File: d.RelPath, Line: d.Line, Type: d.Type, Success: err == nil}
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
						return ctxErr
					}
					werr := &store.WriteError{Path: path, Key: d.Key, Err: err}
					ev.ErrorMessage = err.Error()
					p.cfg.Audit.Log(ev)
					logger.Warn("failed to store secret", zap.String("file", d.RelPath), zap.Int("line", d.Line), zap.Error(werr))

					mu.Lock()
					failures = append(failures, StoreFailure{Detection: d, Err: werr})
					mu.Unlock()
					continue
				}
				p.cfg.Audit.Log(ev)
				logger.Info("stored secret", zap.String("path", path), zap.String("key", d.Key))

				mu.Lock()
				stored[i] = true
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	sort.SliceStable(failures, func(i, j int) bool {
		a, b := failures[i].Detection, failures[j].Detection
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Start < b.Start
	})
	summary.Stored = len(stored)
	summary.StoreFailures = failures
	return stored, err
}

// rewrite replaces only detections that were confirmed stored. A failure in
// one file does not stop the others.
func (p *Pipeline) rewrite(ctx context.Context, report *scanner.Report, stored map[int]bool, summary *Summary) error {
	logger := p.cfg.Logger

	offset := 0
	for _, fr := range report.Files {
		var ds []scanner.Detection
		for j, d := range fr.Detections {
			if stored[offset+j] {
				ds = append(ds, d)
			}
		}
		offset += len(fr.Detections)

		if len(ds) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := p.cfg.Rewriter.Rewrite(fr.Path, ds, p.cfg.StoreRoot)
		if err != nil {
			logger.Error("failed to rewrite file", zap.String("file", fr.Path), zap.Error(err))
			p.cfg.Audit.Log(audit.FileRewriteEvent{File: fr.Path, ErrorMessage: err.Error()})
			summary.RewriteFailures = append(summary.RewriteFailures, RewriteFailure{File: fr.Path, Err: err})
			continue
		}
		if result.Replaced == 0 {
			continue
		}
		p.cfg.Audit.Log(audit.FileRewriteEvent{
			File:     fr.Path,
			Backup:   result.Backup,
			Replaced: result.Replaced,
			Success:  true,
		})
		summary.Rewritten = append(summary.Rewritten, result)
	}
	return nil
}
