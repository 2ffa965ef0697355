package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/doodlesbykumbi/vaultsweep/pkg/audit"
	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
	"github.com/doodlesbykumbi/vaultsweep/pkg/logging"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/backend"
)

// session holds what a command needs for one run.
type session struct {
	projectDir string
	cfg        *config.Config
	logger     *zap.Logger
	audit      *audit.Logger
	store      *backend.Backend

	closers []func() error
}

// sessionOptions are set by tests to avoid real backends and output.
type sessionOptions struct {
	backend   backend.Options
	logWriter io.Writer
}

var testSessionOptions *sessionOptions

// newSession loads the configuration for projectDir and builds the logger,
// the audit log and, if withStore is set, the store client.
func newSession(ctx context.Context, projectDir string, withStore bool) (*session, error) {
	if projectDir == "" {
		projectDir = "."
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, err
	}
	s := &session{projectDir: abs}

	opts := sessionOptions{logWriter: os.Stderr}
	if testSessionOptions != nil {
		opts = *testSessionOptions
	}

	if s.logger, err = logging.NewWithWriter(globals.logLevel, globals.logFormat, opts.logWriter); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { _ = s.logger.Sync(); return nil })

	if s.cfg, err = config.Load(resolveConfigPath(globals.configPath, abs), abs); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.openAudit(); err != nil {
		s.Close()
		return nil, err
	}

	if withStore {
		opts.backend.Logger = s.logger
		if s.store, err = backend.Open(ctx, s.cfg, opts.backend); err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, s.store.Close)
	}
	return s, nil
}

// resolveConfigPath prefers a relative config path inside the project
// directory when it exists there.
func resolveConfigPath(explicit, projectDir string) string {
	path := config.Path(explicit)
	if filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if candidate := filepath.Join(projectDir, path); fileExists(candidate) {
		return candidate
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *session) openAudit() error {
	var w io.Writer
	switch globals.auditLog {
	case "":
	case "-":
		w = os.Stdout
	default:
		f, err := os.OpenFile(globals.auditLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		w = f
		s.closers = append(s.closers, f.Close)
	}

	dbStore, err := audit.NewStoreFromEnv()
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	if w == nil && dbStore == nil {
		return nil
	}

	s.audit = audit.NewLogger(w)
	if dbStore != nil {
		s.audit.WithStore(dbStore, s.logger)
		s.closers = append(s.closers, s.audit.Close)
	}
	return nil
}

// path resolves p against the project directory.
func (s *session) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.projectDir, p)
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}
