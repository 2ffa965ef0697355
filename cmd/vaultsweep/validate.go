package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doodlesbykumbi/vaultsweep/pkg/report"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
	"github.com/doodlesbykumbi/vaultsweep/pkg/validator"
)

// errInvalidReferences makes validate exit non-zero without an extra message.
var errInvalidReferences = errors.New("invalid vault references found")

type validateOptions struct {
	path   string
	output string
	watch  bool
	// debounce groups bursts of file events into one run.
	debounce time.Duration
}

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every vault reference resolves",
	Long: `Check that every {{vault:<path>:<key>}} reference in a project resolves in
the secret store.

Files are discovered with the trigger.file_patterns globs of the config. The
command exits 1 if any reference is invalid.

With --watch the check is repeated whenever a discovered file changes.

Example:
  vaultsweep validate
  vaultsweep validate --path ./myproj --output json
  vaultsweep validate --watch`,
	Run: func(cmd *cobra.Command, args []string) {
		var opts validateOptions
		opts.path, _ = cmd.Flags().GetString("path")
		opts.output, _ = cmd.Flags().GetString("output")
		opts.watch, _ = cmd.Flags().GetBool("watch")
		opts.debounce = 500 * time.Millisecond

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := runValidate(ctx, cmd.OutOrStdout(), opts)
		if errors.Is(err, errInvalidReferences) {
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "vaultsweep validate: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("path", "", "Project directory to validate (default current directory)")
	validateCmd.Flags().StringP("output", "o", report.FormatText, "Output format (text or json)")
	validateCmd.Flags().BoolP("watch", "w", false, "Re-run validation when files change")
}

func runValidate(ctx context.Context, out io.Writer, opts validateOptions) error {
	if err := report.CheckFormat(opts.output); err != nil {
		return err
	}

	s, err := newSession(ctx, opts.path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := store.CheckConnectivity(ctx, s.store, s.store.Address); err != nil {
		s.logger.Error("aborting due to store connection failure", zap.Error(err))
		return err
	}

	v := validator.New(s.store, validator.Options{
		Workers: s.cfg.Workers,
		Logger:  s.logger,
		Audit:   s.audit,
	})

	run := func() ([]string, error) {
		res, err := v.Run(ctx, s.projectDir, s.cfg.FilePatterns)
		if err != nil {
			return nil, err
		}
		if err := report.WriteValidation(out, res, opts.output); err != nil {
			return nil, err
		}
		if res.Failed() {
			return res.Checked, errInvalidReferences
		}
		return res.Checked, nil
	}

	files, err := run()
	if !opts.watch {
		return err
	}
	if err != nil && !errors.Is(err, errInvalidReferences) {
		return err
	}
	return watchAndValidate(ctx, s.logger, s.projectDir, files, opts.debounce, run)
}

// watchAndValidate re-runs run whenever a file in the watched directories is
// written or created. Each run refreshes the watched set.
func watchAndValidate(ctx context.Context, logger *zap.Logger, root string, files []string, debounce time.Duration, run func() ([]string, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := make(map[string]bool)
	watch := func(files []string) {
		dirs := append([]string{root}, files...)
		for i, f := range dirs {
			if i > 0 {
				f = filepath.Dir(f)
			}
			if watched[f] {
				continue
			}
			if err := watcher.Add(f); err != nil {
				logger.Warn("failed to watch directory", zap.String("dir", f), zap.Error(err))
				continue
			}
			watched[f] = true
		}
	}
	watch(files)
	logger.Info("watching for changes", zap.Int("directories", len(watched)))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("file changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			logger.Info("files changed, validating references",
				zap.String("time", time.Now().Format(time.RFC3339)))
			files, err := run()
			if err != nil && !errors.Is(err, errInvalidReferences) {
				logger.Error("validation failed", zap.Error(err))
				continue
			}
			watch(files)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}
