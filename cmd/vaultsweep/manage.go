package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/vaultsweep/pkg/patterns"
	"github.com/doodlesbykumbi/vaultsweep/pkg/pipeline"
	"github.com/doodlesbykumbi/vaultsweep/pkg/report"
	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
	"github.com/doodlesbykumbi/vaultsweep/pkg/scanner"
)

type manageOptions struct {
	project   string
	scan      bool
	autoStore bool
	replace   bool
	output    string
}

// manageCmd represents the manage command
var manageCmd = &cobra.Command{
	Use:   "manage",
	Short: "Scan for secrets, store them and replace them with references",
	Long: `Scan a project for hard-coded secrets, store them in the secret store and
replace each value with a {{vault:<path>:<key>}} reference.

The store is checked first; if it is unreachable or sealed the run aborts
before scanning. A secret that fails to store is never replaced. Every
rewritten file is backed up to the configured backup directory.

Example:
  vaultsweep manage --scan
  vaultsweep manage --scan --auto-store --replace --project ./myproj`,
	Run: func(cmd *cobra.Command, args []string) {
		var opts manageOptions
		opts.project, _ = cmd.Flags().GetString("project")
		opts.scan, _ = cmd.Flags().GetBool("scan")
		opts.autoStore, _ = cmd.Flags().GetBool("auto-store")
		opts.replace, _ = cmd.Flags().GetBool("replace")
		opts.output, _ = cmd.Flags().GetString("output")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runManage(ctx, cmd.OutOrStdout(), opts); err != nil {
			fmt.Fprintf(os.Stderr, "vaultsweep manage: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(manageCmd)
	manageCmd.Flags().Bool("scan", false, "Scan the project for secrets")
	manageCmd.Flags().Bool("auto-store", false, "Store found secrets in the secret store")
	manageCmd.Flags().Bool("replace", false, "Replace stored secrets with vault references (requires --auto-store)")
	manageCmd.Flags().StringP("project", "p", "", "Project directory (default current directory)")
	manageCmd.Flags().StringP("output", "o", report.FormatText, "Output format (text or json)")
}

func runManage(ctx context.Context, out io.Writer, opts manageOptions) error {
	if opts.replace && !opts.autoStore {
		return errors.New("--replace requires --auto-store")
	}
	if err := report.CheckFormat(opts.output); err != nil {
		return err
	}

	s, err := newSession(ctx, opts.project, true)
	if err != nil {
		return err
	}
	defer s.Close()

	registry, err := patterns.Load(s.cfg)
	if err != nil {
		return err
	}
	sc, err := scanner.NewFromConfig(registry, s.cfg, s.projectDir, s.logger)
	if err != nil {
		return err
	}

	s.logger.Sugar().Infof("vaultsweep initialized for project %s, using %s backend at %s",
		s.cfg.ProjectName, s.cfg.Backend, s.store.Address)

	p := pipeline.New(pipeline.Config{
		Client:    s.store,
		Scanner:   sc,
		Rewriter:  rewriter.New(rewriter.NewBackups(s.path(s.cfg.BackupDir)), s.logger),
		StoreRoot: s.cfg.StoreRoot(),
		Address:   s.store.Address,
		Workers:   s.cfg.Workers,
		Logger:    s.logger,
		Audit:     s.audit,
	})

	summary, err := p.Run(ctx, pipeline.Options{
		Root:    s.projectDir,
		Scan:    opts.scan,
		Store:   opts.autoStore,
		Replace: opts.replace,
	})
	if summary != nil && summary.State != pipeline.StateAborted {
		if werr := report.WriteSummary(out, summary, opts.output); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}
