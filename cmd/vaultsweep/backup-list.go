package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/vaultsweep/pkg/report"
	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
)

// backupListCmd represents the backup list command
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the recorded backups",
	Long: `List the backups recorded in the manifest of the backup directory.

Example:
  vaultsweep backup list
  vaultsweep backup list --output json`,
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		output, _ := cmd.Flags().GetString("output")

		if err := runBackupList(cmd.Context(), cmd.OutOrStdout(), project, output); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list backups: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	backupCmd.AddCommand(backupListCmd)
	backupListCmd.Flags().StringP("output", "o", report.FormatText, "Output format (text or json)")
}

func runBackupList(ctx context.Context, out io.Writer, project, output string) error {
	if err := report.CheckFormat(output); err != nil {
		return err
	}
	s, err := newSession(ctx, project, false)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := rewriter.NewBackups(s.path(s.cfg.BackupDir)).List()
	if err != nil {
		return err
	}
	return report.WriteBackups(out, entries, output, time.Now())
}
