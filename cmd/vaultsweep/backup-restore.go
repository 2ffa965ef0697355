package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doodlesbykumbi/vaultsweep/pkg/rewriter"
)

// backupRestoreCmd represents the backup restore command
var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file-or-backup>",
	Short: "Restore a file from its newest backup",
	Long: `Restore a file from its newest backup.

The argument is either the path of the original file or the name of a
backup in the backup directory. The restored content replaces the current
file; the secret store is not touched.

Example:
  vaultsweep backup restore config/.env
  vaultsweep backup restore .env.1.bak`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")

		if err := runBackupRestore(cmd.Context(), cmd.OutOrStdout(), project, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to restore backup: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	backupCmd.AddCommand(backupRestoreCmd)
}

func runBackupRestore(ctx context.Context, out io.Writer, project, target string) error {
	s, err := newSession(ctx, project, false)
	if err != nil {
		return err
	}
	defer s.Close()

	backups := rewriter.NewBackups(s.path(s.cfg.BackupDir))
	entry, err := backups.Find(target)
	if err != nil {
		return err
	}
	if err := backups.Restore(entry); err != nil {
		return err
	}
	s.logger.Info("restored file", zap.String("file", entry.Source), zap.String("backup", entry.Backup))
	fmt.Fprintf(out, "Restored %s from %s\n", entry.Source, entry.Backup)
	return nil
}
