package main

import "github.com/spf13/cobra"

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore file backups",
	Long:  `Inspect and restore the backups taken before files were rewritten.`,
	Run:   requireSubcommand("list, restore"),
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.PersistentFlags().StringP("project", "p", "", "Project directory (default current directory)")
}
