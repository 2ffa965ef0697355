package main

import "github.com/spf13/cobra"

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the sql backend database",
	Long:  `Manage the database schema of the sql backend and the audit table.`,
	Run:   requireSubcommand("migrate, down, status, versions"),
}

func init() {
	rootCmd.AddCommand(dbCmd)
}
