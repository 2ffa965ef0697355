package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/vaultsweep/pkg/config"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/sqlstore"
)

// dbMigrateCmd represents the db migrate command
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create and/or upgrade the database schema",
	Long: `Create and/or upgrade the database schema.

This command runs all pending migrations of the sql backend. The database is
taken from DATABASE_URL or from vault_config.database_url.

Example:
  vaultsweep db migrate`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMigrations(cmd.OutOrStdout()); err != nil {
			fmt.Fprintln(os.Stderr, "Migration failed:", err)
			os.Exit(1)
		}
	},
}

var dbMigrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback database migrations",
	Long: `Rollback database migrations.

This command rolls back the specified number of migrations (default: 1).

Example:
  vaultsweep db down      # Rollback 1 migration
  vaultsweep db down 2    # Rollback 2 migrations`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		steps := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				fmt.Fprintf(os.Stderr, "invalid number of steps %q\n", args[0])
				os.Exit(1)
			}
			steps = n
		}

		if err := runMigrationsDown(cmd.OutOrStdout(), steps); err != nil {
			fmt.Fprintln(os.Stderr, "Rollback failed:", err)
			os.Exit(1)
		}
	},
}

var dbMigrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current migration version",
	Long:  `Show the current database migration version.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := showMigrationStatus(cmd.OutOrStdout()); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to get status:", err)
			os.Exit(1)
		}
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbMigrateDownCmd)
	dbCmd.AddCommand(dbMigrateStatusCmd)
}

// databaseURL prefers DATABASE_URL and falls back to the config file.
func databaseURL() (string, error) {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u, nil
	}
	cfg, err := config.Load(resolveConfigPath(globals.configPath, "."), ".")
	if err == nil && cfg.DatabaseURL != "" {
		return cfg.DatabaseURL, nil
	}
	return "", errors.New("DATABASE_URL environment variable or vault_config.database_url is required")
}

func printState(out io.Writer, prefix string, st sqlstore.MigrationState) {
	if !st.Applied {
		fmt.Fprintln(out, "No migrations have been applied yet")
		return
	}
	fmt.Fprintf(out, "%s: %d\n", prefix, st.Version)
	if st.Dirty {
		fmt.Fprintln(out, "Warning: Database is in a dirty state")
	}
}

func runMigrations(out io.Writer) error {
	dbURL, err := databaseURL()
	if err != nil {
		return err
	}
	before, err := sqlstore.MigrationStatus(dbURL)
	if err != nil {
		return err
	}
	after, err := sqlstore.Migrate(dbURL)
	if err != nil {
		return err
	}
	if before == after {
		fmt.Fprintln(out, "No migrations to run - database is up to date")
		return nil
	}
	printState(out, "Migrated to version", after)
	fmt.Fprintln(out, "Migrations complete")
	return nil
}

func runMigrationsDown(out io.Writer, steps int) error {
	dbURL, err := databaseURL()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Rolling back %d migration(s)...\n", steps)
	st, err := sqlstore.MigrateDown(dbURL, steps)
	if err != nil {
		return err
	}
	printState(out, "Rolled back to version", st)
	return nil
}

func showMigrationStatus(out io.Writer) error {
	dbURL, err := databaseURL()
	if err != nil {
		return err
	}
	st, err := sqlstore.MigrationStatus(dbURL)
	if err != nil {
		return err
	}
	printState(out, "Current version", st)
	return nil
}
