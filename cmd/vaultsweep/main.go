package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	auditLog   string
}

var globals globalFlags

var rootCmd = &cobra.Command{
	Use:   "vaultsweep",
	Short: "Find hard-coded secrets, move them into Vault and keep references valid",
	Long: `vaultsweep scans a project for hard-coded secrets, stores them in a secret
store and replaces each value with a {{vault:<path>:<key>}} reference.

The validate command checks that every reference in a project still resolves,
which makes it suitable as a CI gate.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&globals.configPath, "config", "c", "", "Config file (default $VAULTSWEEP_CONFIG or config/vault-config.json)")
	flags.StringVar(&globals.logLevel, "log-level", envOr("VAULTSWEEP_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flags.StringVar(&globals.logFormat, "log-format", "console", "Log format (console or json)")
	flags.StringVar(&globals.auditLog, "audit-log", "", "Write RFC5424 audit events to this file (- for stdout)")
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// requireSubcommand is the Run of a command group invoked on its own.
func requireSubcommand(subcommands string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stderr, "error: Command '%s' requires a subcommand (%s)\n\n", cmd.Name(), subcommands)
		_ = cmd.Help()
		os.Exit(1)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
