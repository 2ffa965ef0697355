package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/vaultsweep/pkg/report"
)

// configurationShowCmd represents the configuration show command
var configurationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configuration attributes and their sources",
	Long: `Show configuration attributes and their sources.

Each value is reported with where it came from: the default, the config
file, the environment, the token file or the project directory. Tokens and
data keys are never printed.

Config file location: config/vault-config.json (or VAULTSWEEP_CONFIG)

Example:
  vaultsweep configuration show
  vaultsweep configuration show --output json`,
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		output, _ := cmd.Flags().GetString("output")

		if err := showConfiguration(cmd.Context(), cmd.OutOrStdout(), project, output); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to show configuration: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	configurationCmd.AddCommand(configurationShowCmd)
	configurationShowCmd.Flags().StringP("output", "o", report.FormatText, "Output format (text or json)")
	configurationShowCmd.Flags().StringP("project", "p", "", "Project directory (default current directory)")
}

func showConfiguration(ctx context.Context, out io.Writer, project, output string) error {
	if err := report.CheckFormat(output); err != nil {
		return err
	}
	s, err := newSession(ctx, project, false)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer s.Close()

	if output == report.FormatJSON {
		jsonOutput, err := s.cfg.FormatJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, jsonOutput)
		return nil
	}

	fmt.Fprint(out, s.cfg.FormatText())
	return nil
}
