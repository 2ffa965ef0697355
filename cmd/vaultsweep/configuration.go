package main

import "github.com/spf13/cobra"

// configurationCmd represents the configuration command
var configurationCmd = &cobra.Command{
	Use:   "configuration",
	Short: "Inspect vaultsweep configuration",
	Long:  `Inspect vaultsweep configuration settings.`,
	Run:   requireSubcommand("show"),
}

func init() {
	rootCmd.AddCommand(configurationCmd)
}
