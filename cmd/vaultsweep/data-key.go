package main

import "github.com/spf13/cobra"

// dataKeyCmd represents the data-key command
var dataKeyCmd = &cobra.Command{
	Use:   "data-key",
	Short: "Manage the data encryption key",
	Long:  `Manage the key that encrypts secret values in the sql backend.`,
	Run:   requireSubcommand("generate"),
}

func init() {
	rootCmd.AddCommand(dataKeyCmd)
}
