package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/vaultsweep/pkg/report"
	"github.com/doodlesbykumbi/vaultsweep/pkg/store/sqlstore"
)

// dbVersionsCmd represents the db versions command
var dbVersionsCmd = &cobra.Command{
	Use:   "versions <path> <key>",
	Short: "List the stored versions of a secret",
	Long: `List the versions the sql backend holds for one secret, newest first.

Values are never printed and no data key is needed.

Example:
  vaultsweep db versions secret/myapp config__env_api
  vaultsweep db versions secret/myapp config__env_api --output json`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")

		if err := runDBVersions(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], output); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list versions: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	dbCmd.AddCommand(dbVersionsCmd)
	dbVersionsCmd.Flags().StringP("output", "o", report.FormatText, "Output format (text or json)")
}

func runDBVersions(ctx context.Context, out io.Writer, path, key, output string) error {
	if err := report.CheckFormat(output); err != nil {
		return err
	}
	dbURL, err := databaseURL()
	if err != nil {
		return err
	}
	s, err := sqlstore.Open(dbURL, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	secrets, err := s.Versions(ctx, path, key)
	if err != nil {
		return err
	}
	versions, err := toVersions(secrets)
	if err != nil {
		return err
	}
	return report.WriteVersions(out, path, key, versions, output, time.Now())
}

func toVersions(secrets []sqlstore.Secret) ([]report.SecretVersion, error) {
	versions := make([]report.SecretVersion, 0, len(secrets))
	for _, sec := range secrets {
		v := report.SecretVersion{Version: sec.Version, CreatedAt: sec.CreatedAt}
		if sec.Metadata != "" {
			if err := json.Unmarshal([]byte(sec.Metadata), &v.Metadata); err != nil {
				return nil, fmt.Errorf("version %d of %s:%s has invalid metadata: %w", sec.Version, sec.Path, sec.SecretKey, err)
			}
		}
		versions = append(versions, v)
	}
	return versions, nil
}
