package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buildkite/roko"
	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/vaultsweep/pkg/store"
)

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the secret store to be reachable and unsealed",
	Long: `Wait for the secret store to be ready by polling its status.

This command will repeatedly check the store status until it is reachable
and unsealed or the maximum number of retries is reached.

Example:
  vaultsweep wait
  vaultsweep wait --retries 60 --interval 2s`,
	Run: func(cmd *cobra.Command, args []string) {
		retries, _ := cmd.Flags().GetInt("retries")
		interval, _ := cmd.Flags().GetDuration("interval")

		if err := runWait(cmd.Context(), cmd.OutOrStdout(), retries, interval, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Secret store did not become ready: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().IntP("retries", "r", 90, "Number of retries")
	waitCmd.Flags().Duration("interval", time.Second, "Time between retries")
}

func runWait(ctx context.Context, out io.Writer, retries int, interval time.Duration, sleep func(time.Duration)) error {
	s, err := newSession(ctx, "", true)
	if err != nil {
		return err
	}
	defer s.Close()

	if sleep == nil {
		sleep = time.Sleep
	}
	retrier := roko.NewRetrier(
		roko.WithMaxAttempts(retries),
		roko.WithStrategy(roko.Constant(interval)),
		roko.WithSleepFunc(sleep),
	)

	fmt.Fprintln(out, "Waiting for the secret store to be ready...")
	err = retrier.DoWithContext(ctx, func(r *roko.Retrier) error {
		_, err := store.CheckConnectivity(ctx, s.store, s.store.Address)
		if err != nil {
			fmt.Fprint(out, ".")
		}
		return err
	})
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("not ready after %d attempts: %w", retries, err)
	}
	fmt.Fprintln(out, "Secret store is ready!")
	return nil
}
