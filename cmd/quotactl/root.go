package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/quotagate/internal"
	"github.com/DukeRupert/quotagate/internal/app"
)

// appFactory builds the service graph for one command invocation.
type appFactory func(ctx context.Context) (*app.App, error)

// appFromEnv wires the app from the same environment the server reads.
// Logs go to stderr so stdout stays machine readable.
func appFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel)
	return app.New(ctx, cfg, logger)
}

func newRootCmd(newApp appFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "quotactl",
		Short:         "Inspect and meter account quotas",
		Long:          "quotactl reads quota snapshots, forces plan synchronization, and records token, API call and email usage against the configured quota store.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newPlansCmd(newApp),
		newStatusCmd(newApp),
		newSyncCmd(newApp),
		newUseTokensCmd(newApp),
		newAPICallCmd(newApp),
		newEmailCmd(newApp),
		newSweepCmd(newApp),
	)

	return rootCmd
}

// withApp builds the app, runs fn, and closes the app.
func withApp(cmd *cobra.Command, newApp appFactory, fn func(a *app.App) error) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
