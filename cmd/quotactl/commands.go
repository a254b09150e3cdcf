package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/quotagate/internal/app"
	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/email"
	"github.com/DukeRupert/quotagate/internal/worker"
)

func newPlansCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				return writeJSON(cmd, a.Quotas.Plans())
			})
		},
	}
}

func newStatusCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status ACCOUNT_ID",
		Short: "Show an account's quota snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				snap, err := a.Quotas.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			})
		},
	}
}

func newSyncCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "sync ACCOUNT_ID",
		Short: "Roll windows over and re-read the account's subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				snap, err := a.Quotas.Sync(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			})
		},
	}
}

func newUseTokensCmd(newApp appFactory) *cobra.Command {
	var amount int64

	cmd := &cobra.Command{
		Use:   "use-tokens ACCOUNT_ID",
		Short: "Consume tokens from the daily budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				res, err := a.Quotas.UseTokens(cmd.Context(), args[0], amount)
				if err != nil {
					return err
				}
				return writeResult(cmd, domain.ResourceTokens, res)
			})
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "Number of tokens to consume")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newAPICallCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "api-call ACCOUNT_ID",
		Short: "Count one API call against the monthly budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				res, err := a.Quotas.IncrementAPICalls(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeResult(cmd, domain.ResourceCalls, res)
			})
		},
	}
}

func newEmailCmd(newApp appFactory) *cobra.Command {
	var to, subject, body string

	cmd := &cobra.Command{
		Use:   "email ACCOUNT_ID",
		Short: "Send an email on behalf of an account, counted against its daily email budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				err := a.Email.Send(cmd.Context(), args[0], email.Email{
					To:       to,
					Subject:  subject,
					TextBody: body,
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "email sent to %s\n", to)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&body, "body", "", "Plain text body")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newSweepCmd(newApp appFactory) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one rollover sweep over every stored account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(a *app.App) error {
				cfg := worker.DefaultConfig()
				cfg.Concurrency = concurrency

				w, err := worker.New(a.Accounts, worker.NewRolloverHandler(a.Quotas), cfg, a.Logger)
				if err != nil {
					return err
				}
				res, err := w.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
				if res.Failed > 0 {
					return fmt.Errorf("%d of %d accounts failed to sync", res.Failed, res.Accounts)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", worker.DefaultConfig().Concurrency, "Accounts synced in parallel")

	return cmd
}

// writeResult prints the metering result and turns a denial into an error
// so scripts see a non-zero exit.
func writeResult(cmd *cobra.Command, resource domain.Resource, res domain.Result) error {
	if err := writeJSON(cmd, res); err != nil {
		return err
	}
	if !res.Success {
		return domain.QuotaExceeded("quotactl", resource, res)
	}
	return nil
}
