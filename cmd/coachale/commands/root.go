// Package commands implements the coachale CLI.
package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/display"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
)

// Persistent flag names.
const (
	flagConfig  = "config"
	flagVerbose = "verbose"
	flagLogJSON = "log-json"
)

// NewRootCmd builds the full command tree. Each call returns a fresh tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coachale",
		Short: "Telephony provisioning coordinator",
		Long: `coachale provisions phone numbers for consultants through a telephony provider.

A provisioning request moves new -> documents_uploaded -> kyc_submitted ->
kyc_approved -> number_ordered -> number_active, or ends in rejected. The API
server drives requests forward; the reconciliation poller pulls KYC and order
status from the provider so only one process polls at a time.

Available commands:
  serve      - Run the HTTP API, reconciliation poller and lease sweeper
  poll       - Run one reconciliation pass now
  lock       - Inspect and manage job leases
  provision  - Create and drive provisioning requests
  provider   - Manage provider credentials
  config     - Show configuration

Examples:
  coachale serve -v                          # API on :8087 with the poller
  coachale provision create --consultant c-12 --business "Studio Rossi" --email info@studiorossi.it
  coachale provision advance 7               # create account and submit KYC
  coachale lock ls -o yaml                   # show leases as YAML`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbosity, _ := cmd.Flags().GetCount(flagVerbose)
			if cmd.Name() == "serve" && verbosity == 0 {
				verbosity = logger.VerbosityInfo
			}
			jsonLogs, _ := cmd.Flags().GetBool(flagLogJSON)
			if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			if _, err := display.FormatFromCommand(cmd); err != nil {
				return err
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String(flagConfig, "", "Config file (default: /etc/coachale, ~/.coachale and ./coachale.toml merged)")
	flags.CountP(flagVerbose, "v", "Increase log verbosity (-v info, -vv debug)")
	flags.Bool(flagLogJSON, false, "Write logs as JSON")
	flags.StringP(display.OutputFlag, "o", string(display.FormatTable), "Output format: table, json, yaml")

	root.AddCommand(
		newServeCmd(),
		newPollCmd(),
		newLockCmd(),
		newProvisionCmd(),
		newProviderCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// render writes v to the command's stdout in the selected --output format.
func render(cmd *cobra.Command, v interface{}, table func() pterm.TableData) error {
	format, err := display.FormatFromCommand(cmd)
	if err != nil {
		return err
	}
	return display.Render(cmd.OutOrStdout(), format, v, table)
}
