package commands

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/reconcile"
)

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one reconciliation pass now",
		Long: `Acquire the reconciliation lease and check every request waiting on KYC
review or a number order, exactly as one tick of the background poller.

The pass is skipped when the provider has no credentials or another process
holds the lease; both are reported, neither is an error.

Examples:
  coachale poll
  coachale poll -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.poller.Tick(cmd.Context())
			if err != nil {
				return err
			}
			if res.Reason == reconcile.ReasonNotConfigured {
				printNotConfigured(cmd)
			}
			return render(cmd, res, func() pterm.TableData {
				return tickTable(res)
			})
		},
	}
}

func tickTable(res reconcile.TickResult) pterm.TableData {
	if res.Skipped {
		return pterm.TableData{
			{"SKIPPED", "REASON"},
			{"yes", res.Reason},
		}
	}
	lost := "no"
	if res.LeaseLost {
		lost = "yes"
	}
	return pterm.TableData{
		{"CHECKED", "TRANSITIONED", "FAILED", "LEASE LOST", "DURATION"},
		{
			strconv.Itoa(res.Checked),
			strconv.Itoa(res.Transitioned),
			strconv.Itoa(res.Failed),
			lost,
			res.Duration.String(),
		},
	}
}
