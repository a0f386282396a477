package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
)

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lock",
		Aliases: []string{"locks", "lease"},
		Short:   "Inspect and manage job leases",
		Long: `Job leases keep periodic work such as reconciliation to one process at a
time. A lease lapses on its own at its expiry; release only exists to clear a
lease left by a process you know is gone.`,
	}
	cmd.AddCommand(newLockListCmd(), newLockSweepCmd(), newLockReleaseCmd())
	return cmd
}

func newLockListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List current leases",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			locks, err := a.leases.Locks(cmd.Context())
			if err != nil {
				return err
			}
			if locks == nil {
				locks = []lease.Lock{}
			}
			now := a.leases.Now()
			return render(cmd, locks, func() pterm.TableData {
				data := pterm.TableData{{"JOB", "HOLDER", "EXPIRES", "LIVE"}}
				for _, l := range locks {
					live := "no"
					if l.Live(now) {
						live = "yes"
					}
					data = append(data, []string{
						l.JobName,
						l.HolderID,
						l.ExpiresAt.Local().Format(time.RFC3339),
						live,
					})
				}
				return data
			})
		},
	}
}

func newLockSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired leases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := lease.NewSweeper(a.leaseStore, a.cfg.Lock.SweepInterval(), logger.ComponentLogger("sweeper")).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired lease(s)\n", n)
			return nil
		},
	}
}

func newLockReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "release <job>",
		Short:   "Force-release a lease regardless of holder",
		Example: `  coachale lock release reconcile-provisioning`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			released, err := a.leases.ForceRelease(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !released {
				fmt.Fprintf(cmd.OutOrStdout(), "No lease held for %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", args[0])
			return nil
		},
	}
}
