package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/config"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
	"github.com/AlessioChianetta/Coachale-sub034/server"
	"github.com/AlessioChianetta/Coachale-sub034/version"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		noPoller bool
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the HTTP API, reconciliation poller and lease sweeper",
		Long: `Start the provisioning API. Unless --no-poller is given or poller.enabled is
false, the reconciliation poller runs in the background; every instance may
run one, the lease makes sure only one of them reconciles at a time.

Expired leases are swept every lock.sweep_interval_seconds. Edits to the config
file drop the cached provider credentials so a rotated key is picked up.

Examples:
  coachale serve -v                 # API on :8087
  coachale serve --addr :9000       # different port
  coachale serve --no-poller        # API only, another process polls`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if err := metrics.RegisterMetrics(reg); err != nil {
				return errors.Wrap(err, "failed to register metrics")
			}

			srvCfg := a.cfg.Server
			if addr != "" {
				srvCfg.Addr = addr
			}
			deps := server.Deps{
				Workflow: a.workflow,
				Leases:   a.leases,
				Gatherer: reg,
			}

			if iv := a.cfg.Lock.SweepInterval(); iv > 0 {
				sweeper := lease.NewSweeper(a.leaseStore, iv, logger.ComponentLogger("sweeper"))
				sweeper.Start(ctx)
				defer sweeper.Stop()
			}

			if a.cfg.Poller.Enabled && !noPoller {
				deps.Poller = a.poller
				a.poller.Start(ctx)
				defer a.poller.Stop()
			}

			if a.configPath != "" {
				w, err := config.NewWatcher(a.configPath, logger.ComponentLogger("config"))
				if err != nil {
					logger.Logger.Warnw("Config watch disabled", "path", a.configPath, logger.FieldError, err)
				} else {
					w.OnReload(func(*config.Config) error {
						a.creds.Invalidate()
						return nil
					})
					w.Start()
					defer w.Stop()
				}
			}

			srv := server.New(deps, srvCfg, logger.ComponentLogger("server"))
			printBanner(srvCfg.Addr, a, deps.Poller != nil)
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "server stopped")
			}
			pterm.Info.Println("Shut down cleanly")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noPoller, "no-poller", false, "Do not run the reconciliation poller in this process")
	return cmd
}

func printBanner(addr string, a *app, polling bool) {
	poller := "off"
	if polling {
		poller = "every " + a.cfg.Poller.Interval().String()
	}
	pterm.Info.Printf("coachale %s listening on %s\n", version.Get().Version, addr)
	pterm.Info.Printf("database %s, lease backend %s (holder %s), poller %s\n",
		a.cfg.Database.Path, a.cfg.Lock.Backend, a.leases.HolderID(), poller)
}
