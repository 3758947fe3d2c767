package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/siteyard/internal/server"
	"github.com/zulandar/siteyard/internal/sweep"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the reconciliation sweep",
		Long: `Starts the HTTP server for commerce webhooks and the admin API, and runs
the pending-task sweep on its cron schedule. Both stop on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	scheduler, err := sweep.New(a.cfg.Sweep.Schedule, a.engine, a.log, a.alerts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, server.StartOpts{
			Opts: server.Opts{
				Engine:        a.engine,
				Orders:        a.orders,
				Subscriptions: a.subs,
				Store:         a.store,
				Sweeper:       scheduler,
				Gatherer:      a.registry,
				Log:           a.log,
			},
			Port: port,
			Out:  cmd.OutOrStdout(),
		})
	})
	if a.cfg.Sweep.Disabled {
		a.log.Infow("sweep scheduler disabled")
	} else {
		g.Go(func() error {
			a.log.Infow("sweep scheduler started", "schedule", a.cfg.Sweep.Schedule)
			return scheduler.Run(gctx)
		})
	}

	err = g.Wait()
	fmt.Fprintln(cmd.OutOrStdout(), "Siteyard stopped.")
	return err
}
