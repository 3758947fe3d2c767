package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/siteyard/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep over pending sites",
		Long:  "Polls the provisioning API for every site still in progress and records completed or failed tasks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	scheduler, err := sweep.New(a.cfg.Sweep.Schedule, a.engine, a.log, a.alerts)
	if err != nil {
		return err
	}
	sum, err := scheduler.RunOnce(cmd.Context())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d, updated %d, skipped %d, unknown %d\n", sum.Checked, sum.Updated, sum.Skipped, sum.Unknown)
	if len(sum.Transitions) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SITE\tTASK\tFROM\tTO")
		for _, t := range sum.Transitions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.SiteID, t.TaskID, t.From, t.To)
		}
		w.Flush()
	}
	return err
}
