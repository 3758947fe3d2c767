package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "siteyard.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sy",
		Short: "Siteyard: hosted site provisioning and reconciliation",
		Long: "Siteyard provisions hosted sites for commerce orders, keeps local site\n" +
			"records in step with the provisioning API, and flips site permanence\n" +
			"as subscriptions are paid or lapse.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newSiteCmd())
	cmd.AddCommand(newOrderCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sy %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
