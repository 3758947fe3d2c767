package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Order provisioning commands",
	}

	cmd.AddCommand(newOrderCreateSitesCmd())
	return cmd
}

func newOrderCreateSitesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "create-sites <order-id>",
		Short: "Create the sites for an order now",
		Long: `Processes an order's line items regardless of auto_create. The order must
already be mirrored locally, and an order that was processed before is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrderCreateSites(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	return cmd
}

func runOrderCreateSites(cmd *cobra.Command, configPath, orderID string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.orders.ManuallyCreateSites(cmd.Context(), orderID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Skipped {
		fmt.Fprintf(out, "Order %s skipped: %s\n", orderID, res.Reason)
		return nil
	}
	for _, id := range res.Converted {
		fmt.Fprintf(out, "Converted demo site %s\n", id)
	}
	if len(res.Items) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRODUCT\tACTION\tSITE\tSTATUS\tERROR")
		for _, it := range res.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.ProductID, it.Action, orDash(it.SiteID), orDash(it.Status), it.Error)
		}
		w.Flush()
	}
	if n := res.Failed(); n > 0 {
		return fmt.Errorf("%d of %d site(s) failed for order %s", n, len(res.Items), orderID)
	}
	return nil
}
