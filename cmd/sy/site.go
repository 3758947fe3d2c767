package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/siteyard/internal/site"
)

func newSiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Site record management commands",
	}

	cmd.AddCommand(newSiteListCmd())
	cmd.AddCommand(newSiteShowCmd())
	cmd.AddCommand(newSiteDeleteCmd())
	cmd.AddCommand(newSitePermanentCmd())
	cmd.AddCommand(newSiteDomainCmd())
	return cmd
}

func newSiteListCmd() *cobra.Command {
	var (
		configPath string
		filters    site.Filters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List site records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSiteList(cmd, configPath, filters)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status (creating, progress, completed, failed)")
	cmd.Flags().StringVar(&filters.SiteType, "type", "", "filter by site type (demo, paid)")
	cmd.Flags().StringVar(&filters.Source, "source", "", "filter by source")
	cmd.Flags().StringVar(&filters.OrderID, "order", "", "filter by order id")
	cmd.Flags().StringVar(&filters.Email, "email", "", "filter by customer email")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum number of sites")
	return cmd
}

func runSiteList(cmd *cobra.Command, configPath string, filters site.Filters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	sites, err := site.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sites) == 0 {
		fmt.Fprintln(out, "No sites found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tSTATUS\tTYPE\tPERMANENCE\tORDER\tEMAIL\tSOURCE")
	for _, s := range sites {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SiteID, s.Status, s.SiteType, formatPermanence(s.IsReserved, s.ExpiryHours),
			deref(s.OrderID), s.CustomerEmail, s.Source)
	}
	return w.Flush()
}

func newSiteShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <site-id>",
		Short: "Show one site record and its plan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSiteShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	return cmd
}

func runSiteShow(cmd *cobra.Command, configPath, siteID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	s, err := site.Get(gormDB, siteID)
	if err != nil {
		return err
	}
	history, err := site.PlanHistory(gormDB, siteID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Site:       %s\n", s.SiteID)
	fmt.Fprintf(out, "Status:     %s\n", s.Status)
	fmt.Fprintf(out, "Type:       %s\n", s.SiteType)
	fmt.Fprintf(out, "Permanence: %s\n", formatPermanence(s.IsReserved, s.ExpiryHours))
	if s.TaskID != "" {
		fmt.Fprintf(out, "Task:       %s\n", s.TaskID)
	}
	fmt.Fprintf(out, "Plan:       %s\n", orDash(s.PlanID))
	fmt.Fprintf(out, "Order:      %s\n", orDash(deref(s.OrderID)))
	fmt.Fprintf(out, "Product:    %s\n", orDash(deref(s.ProductID)))
	fmt.Fprintf(out, "Customer:   %s\n", orDash(s.CustomerEmail))
	fmt.Fprintf(out, "URL:        %s\n", orDash(s.SiteURL))
	fmt.Fprintf(out, "Admin URL:  %s\n", orDash(s.WPAdminURL))
	fmt.Fprintf(out, "Source:     %s\n", s.Source)
	fmt.Fprintf(out, "Created:    %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))

	if len(history) > 0 {
		fmt.Fprintln(out, "\nPlan history:")
		for _, h := range history {
			fmt.Fprintf(out, "  %s  %s -> %s  (order %s)\n",
				h.CreatedAt.Format("2006-01-02 15:04"), orDash(h.OldPlanID), h.NewPlanID, orDash(h.OrderID))
		}
	}
	return nil
}

func newSiteDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <site-id>",
		Short: "Delete a site remotely and locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSiteDelete(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	return cmd
}

func runSiteDelete(cmd *cobra.Command, configPath, siteID string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.engine.DeleteSite(cmd.Context(), siteID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted site %s\n", siteID)
	return nil
}

func newSitePermanentCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "permanent <site-id> <true|false>",
		Short: "Make a site permanent or temporary",
		Long:  "Forces a site's permanence. A temporary site expires after provisioning.temporary_expiry_hours.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			permanent, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid permanence %q: want true or false", args[1])
			}
			return runSitePermanent(cmd, configPath, args[0], permanent)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	return cmd
}

func runSitePermanent(cmd *cobra.Command, configPath, siteID string, permanent bool) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.subs.ForceSiteStatus(cmd.Context(), siteID, permanent)
	if err != nil {
		return err
	}
	if !res.Changed {
		fmt.Fprintf(cmd.OutOrStdout(), "Site %s is already %s\n", siteID, res.NewStatus)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Site %s is now %s\n", siteID, res.NewStatus)
	return nil
}

func newSiteDomainCmd() *cobra.Command {
	var (
		configPath string
		domainType string
	)

	cmd := &cobra.Command{
		Use:   "domain <site-id> <domain>",
		Short: "Attach a custom domain to a site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSiteDomain(cmd, configPath, args[0], args[1], domainType)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Siteyard config file")
	cmd.Flags().StringVar(&domainType, "type", "primary", "domain type (primary, alias)")
	return cmd
}

func runSiteDomain(cmd *cobra.Command, configPath, siteID, domain, domainType string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.AddDomain(cmd.Context(), siteID, domain, domainType)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Domain %s added to site %s (%s)\n", res.Domain, siteID, orDash(res.Status))
	return nil
}
