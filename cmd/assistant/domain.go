package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage research domains",
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domains with their topic counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(os.Stderr, func(ctx context.Context, app *bootstrap.App) error {
			domains, err := app.Domains.ListDomains(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTOPICS\tLAST USED\tID")
			for _, d := range domains {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.Name, d.TopicCount, d.LastUsedAt.Local().Format("2006-01-02 15:04"), d.ID)
			}
			return w.Flush()
		})
	},
}

var domainCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		keywords, _ := cmd.Flags().GetStringSlice("keywords")
		return withApp(os.Stderr, func(ctx context.Context, app *bootstrap.App) error {
			d, err := app.Domains.CreateDomain(ctx, args[0], description, keywords)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", d.Name, d.ID)
			return nil
		})
	},
}

var domainDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a domain; use --cascade when it still has topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cascade, _ := cmd.Flags().GetBool("cascade")
		return withApp(os.Stderr, func(ctx context.Context, app *bootstrap.App) error {
			d, err := app.Domains.ResolveDomain(ctx, args[0])
			if err != nil {
				return err
			}
			if err := app.Domains.DeleteDomain(ctx, d.ID, cascade); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", d.Name)
			return nil
		})
	},
}
