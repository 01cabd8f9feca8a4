package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/core/domain"
)

var newsletterCmd = &cobra.Command{
	Use:   "newsletter",
	Short: "Render or send the digest of recent findings",
}

var newsletterRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the newsletter to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		return withApp(os.Stderr, func(ctx context.Context, app *bootstrap.App) error {
			d, err := targetDomain(ctx, app)
			if err != nil {
				return err
			}
			letter, err := app.Newsletters.Render(ctx, d.ID, format, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), letter.Body)
			return nil
		})
	},
}

var newsletterSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Mail the newsletter to SMTP_TO_EMAIL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(os.Stderr, func(ctx context.Context, app *bootstrap.App) error {
			d, err := targetDomain(ctx, app)
			if err != nil {
				return err
			}
			letter, err := app.Newsletters.Send(ctx, d.ID, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %q with %d topics\n", letter.Subject, letter.Topics)
			return nil
		})
	},
}

func targetDomain(ctx context.Context, app *bootstrap.App) (*domain.Domain, error) {
	ref := domainRef
	if ref == "" {
		ref = app.Config.DefaultDomain
	}
	return app.Domains.ResolveDomain(ctx, ref)
}
