package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/observability/logging"
)

var (
	domainRef string
	limit     int
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Domain-scoped research assistant",
	Long: `assistant researches topics inside isolated domains, remembers what it
has already seen and compiles newsletters of new findings.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd, mcpCmd, domainCmd, newsletterCmd)
	domainCmd.AddCommand(domainListCmd, domainCreateCmd, domainDeleteCmd)
	newsletterCmd.AddCommand(newsletterRenderCmd, newsletterSendCmd)

	domainCreateCmd.Flags().String("description", "", "Domain description")
	domainCreateCmd.Flags().StringSlice("keywords", nil, "Comma-separated keywords")
	domainDeleteCmd.Flags().Bool("cascade", false, "Also delete every topic of the domain")

	newsletterCmd.PersistentFlags().StringVarP(&domainRef, "domain", "d", "", "Domain name or id (defaults to DEFAULT_DOMAIN)")
	newsletterCmd.PersistentFlags().IntVarP(&limit, "limit", "n", 10, "Maximum topics to include")
	newsletterRenderCmd.Flags().StringP("format", "f", "", "html, markdown or text (defaults to NEWSLETTER_FORMAT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, builds the application graph and runs fn under
// a context cancelled by SIGINT or SIGTERM. Logs go to logOut so commands that
// own stdout can move them aside.
func withApp(logOut io.Writer, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLoggerTo(logOut, "assistant", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Source: "cli"})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(ctx, app)
}
