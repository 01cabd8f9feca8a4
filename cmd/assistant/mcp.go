package main

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/research-assistant/internal/adapters/mcp"
	"github.com/kirillkom/research-assistant/internal/bootstrap"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve research memory as MCP tools over stdio",
	Long: `Runs a Model Context Protocol server on stdin/stdout so external agents
can record findings, query memory and render newsletters. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(os.Stderr, func(_ context.Context, app *bootstrap.App) error {
			s := mcpadapter.NewServer(mcpadapter.Dependencies{
				Domains:       app.Domains,
				Memory:        app.Memory,
				Newsletters:   app.Newsletters,
				DefaultDomain: app.Config.DefaultDomain,
			})
			return server.ServeStdio(s)
		})
	},
}
