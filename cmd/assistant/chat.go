package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/kirillkom/research-assistant/internal/adapters/chat"
	"github.com/kirillkom/research-assistant/internal/bootstrap"
)

const cliSessionID = "cli"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive research chat",
	Long: `Starts a REPL on the terminal. Plain text runs a research turn in the
active domain; slash commands manage domains (/help lists them).`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	return withApp(io.Discard, func(ctx context.Context, app *bootstrap.App) error {
		return chatLoop(ctx, app.Chat, cmd.InOrStdin(), cmd.OutOrStdout(), newMarkdownRenderer())
	})
}

type chatResponder interface {
	Handle(ctx context.Context, sessionID, text string) (chat.Reply, error)
}

// chatLoop reads one message per line until EOF, "exit" or cancellation.
func chatLoop(ctx context.Context, responder chatResponder, in io.Reader, out io.Writer, render func(string) string) error {
	fmt.Fprintln(out, "Research assistant. Type /help for commands, exit to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		reply, err := responder.Handle(ctx, cliSessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprint(out, render(reply.Text))
	}
}

// newMarkdownRenderer renders replies with glamour when stdout is usable and
// falls back to the raw markdown otherwise.
func newMarkdownRenderer() func(string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "markdown rendering disabled: %v\n", err)
		return plainRenderer
	}
	return func(text string) string {
		rendered, err := renderer.Render(text)
		if err != nil {
			return plainRenderer(text)
		}
		return rendered
	}
}

func plainRenderer(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}
