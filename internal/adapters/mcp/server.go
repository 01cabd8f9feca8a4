// Package mcpadapter exposes research memory to external agents as MCP tools.
package mcpadapter

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// Version is set at build time via ldflags.
var Version = "dev"

type Dependencies struct {
	Domains       ports.DomainRegistry
	Memory        ports.MemoryService
	Newsletters   ports.NewsletterService
	DefaultDomain string
}

// NewServer registers every memory tool on a fresh MCP server.
func NewServer(deps Dependencies) *server.MCPServer {
	s := server.NewMCPServer(
		"research-assistant",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	tools := NewTools(deps)
	for _, tool := range tools.All() {
		s.AddTool(tool.Definition, tool.Handle)
	}
	return s
}

func serverInstructions() string {
	return `Research memory for domain-scoped findings.

Every tool takes an optional "domain" argument (name or id). When omitted the
default domain is used. Topics never cross domains.

Before researching a subject, call check_novelty or find_topic. After
learning something, call record_finding: the answer tells you whether the
finding was NEW, UPDATED or already KNOWN.`
}
