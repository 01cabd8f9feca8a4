package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const (
	ToolRecordFinding    = "record_finding"
	ToolFindTopic        = "find_topic"
	ToolListRecent       = "list_recent"
	ToolSearchMemory     = "search_memory"
	ToolCheckNovelty     = "check_novelty"
	ToolListDomains      = "list_domains"
	ToolRenderNewsletter = "render_newsletter"
)

type Tool struct {
	Definition mcp.Tool
	Handle     server.ToolHandlerFunc
}

type Tools struct {
	deps Dependencies
	now  func() time.Time
}

func NewTools(deps Dependencies) *Tools {
	return &Tools{deps: deps, now: time.Now}
}

func (t *Tools) All() []Tool {
	return []Tool{
		{Definition: recordFindingDefinition(), Handle: t.RecordFinding},
		{Definition: findTopicDefinition(), Handle: t.FindTopic},
		{Definition: listRecentDefinition(), Handle: t.ListRecent},
		{Definition: searchMemoryDefinition(), Handle: t.SearchMemory},
		{Definition: checkNoveltyDefinition(), Handle: t.CheckNovelty},
		{Definition: listDomainsDefinition(), Handle: t.ListDomains},
		{Definition: renderNewsletterDefinition(), Handle: t.RenderNewsletter},
	}
}

func domainParam() mcp.ToolOption {
	return mcp.WithString("domain",
		mcp.Description("Domain name or id. Defaults to the configured default domain."),
	)
}

func recordFindingDefinition() mcp.Tool {
	return mcp.NewTool(ToolRecordFinding,
		mcp.WithDescription("Record a research finding and classify it as NEW, UPDATED or KNOWN."),
		domainParam(),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic name, matched case-insensitively.")),
		mcp.WithString("summary", mcp.Description("What was learned.")),
		mcp.WithArray("sources", mcp.Description("Source URLs."), mcp.WithStringItems()),
		mcp.WithArray("tags", mcp.Description("Free-form tags."), mcp.WithStringItems()),
	)
}

func (t *Tools) RecordFinding(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, result := t.resolve(ctx, req)
	if result != nil {
		return result, nil
	}
	recorded, err := t.deps.Memory.RecordFinding(ctx, domain.Finding{
		DomainID:  d.ID,
		TopicName: topic,
		Summary:   req.GetString("summary", ""),
		Sources:   req.GetStringSlice("sources", nil),
		Tags:      req.GetStringSlice("tags", nil),
	})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(recorded)
}

func findTopicDefinition() mcp.Tool {
	return mcp.NewTool(ToolFindTopic,
		mcp.WithDescription("Look up one remembered topic by name."),
		domainParam(),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic name.")),
	)
}

func (t *Tools) FindTopic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, result := t.resolve(ctx, req)
	if result != nil {
		return result, nil
	}
	topic, err := t.deps.Memory.FindTopic(ctx, d.ID, name)
	if err != nil {
		if domain.IsKind(err, domain.ErrTopicNotFound) {
			return mcp.NewToolResultText(fmt.Sprintf("No topic named %q in %s.", name, d.Name)), nil
		}
		return toolError(err)
	}
	return jsonResult(topic)
}

func listRecentDefinition() mcp.Tool {
	return mcp.NewTool(ToolListRecent,
		mcp.WithDescription("List the most recently mentioned topics of a domain."),
		domainParam(),
		mcp.WithNumber("limit", mcp.Description("Maximum topics to return (default 10).")),
	)
}

func (t *Tools) ListRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, result := t.resolve(ctx, req)
	if result != nil {
		return result, nil
	}
	topics, err := t.deps.Memory.ListRecent(ctx, d.ID, req.GetInt("limit", 10))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(topics)
}

func searchMemoryDefinition() mcp.Tool {
	return mcp.NewTool(ToolSearchMemory,
		mcp.WithDescription("Search topic names and summaries, optionally filtered by tags."),
		domainParam(),
		mcp.WithString("query", mcp.Description("Case-insensitive substring.")),
		mcp.WithArray("tags", mcp.Description("Match topics carrying any of these tags."), mcp.WithStringItems()),
		mcp.WithNumber("limit", mcp.Description("Maximum topics to return (default 10).")),
	)
}

func (t *Tools) SearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, result := t.resolve(ctx, req)
	if result != nil {
		return result, nil
	}
	topics, err := t.deps.Memory.SearchTopics(ctx, d.ID, domain.TopicQuery{
		Text:  req.GetString("query", ""),
		Tags:  req.GetStringSlice("tags", nil),
		Limit: req.GetInt("limit", 10),
	})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(topics)
}

func checkNoveltyDefinition() mcp.Tool {
	return mcp.NewTool(ToolCheckNovelty,
		mcp.WithDescription("Preview whether a topic is unseen, recently seen or stale, without writing anything."),
		domainParam(),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic name.")),
	)
}

func (t *Tools) CheckNovelty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, result := t.resolve(ctx, req)
	if result != nil {
		return result, nil
	}
	check, err := t.deps.Memory.CheckNovelty(ctx, d.ID, name, t.now())
	if err != nil {
		return toolError(err)
	}
	return jsonResult(check)
}

func listDomainsDefinition() mcp.Tool {
	return mcp.NewTool(ToolListDomains,
		mcp.WithDescription("List research domains with their topic counts."),
	)
}

func (t *Tools) ListDomains(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domains, err := t.deps.Domains.ListDomains(ctx)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(domains)
}

func renderNewsletterDefinition() mcp.Tool {
	return mcp.NewTool(ToolRenderNewsletter,
		mcp.WithDescription("Render a digest of recent findings without sending it."),
		domainParam(),
		mcp.WithString("format", mcp.Description("html, markdown or text. Defaults to markdown.")),
		mcp.WithNumber("limit", mcp.Description("Maximum topics to include (default 10).")),
	)
}

func (t *Tools) RenderNewsletter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, result := t.resolve(ctx, req)
	if result != nil {
		return result, nil
	}
	letter, err := t.deps.Newsletters.Render(ctx, d.ID, req.GetString("format", "markdown"), req.GetInt("limit", 10))
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(letter.Body), nil
}

// resolve returns the target domain, or a tool error result when it cannot be
// resolved.
func (t *Tools) resolve(ctx context.Context, req mcp.CallToolRequest) (*domain.Domain, *mcp.CallToolResult) {
	ref := strings.TrimSpace(req.GetString("domain", ""))
	if ref == "" {
		ref = t.deps.DefaultDomain
	}
	d, err := t.deps.Domains.ResolveDomain(ctx, ref)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("resolve domain %q: %v", ref, err))
	}
	return d, nil
}

// toolError reports validation failures to the calling agent as tool errors.
// Storage and other infrastructure failures are returned as protocol errors.
func toolError(err error) (*mcp.CallToolResult, error) {
	if domain.IsValidation(err) || domain.IsKind(err, domain.ErrNoContent) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
