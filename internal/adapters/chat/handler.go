package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/core/usecase"
)

const defaultNewsletterTopics = 10

// Recorder receives the outcome of research turns and newsletter sends.
type Recorder interface {
	RecordTurn(source string, result *domain.TurnResult, duration time.Duration)
	RecordNewsletter(err error)
}

// Reply is the markdown answer to one chat message.
type Reply struct {
	Text string             `json:"text"`
	Turn *domain.TurnResult `json:"turn,omitempty"`
}

type Dependencies struct {
	Sessions    ports.SessionScope
	Domains     ports.DomainRegistry
	Memory      ports.MemoryService
	Newsletters ports.NewsletterService
	Runner      ports.ResearchRunner
	Budget      domain.BudgetPolicy
	Recorder    Recorder
	Source      string
}

// Handler turns free text and slash commands into operations on the active
// domain of a session. It carries no transport concerns.
type Handler struct {
	deps Dependencies
}

func NewHandler(deps Dependencies) *Handler {
	if strings.TrimSpace(deps.Source) == "" {
		deps.Source = "chat"
	}
	return &Handler{deps: deps}
}

// Handle answers one message. Caller mistakes such as an unknown domain come
// back as a reply; only infrastructure failures are returned as errors.
func (h *Handler) Handle(ctx context.Context, sessionID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: "Send a question to research, or /help for commands."}, nil
	}

	var (
		reply Reply
		err   error
	)
	if strings.HasPrefix(text, "/") {
		reply, err = h.command(ctx, sessionID, text)
	} else {
		reply, err = h.research(ctx, sessionID, text)
	}
	if err != nil && domain.IsValidation(err) {
		return Reply{Text: "Error: " + err.Error()}, nil
	}
	return reply, err
}

func (h *Handler) command(ctx context.Context, sessionID, text string) (Reply, error) {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "/help", "/start":
		return Reply{Text: helpText}, nil
	case "/topic", "/domain":
		return h.topic(ctx, sessionID, args)
	case "/stats":
		return h.stats(ctx, sessionID)
	case "/newsletter":
		return h.newsletter(ctx, sessionID, args)
	default:
		return Reply{Text: fmt.Sprintf("Unknown command %s. Try /help.", fields[0])}, nil
	}
}

func (h *Handler) topic(ctx context.Context, sessionID string, args []string) (Reply, error) {
	if len(args) == 0 {
		active, err := h.deps.Sessions.Active(ctx, sessionID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("Current research domain: **%s**", active.Name)}, nil
	}

	sub := strings.ToLower(args[0])
	rest := args[1:]
	switch sub {
	case "list":
		return h.listDomains(ctx, sessionID)
	case "set", "switch":
		if len(rest) == 0 {
			return Reply{Text: "Usage: /topic set <name>"}, nil
		}
		d, err := h.deps.Domains.ResolveDomain(ctx, strings.Join(rest, " "))
		if err != nil {
			return Reply{}, err
		}
		if _, err := h.deps.Sessions.SetActive(ctx, sessionID, d.ID); err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("Switched to **%s**.", d.Name)}, nil
	case "new", "create":
		if len(rest) == 0 {
			return Reply{Text: newDomainUsage}, nil
		}
		name, keywords := parseNewDomain(rest)
		if name == "" {
			return Reply{Text: newDomainUsage}, nil
		}
		d, err := h.deps.Domains.CreateDomain(ctx, name, "", keywords)
		if err != nil {
			return Reply{}, err
		}
		if _, err := h.deps.Sessions.SetActive(ctx, sessionID, d.ID); err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("Created and switched to **%s**.", d.Name)}, nil
	case "delete", "remove":
		cascade := false
		nameParts := make([]string, 0, len(rest))
		for _, arg := range rest {
			if arg == "--cascade" {
				cascade = true
				continue
			}
			nameParts = append(nameParts, arg)
		}
		if len(nameParts) == 0 {
			return Reply{Text: "Usage: /topic delete <name> [--cascade]"}, nil
		}
		d, err := h.deps.Domains.ResolveDomain(ctx, strings.Join(nameParts, " "))
		if err != nil {
			return Reply{}, err
		}
		if err := h.deps.Domains.DeleteDomain(ctx, d.ID, cascade); err != nil {
			if domain.IsKind(err, domain.ErrDomainInUse) {
				return Reply{Text: fmt.Sprintf("**%s** still has topics. Repeat with --cascade to delete them too.", d.Name)}, nil
			}
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("Deleted **%s**.", d.Name)}, nil
	default:
		return Reply{Text: "Usage: /topic [list | set <name> | new <name> [--keywords k1,k2] | delete <name> [--cascade]]"}, nil
	}
}

func (h *Handler) listDomains(ctx context.Context, sessionID string) (Reply, error) {
	active, err := h.deps.Sessions.Active(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	domains, err := h.deps.Domains.ListDomains(ctx)
	if err != nil {
		return Reply{}, err
	}
	var b strings.Builder
	b.WriteString("## Research domains\n\n")
	for _, d := range domains {
		marker := ""
		if d.ID == active.ID {
			marker = " (active)"
		}
		fmt.Fprintf(&b, "- **%s**%s: %d topics\n", d.Name, marker, d.TopicCount)
	}
	return Reply{Text: b.String()}, nil
}

func (h *Handler) stats(ctx context.Context, sessionID string) (Reply, error) {
	active, err := h.deps.Sessions.Active(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	stats, err := h.deps.Memory.Stats(ctx, active.ID)
	if err != nil {
		return Reply{}, err
	}
	details, err := h.deps.Domains.DomainStats(ctx, active.ID)
	if err != nil {
		return Reply{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Memory for %s\n\n", active.Name)
	fmt.Fprintf(&b, "- Topics remembered: %d\n", stats.TotalTopics)
	fmt.Fprintf(&b, "- Mentioned in the last %d days: %d\n", int(stats.Window.Hours()/24), stats.RecentTopics)
	if len(details.RecentTopics) > 0 {
		fmt.Fprintf(&b, "- Most recent: %s\n", strings.Join(details.RecentTopics, ", "))
	}
	return Reply{Text: b.String()}, nil
}

func (h *Handler) newsletter(ctx context.Context, sessionID string, args []string) (Reply, error) {
	limit := defaultNewsletterTopics
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return Reply{Text: "Usage: /newsletter [number of topics]"}, nil
		}
		limit = n
	}
	active, err := h.deps.Sessions.Active(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	letter, err := h.deps.Newsletters.Send(ctx, active.ID, limit)
	if h.deps.Recorder != nil {
		h.deps.Recorder.RecordNewsletter(err)
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrNoContent) {
			return Reply{Text: fmt.Sprintf("Nothing to send yet: **%s** has no findings.", active.Name)}, nil
		}
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Newsletter with %d topics sent: %s", letter.Topics, letter.Subject)}, nil
}

// research runs one agent turn with a fresh budget.
func (h *Handler) research(ctx context.Context, sessionID, text string) (Reply, error) {
	active, err := h.deps.Sessions.Active(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	turn := domain.Turn{ID: uuid.NewString(), SessionID: sessionID, DomainID: active.ID}
	budget := usecase.NewBudgetGuard(h.deps.Budget)

	started := time.Now()
	result, err := h.deps.Runner.RunTurn(ctx, turn, budget, text)
	if h.deps.Recorder != nil {
		h.deps.Recorder.RecordTurn(h.deps.Source, result, time.Since(started))
	}
	if err != nil {
		slog.Error("chat_turn_failed", "session_id", sessionID, "turn_id", turn.ID, "error", err)
		return Reply{}, err
	}

	var b strings.Builder
	b.WriteString(result.Answer)
	for _, warning := range result.Warnings {
		b.WriteString("\n\n> ")
		b.WriteString(warning)
	}
	return Reply{Text: b.String(), Turn: result}, nil
}

const newDomainUsage = "Usage: /topic new <name> [--keywords k1,k2] or /topic new \"multi word name\" [keywords...]"

// parseNewDomain splits /topic new arguments into a domain name and keywords.
// Everything before --keywords is the name and the comma-separated list after
// it the keywords. Otherwise a leading quoted span is the name, and failing
// both the first word is.
func parseNewDomain(args []string) (string, []string) {
	for i, arg := range args {
		if strings.EqualFold(arg, "--keywords") {
			return strings.TrimSpace(strings.Join(args[:i], " ")), splitKeywords([]string{strings.Join(args[i+1:], " ")})
		}
	}
	if q := args[0][0]; q == '"' || q == '\'' {
		quote := string(q)
		parts := make([]string, 0, len(args))
		for i, arg := range args {
			if i == 0 {
				arg = strings.TrimPrefix(arg, quote)
				if arg == "" {
					continue
				}
			}
			if strings.HasSuffix(arg, quote) {
				parts = append(parts, strings.TrimSuffix(arg, quote))
				return strings.TrimSpace(strings.Join(parts, " ")), splitKeywords(args[i+1:])
			}
			parts = append(parts, arg)
		}
		return strings.TrimSpace(strings.Join(parts, " ")), nil
	}
	return args[0], splitKeywords(args[1:])
}

func splitKeywords(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

const helpText = `## Commands

- ` + "`/topic`" + ` show the active research domain
- ` + "`/topic list`" + ` list domains with topic counts
- ` + "`/topic set <name>`" + ` switch the active domain
- ` + "`/topic new <name> [keywords...]`" + ` create a domain and switch to it; quote a multi-word name or put keywords after ` + "`--keywords`" + `
- ` + "`/topic delete <name> [--cascade]`" + ` delete a domain
- ` + "`/stats`" + ` memory statistics for the active domain
- ` + "`/newsletter [n]`" + ` email a digest of the n most recent topics
- ` + "`/help`" + ` this message

Anything else starts a research turn in the active domain.`
