package domain

import "time"

type BudgetDecision int

const (
	BudgetAllowed BudgetDecision = iota
	BudgetWarn
	BudgetDenied
)

func (d BudgetDecision) String() string {
	switch d {
	case BudgetAllowed:
		return "allowed"
	case BudgetWarn:
		return "warn"
	case BudgetDenied:
		return "denied"
	default:
		return "unknown"
	}
}

type BudgetPolicy struct {
	Ceiling      int     `json:"ceiling"`
	WarnFraction float64 `json:"warn_fraction"`
}

// Turn identifies one user-initiated request cycle. Every operation in a turn
// carries the domain explicitly instead of reading session state.
type Turn struct {
	ID        string `json:"turn_id"`
	SessionID string `json:"session_id"`
	DomainID  string `json:"domain_id"`
}

type AgentLimits struct {
	MaxIterations  int           `json:"max_iterations"`
	Timeout        time.Duration `json:"timeout"`
	PlannerTimeout time.Duration `json:"planner_timeout"`
	ToolTimeout    time.Duration `json:"tool_timeout"`
}

type AgentPlanStep struct {
	Type   string                 `json:"type"`
	Tool   string                 `json:"tool,omitempty"`
	Input  map[string]interface{} `json:"input,omitempty"`
	Answer string                 `json:"answer,omitempty"`
}

type ActionParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

type ToolEvent struct {
	Tool     string `json:"tool"`
	Status   string `json:"status"`
	Output   string `json:"output"`
	Decision string `json:"budget_decision"`
}

type TurnResult struct {
	TurnID          string      `json:"turn_id"`
	DomainID        string      `json:"domain_id"`
	Answer          string      `json:"answer"`
	Iterations      int         `json:"iterations"`
	ToolCalls       int         `json:"tool_calls"`
	Warnings        []string    `json:"warnings,omitempty"`
	BudgetExhausted bool        `json:"budget_exhausted"`
	FallbackReason  string      `json:"fallback_reason,omitempty"`
	ToolEvents      []ToolEvent `json:"tool_events,omitempty"`
}

// ResearchTrigger is a batch request delivered over the message queue.
type ResearchTrigger struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	Prompt     string    `json:"prompt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type MailMessage struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`
}

type Newsletter struct {
	DomainID string `json:"domain_id"`
	Format   string `json:"format"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Topics   int    `json:"topics"`
}
