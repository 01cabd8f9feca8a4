package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

// ResearchAgent is the thin planning loop around a hosted model. Reasoning is
// delegated to the planner; the loop only dispatches actions under the turn's
// budget and stops when the planner answers or the budget is spent.
type ResearchAgent struct {
	planner  ports.Planner
	actions  *ActionRegistry
	registry *DomainRegistryUseCase
	limits   domain.AgentLimits
}

func NewResearchAgent(planner ports.Planner, actions *ActionRegistry, registry *DomainRegistryUseCase, limits domain.AgentLimits) *ResearchAgent {
	if limits.MaxIterations <= 0 {
		limits.MaxIterations = 12
	}
	if limits.Timeout <= 0 {
		limits.Timeout = 120 * time.Second
	}
	if limits.PlannerTimeout <= 0 {
		limits.PlannerTimeout = 30 * time.Second
	}
	if limits.ToolTimeout <= 0 {
		limits.ToolTimeout = 30 * time.Second
	}
	return &ResearchAgent{
		planner:  planner,
		actions:  actions,
		registry: registry,
		limits:   limits,
	}
}

// RunTurn runs one user-initiated turn. The budget is reset exactly once here;
// a Denied decision ends the turn with a pause message rather than an error.
func (a *ResearchAgent) RunTurn(ctx context.Context, turn domain.Turn, budget ports.BudgetGate, message string) (*domain.TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "research turn", fmt.Errorf("message is required"))
	}
	if budget == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "research turn", fmt.Errorf("turn budget is required"))
	}
	if strings.TrimSpace(turn.ID) == "" {
		turn.ID = uuid.NewString()
	}
	d, err := a.registry.GetDomain(ctx, turn.DomainID)
	if err != nil {
		return nil, err
	}
	budget.Reset()

	loopCtx, cancel := context.WithTimeout(ctx, a.limits.Timeout)
	defer cancel()

	result := &domain.TurnResult{TurnID: turn.ID, DomainID: d.ID}
	scratchpad := make([]string, 0, a.limits.MaxIterations)
	domainContext := a.registry.PromptContext(*d)
	catalog := a.actions.Catalog()

	for i := 1; i <= a.limits.MaxIterations; i++ {
		if loopCtx.Err() != nil {
			result.FallbackReason = "timeout"
			break
		}
		result.Iterations = i

		step, reason := a.plan(loopCtx, buildResearchPlannerPrompt(domainContext, catalog, scratchpad, message))
		if reason != "" {
			result.FallbackReason = reason
			break
		}

		if step.Type == "final" {
			result.Answer = strings.TrimSpace(step.Answer)
			if result.Answer == "" {
				result.Answer = "I could not produce a final answer from the research so far."
				result.FallbackReason = "empty_final_answer"
			}
			break
		}
		if step.Type != "tool" {
			result.FallbackReason = "unsupported_step_type"
			break
		}

		toolCtx, toolCancel := context.WithTimeout(loopCtx, a.limits.ToolTimeout)
		event, decision, execErr := a.actions.Invoke(toolCtx, turn, budget, step.Tool, step.Input)
		toolCancel()

		if decision == domain.BudgetDenied {
			result.BudgetExhausted = true
			result.FallbackReason = "budget_exhausted"
			slog.Warn("budget_denied", "turn_id", turn.ID, "domain_id", d.ID, "tool", step.Tool)
			break
		}
		result.ToolCalls++
		if decision == domain.BudgetWarn {
			warning := fmt.Sprintf("Heads up: %d tool calls used this turn, close to the limit.", result.ToolCalls)
			result.Warnings = append(result.Warnings, warning)
			slog.Info("budget_warn", "turn_id", turn.ID, "tool_calls", result.ToolCalls)
		}
		if execErr != nil {
			if isAgentTimeoutError(execErr) && loopCtx.Err() != nil {
				result.FallbackReason = "timeout"
			}
			errorPayload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
			event = domain.ToolEvent{
				Tool:     step.Tool,
				Status:   "error",
				Output:   string(errorPayload),
				Decision: decision.String(),
			}
		}
		result.ToolEvents = append(result.ToolEvents, event)
		scratchpad = append(scratchpad, fmt.Sprintf("%s:%s", event.Tool, event.Output))
		if result.FallbackReason != "" {
			break
		}
	}

	if result.Answer == "" && result.FallbackReason == "" {
		result.FallbackReason = "max_iterations"
	}
	if result.Answer == "" {
		result.Answer = fallbackAnswer(result)
	}

	slog.Info("research_turn_finished",
		"turn_id", turn.ID,
		"session_id", turn.SessionID,
		"domain_id", d.ID,
		"iterations", result.Iterations,
		"tool_calls", result.ToolCalls,
		"budget_exhausted", result.BudgetExhausted,
		"fallback_reason", result.FallbackReason,
	)
	return result, nil
}

// plan asks for one step and repairs malformed JSON once.
func (a *ResearchAgent) plan(ctx context.Context, prompt string) (domain.AgentPlanStep, string) {
	plannerCtx, cancel := context.WithTimeout(ctx, a.limits.PlannerTimeout)
	raw, err := a.planner.GenerateJSONFromPrompt(plannerCtx, prompt)
	cancel()
	if err != nil {
		if isAgentTimeoutError(err) {
			return domain.AgentPlanStep{}, "timeout"
		}
		return domain.AgentPlanStep{}, "planner_error"
	}

	step, err := parseAgentStep(raw)
	if err == nil {
		return step, ""
	}

	repairCtx, repairCancel := context.WithTimeout(ctx, a.limits.PlannerTimeout)
	repaired, repairErr := a.planner.GenerateJSONFromPrompt(repairCtx, buildPlannerRepairPrompt(raw))
	repairCancel()
	if repairErr != nil {
		if isAgentTimeoutError(repairErr) {
			return domain.AgentPlanStep{}, "timeout"
		}
		return domain.AgentPlanStep{}, "planner_invalid_json"
	}
	step, err = parseAgentStep(repaired)
	if err != nil {
		return domain.AgentPlanStep{}, "planner_invalid_json"
	}
	return step, ""
}

func fallbackAnswer(result *domain.TurnResult) string {
	switch result.FallbackReason {
	case "budget_exhausted":
		return fmt.Sprintf("I've paused after %d tool calls, the limit for a single request. Send another message to let me continue researching.", result.ToolCalls)
	case "timeout":
		return "The research step took too long. Please try again or narrow the request."
	default:
		return "I reached the current execution limits. Please refine the request and try again."
	}
}

func isAgentTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func parseAgentStep(raw string) (domain.AgentPlanStep, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.AgentPlanStep{}, fmt.Errorf("empty planner response")
	}
	var step domain.AgentPlanStep
	if err := json.Unmarshal([]byte(raw), &step); err != nil {
		return domain.AgentPlanStep{}, fmt.Errorf("unmarshal planner json: %w", err)
	}
	step.Type = strings.ToLower(strings.TrimSpace(step.Type))
	step.Tool = strings.ToLower(strings.TrimSpace(step.Tool))
	return step, nil
}

func buildResearchPlannerPrompt(domainContext, catalog string, scratchpad []string, userMessage string) string {
	if len(scratchpad) == 0 {
		scratchpad = []string{"(no tool outputs yet)"}
	}
	return fmt.Sprintf(`You are the planning component of a research assistant.
Check memory before searching, save every new fact with save_to_memory, and
skip narrating topics that memory reports as KNOWN.
Return ONLY a valid JSON object with one step.
Schema:
{"type":"tool","tool":"<tool name>","input":{...}}
or
{"type":"final","answer":"..."}

%s
Available tools:
%s
Scratchpad with previous tool outputs:
%s

Current user request:
%s
`, domainContext, catalog, strings.Join(scratchpad, "\n"), userMessage)
}

func buildPlannerRepairPrompt(raw string) string {
	return fmt.Sprintf(`Convert the following text into a valid JSON object for this schema:
{"type":"tool","tool":"<tool name>","input":{...}}
or {"type":"final","answer":"..."}
Return only JSON.
Text:
%s`, raw)
}
