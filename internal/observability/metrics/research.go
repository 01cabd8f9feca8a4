package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const namespace = "research"

// ResearchMetrics counts core decisions. It implements ports.ResearchObserver
// and is shared by every binary that runs research turns.
type ResearchMetrics struct {
	service string

	classificationsTotal *prometheus.CounterVec
	budgetDecisionsTotal *prometheus.CounterVec
	toolCallsTotal       *prometheus.CounterVec
	turnsTotal           *prometheus.CounterVec
	turnToolCalls        *prometheus.HistogramVec
	turnDuration         *prometheus.HistogramVec
	newslettersTotal     *prometheus.CounterVec
}

func newResearchMetrics(service string, registry *prometheus.Registry) *ResearchMetrics {
	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "classifications_total",
			Help:      "Recorded findings by novelty classification.",
		},
		[]string{"service", "classification"},
	)
	budgetDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "decisions_total",
			Help:      "Tool-call budget decisions.",
		},
		[]string{"service", "decision"},
	)
	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool calls attempted by the research agent.",
		},
		[]string{"service", "tool", "status"},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Completed research turns by outcome.",
		},
		[]string{"service", "source", "outcome"},
	)
	turnToolCalls := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_tool_calls",
			Help:      "Executed tool calls per research turn.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
		[]string{"service", "source"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Research turn duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "source"},
	)
	newslettersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "newsletter",
			Name:      "sent_total",
			Help:      "Newsletter delivery attempts by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		classificationsTotal,
		budgetDecisionsTotal,
		toolCallsTotal,
		turnsTotal,
		turnToolCalls,
		turnDuration,
		newslettersTotal,
	)

	return &ResearchMetrics{
		service:              service,
		classificationsTotal: classificationsTotal,
		budgetDecisionsTotal: budgetDecisionsTotal,
		toolCallsTotal:       toolCallsTotal,
		turnsTotal:           turnsTotal,
		turnToolCalls:        turnToolCalls,
		turnDuration:         turnDuration,
		newslettersTotal:     newslettersTotal,
	}
}

func (m *ResearchMetrics) ObserveClassification(classification domain.Classification) {
	m.classificationsTotal.WithLabelValues(m.service, string(classification)).Inc()
}

func (m *ResearchMetrics) ObserveBudgetDecision(decision domain.BudgetDecision) {
	m.budgetDecisionsTotal.WithLabelValues(m.service, decision.String()).Inc()
}

func (m *ResearchMetrics) ObserveToolCall(tool, status string) {
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.toolCallsTotal.WithLabelValues(m.service, tool, status).Inc()
}

// RecordTurn records a finished turn. A nil result counts as an error.
func (m *ResearchMetrics) RecordTurn(source string, result *domain.TurnResult, duration time.Duration) {
	outcome := "error"
	toolCalls := 0
	if result != nil {
		toolCalls = result.ToolCalls
		switch {
		case result.BudgetExhausted:
			outcome = "budget_exhausted"
		case result.FallbackReason != "":
			outcome = "fallback"
		default:
			outcome = "answered"
		}
	}
	m.turnsTotal.WithLabelValues(m.service, source, outcome).Inc()
	m.turnToolCalls.WithLabelValues(m.service, source).Observe(float64(toolCalls))
	m.turnDuration.WithLabelValues(m.service, source).Observe(duration.Seconds())
}

func (m *ResearchMetrics) RecordNewsletter(err error) {
	status := "sent"
	switch {
	case err == nil:
	case domain.IsKind(err, domain.ErrNoContent):
		status = "empty"
	default:
		status = "error"
	}
	m.newslettersTotal.WithLabelValues(m.service, status).Inc()
}
