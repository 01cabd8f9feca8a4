package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHTTPMiddlewareFoldsDomainIDs(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/domains/3f6d/findings", nil))

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `path="/v1/domains/{domain_id}/findings"`) || !strings.Contains(out, `status="201"`) {
		t.Fatalf("expected folded path label, got:\n%s", out)
	}
}

func TestResearchMetricsCountDecisions(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.ObserveClassification(domain.ClassificationNew)
	m.ObserveBudgetDecision(domain.BudgetWarn)
	m.ObserveToolCall("web_search", "ok")
	m.RecordTurn("chat", &domain.TurnResult{ToolCalls: 10, BudgetExhausted: true}, time.Second)
	m.RecordNewsletter(domain.WrapError(domain.ErrNoContent, "send", errors.New("empty")))

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`research_memory_classifications_total{classification="NEW",service="api"} 1`,
		`research_budget_decisions_total{decision="warn",service="api"} 1`,
		`research_agent_tool_calls_total{service="api",status="ok",tool="web_search"} 1`,
		`research_agent_turns_total{outcome="budget_exhausted",service="api",source="chat"} 1`,
		`research_newsletter_sent_total{service="api",status="empty"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestWorkerMetricsTrackTriggers(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartTrigger()
	m.ObserveQueueLag("worker", 2*time.Second)
	m.FinishTrigger("worker", time.Second, errors.New("boom"))

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `research_worker_triggers_total{service="worker",status="error"} 1`) {
		t.Fatalf("unexpected worker metrics:\n%s", out)
	}
	if !strings.Contains(out, `research_worker_triggers_in_flight{service="worker"} 0`) {
		t.Fatalf("expected in-flight gauge back to zero:\n%s", out)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/healthz":               "/healthz",
		"/v1/domains":            "/v1/domains",
		"/v1/domains/":           "/v1/domains/",
		"/v1/domains/abc":        "/v1/domains/{domain_id}",
		"/v1/domains/abc/topics": "/v1/domains/{domain_id}/topics",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
