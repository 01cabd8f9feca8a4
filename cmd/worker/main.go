package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/bootstrap"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/observability/logging"
	"github.com/kirillkom/research-assistant/internal/observability/metrics"
)

const (
	serviceName    = "worker"
	triggerTimeout = 10 * time.Minute
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Source:       serviceName,
		Metrics:      workerMetrics.ResearchMetrics,
		ConnectQueue: true,
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSResearchSubject)
	err = app.Queue.SubscribeResearchTriggers(ctx, func(handlerCtx context.Context, trigger domain.ResearchTrigger) error {
		return runTrigger(handlerCtx, app, workerMetrics, trigger)
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

// runTrigger runs one research turn for a queued trigger. Every trigger gets
// its own budget guard so batch turns never share state with chat turns.
func runTrigger(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, trigger domain.ResearchTrigger) error {
	if !trigger.EnqueuedAt.IsZero() {
		m.ObserveQueueLag(serviceName, time.Since(trigger.EnqueuedAt))
	}
	m.StartTrigger()
	started := time.Now()

	result, err := func() (*domain.TurnResult, error) {
		d, err := app.Domains.ResolveDomain(ctx, trigger.Domain)
		if err != nil {
			return nil, err
		}
		turnCtx, cancel := context.WithTimeout(ctx, triggerTimeout)
		defer cancel()
		turn := domain.Turn{
			ID:        uuid.NewString(),
			SessionID: "trigger:" + trigger.ID,
			DomainID:  d.ID,
		}
		return app.Agent.RunTurn(turnCtx, turn, app.NewBudgetGuard(), trigger.Prompt)
	}()

	m.FinishTrigger(serviceName, time.Since(started), err)
	m.RecordTurn(serviceName, result, time.Since(started))
	if err != nil {
		return err
	}
	slog.Info("research_trigger_done",
		"trigger_id", trigger.ID,
		"domain_id", result.DomainID,
		"tool_calls", result.ToolCalls,
		"budget_exhausted", result.BudgetExhausted,
	)
	return nil
}

func startMetricsServer(port string, m *metrics.WorkerMetrics) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	return server
}
