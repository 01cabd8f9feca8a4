package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/adapters/chat"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/core/usecase"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/research-assistant/internal/infrastructure/mail/smtp"
	"github.com/kirillkom/research-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/research-assistant/internal/infrastructure/search/tavily"
	"github.com/kirillkom/research-assistant/internal/observability/metrics"
)

// Options selects the parts of the graph a binary needs.
type Options struct {
	// Source labels research turns in metrics ("api", "worker", "cli").
	Source string
	// Metrics is optional. Binaries without a metrics endpoint leave it nil.
	Metrics *metrics.ResearchMetrics
	// ConnectQueue opens the NATS connection used for research triggers.
	ConnectQueue bool
}

type App struct {
	Config config.Config

	Domains     *usecase.DomainRegistryUseCase
	Sessions    *usecase.SessionRegistry
	Memory      *usecase.MemoryUseCase
	Newsletters *usecase.NewsletterUseCase
	Agent       *usecase.ResearchAgent
	Actions     *usecase.ActionRegistry
	Chat        *chat.Handler
	Queue       *nats.Queue

	Budget domain.BudgetPolicy

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	db, domains, topics, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	presets, err := config.LoadPresets(cfg.DomainPresetsPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load domain presets: %w", err)
	}

	var observer ports.ResearchObserver
	var recorder chat.Recorder
	if opts.Metrics != nil {
		observer = opts.Metrics
		recorder = opts.Metrics
	}

	registry := usecase.NewDomainRegistryUseCase(domains, topics, presets)
	if err := registry.EnsurePresets(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure domain presets: %w", err)
	}

	memory := usecase.NewMemoryUseCase(topics, usecase.NoveltyPolicy{
		Mode:            cfg.NoveltyPolicy,
		StalenessWindow: cfg.NoveltyStalenessWindow,
	}, observer)

	executor := resilience.NewExecutor(
		resilience.DefaultConfig().WithRateLimit(tavily.SearchOperation(), cfg.SearchRateLimitRPS, 1),
	)

	// Send reports a configuration error when the mailer is nil, so an
	// unconfigured SMTP server must stay an untyped nil here.
	var mailer ports.Mailer
	if cfg.SMTPConfigured() {
		smtpMailer, err := smtp.New(smtp.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       []string{cfg.SMTPTo},
			UseTLS:   cfg.SMTPUseTLS,
		}, executor)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init smtp mailer: %w", err)
		}
		mailer = smtpMailer
	} else {
		slog.Info("newsletter_delivery_disabled", "reason", "smtp not configured")
	}

	newsletters := usecase.NewNewsletterUseCase(memory, registry, mailer, usecase.NewsletterSettings{
		Format:      cfg.NewsletterFormat,
		Subject:     cfg.NewsletterSubject,
		SourceLimit: cfg.NewsletterSourceLimit,
	})

	planner := ollama.NewPlanner(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, executor))
	searcher := tavily.New(cfg.TavilyURL, cfg.TavilyAPIKey, executor)
	actions := usecase.NewActionRegistry(observer,
		usecase.NewWebSearchAction(searcher, registry, cfg.SearchMaxResults),
		usecase.NewGitHubSearchAction(searcher, cfg.SearchMaxResults),
		usecase.NewArxivSearchAction(searcher, cfg.SearchMaxResults),
		usecase.NewNewsSearchAction(searcher, cfg.SearchMaxResults),
		usecase.NewCheckMemoryAction(memory),
		usecase.NewSearchMemoryAction(memory),
		usecase.NewCheckNoveltyAction(memory),
		usecase.NewSaveToMemoryAction(memory),
		usecase.NewMemoryStatsAction(memory),
		usecase.NewSendNewsletterAction(newsletters),
		usecase.NewSendEmailAction(mailer),
	)
	agent := usecase.NewResearchAgent(planner, actions, registry, domain.AgentLimits{
		MaxIterations:  cfg.AgentMaxIterations,
		Timeout:        time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		PlannerTimeout: time.Duration(cfg.AgentPlannerTimeoutSeconds) * time.Second,
		ToolTimeout:    time.Duration(cfg.AgentToolTimeoutSeconds) * time.Second,
	})

	budget := usecase.NormalizeBudgetPolicy(domain.BudgetPolicy{
		Ceiling:      cfg.MaxToolCalls,
		WarnFraction: cfg.ToolCallWarnFraction,
	})
	sessions := usecase.NewSessionRegistry(registry, cfg.DefaultDomain)

	var queue *nats.Queue
	if opts.ConnectQueue {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSResearchSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init research queue: %w", err)
		}
	}

	chatHandler := chat.NewHandler(chat.Dependencies{
		Sessions:    sessions,
		Domains:     registry,
		Memory:      memory,
		Newsletters: newsletters,
		Runner:      agent,
		Budget:      budget,
		Recorder:    recorder,
		Source:      opts.Source,
	})

	return &App{
		Config:      cfg,
		Domains:     registry,
		Sessions:    sessions,
		Memory:      memory,
		Newsletters: newsletters,
		Agent:       agent,
		Actions:     actions,
		Chat:        chatHandler,
		Queue:       queue,
		Budget:      budget,
		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// NewBudgetGuard returns a fresh guard for one turn.
func (a *App) NewBudgetGuard() *usecase.BudgetGuard {
	return usecase.NewBudgetGuard(a.Budget)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// openStore picks the backend from the DATABASE_URL scheme: postgres:// and
// postgresql:// select Postgres, anything else is a SQLite file path.
func openStore(ctx context.Context, databaseURL string) (*sql.DB, ports.DomainStore, ports.TopicStore, error) {
	if isPostgresURL(databaseURL) {
		db, err := postgres.OpenDB(databaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return db, postgres.NewDomainRepository(db), postgres.NewTopicRepository(db), nil
	}

	db, err := sqlite.Open(databaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlite.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, sqlite.NewDomainRepository(db), sqlite.NewTopicRepository(db), nil
}

func isPostgresURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}
