package ports

import (
	"context"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// DomainRegistry is the inbound contract for domain lifecycle management.
type DomainRegistry interface {
	CreateDomain(ctx context.Context, name, description string, keywords []string) (*domain.Domain, error)
	GetOrCreateDefault(ctx context.Context, name, description string, keywords []string) (*domain.Domain, error)
	GetDomain(ctx context.Context, id string) (*domain.Domain, error)
	ResolveDomain(ctx context.Context, ref string) (*domain.Domain, error)
	ListDomains(ctx context.Context) ([]domain.DomainWithCount, error)
	UpdateKeywords(ctx context.Context, id string, keywords []string) (*domain.Domain, error)
	DeleteDomain(ctx context.Context, id string, cascade bool) error
	DomainStats(ctx context.Context, id string) (*domain.DomainStats, error)
}

// SessionScope tracks the single active domain of each chat session.
type SessionScope interface {
	Active(ctx context.Context, sessionID string) (*domain.Domain, error)
	SetActive(ctx context.Context, sessionID, domainID string) (*domain.Domain, error)
}

// MemoryService is the inbound contract for the topic store and novelty decisions.
type MemoryService interface {
	RecordFinding(ctx context.Context, finding domain.Finding) (*domain.RecordResult, error)
	FindTopic(ctx context.Context, domainID, topicName string) (*domain.Topic, error)
	ListRecent(ctx context.Context, domainID string, limit int) ([]domain.Topic, error)
	SearchTopics(ctx context.Context, domainID string, query domain.TopicQuery) ([]domain.Topic, error)
	CheckNovelty(ctx context.Context, domainID, topicName string, at time.Time) (*domain.NoveltyCheck, error)
	DeleteTopic(ctx context.Context, domainID, topicID string) error
	Stats(ctx context.Context, domainID string) (*domain.MemoryStats, error)
}

// NewsletterService renders and delivers digests of recent findings.
type NewsletterService interface {
	Render(ctx context.Context, domainID, format string, limit int) (*domain.Newsletter, error)
	Send(ctx context.Context, domainID string, limit int) (*domain.Newsletter, error)
}

// BudgetGate is the per-turn tool-call budget.
type BudgetGate interface {
	Reset()
	TryConsume() domain.BudgetDecision
}

// ResearchRunner executes one research turn under its own budget.
type ResearchRunner interface {
	RunTurn(ctx context.Context, turn domain.Turn, budget BudgetGate, message string) (*domain.TurnResult, error)
}

// Action is a callable external capability offered to the reasoning loop.
type Action interface {
	Name() string
	Description() string
	Params() []domain.ActionParam
	Invoke(ctx context.Context, turn domain.Turn, input map[string]interface{}) (string, error)
}
