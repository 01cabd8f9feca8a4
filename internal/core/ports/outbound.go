package ports

import (
	"context"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// DomainStore persists research domains. Implementations enforce name_key
// uniqueness at the storage layer and report it as domain.ErrDuplicateDomain.
type DomainStore interface {
	CreateDomain(ctx context.Context, d *domain.Domain, nameKey string) error
	GetDomainByID(ctx context.Context, id string) (*domain.Domain, error)
	GetDomainByKey(ctx context.Context, nameKey string) (*domain.Domain, error)
	ListDomains(ctx context.Context) ([]domain.DomainWithCount, error)
	TouchDomain(ctx context.Context, id string, at time.Time) error
	UpdateKeywords(ctx context.Context, id string, keywords []string) error
	DeleteDomain(ctx context.Context, id string, cascade bool) (int, error)
}

// TopicMutation computes the next state of a topic from the locked current
// row (nil when the topic does not exist yet).
type TopicMutation func(current *domain.Topic) (domain.Topic, error)

// TopicStore persists topics under their owning domain.
type TopicStore interface {
	// ApplyTopic runs mutate inside one transaction that holds the owning
	// domain row and the (domain_id, name_key) topic row. A concurrent insert
	// of the same key surfaces as domain.ErrConflict.
	ApplyTopic(ctx context.Context, domainID, nameKey string, touchedAt time.Time, mutate TopicMutation) (*domain.Topic, error)
	FindTopic(ctx context.Context, domainID, nameKey string) (*domain.Topic, error)
	ListRecentTopics(ctx context.Context, domainID string, limit int) ([]domain.Topic, error)
	SearchTopics(ctx context.Context, domainID string, query domain.TopicQuery) ([]domain.Topic, error)
	DeleteTopic(ctx context.Context, domainID, topicID string) error
	CountTopics(ctx context.Context, domainID string, mentionedSince time.Time) (total int, recent int, err error)
}

// Planner produces one JSON planning step from a prompt.
type Planner interface {
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// WebSearcher queries the external search provider.
type WebSearcher interface {
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)
}

// Mailer delivers a rendered newsletter.
type Mailer interface {
	Send(ctx context.Context, msg domain.MailMessage) error
}

// TriggerQueue carries batch research triggers between api and worker.
type TriggerQueue interface {
	PublishResearchTrigger(ctx context.Context, trigger domain.ResearchTrigger) error
	SubscribeResearchTriggers(ctx context.Context, handler func(context.Context, domain.ResearchTrigger) error) error
}

// ResearchObserver receives core decisions for metrics.
type ResearchObserver interface {
	ObserveClassification(classification domain.Classification)
	ObserveBudgetDecision(decision domain.BudgetDecision)
	ObserveToolCall(tool, status string)
}
