package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

type MemoryUseCase struct {
	topics   ports.TopicStore
	policy   NoveltyPolicy
	observer ports.ResearchObserver
	now      func() time.Time
	newID    func() string
}

func NewMemoryUseCase(topics ports.TopicStore, policy NoveltyPolicy, observer ports.ResearchObserver) *MemoryUseCase {
	if observer == nil {
		observer = noopObserver{}
	}
	return &MemoryUseCase{
		topics:   topics,
		policy:   policy.normalize(),
		observer: observer,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RecordFinding stores a finding and classifies it against memory. The read,
// the novelty decision and the write happen in one storage transaction; an
// insert that loses a race on the unique key is retried once as an update.
func (uc *MemoryUseCase) RecordFinding(ctx context.Context, finding domain.Finding) (*domain.RecordResult, error) {
	finding.DomainID = strings.TrimSpace(finding.DomainID)
	if finding.DomainID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "record finding", fmt.Errorf("domain_id is required"))
	}
	nameKey := domain.NormalizeName(finding.TopicName)
	if nameKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "record finding", fmt.Errorf("topic name is required"))
	}
	if finding.ObservedAt.IsZero() {
		finding.ObservedAt = uc.now()
	}
	finding.ObservedAt = domain.StorageTime(finding.ObservedAt)

	var classification domain.Classification
	mutate := func(current *domain.Topic) (domain.Topic, error) {
		next, class := uc.policy.apply(current, finding, uc.newID)
		classification = class
		return next, nil
	}

	const maxAttempts = 2
	var (
		topic *domain.Topic
		err   error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		topic, err = uc.topics.ApplyTopic(ctx, finding.DomainID, nameKey, domain.StorageTime(uc.now()), mutate)
		if err == nil {
			break
		}
		if !domain.IsKind(err, domain.ErrConflict) || attempt == maxAttempts {
			return nil, err
		}
		slog.Info("finding_conflict_retry",
			"domain_id", finding.DomainID,
			"topic_key", nameKey,
		)
	}

	uc.observer.ObserveClassification(classification)
	slog.Info("finding_recorded",
		"domain_id", finding.DomainID,
		"topic_id", topic.ID,
		"topic", topic.Name,
		"classification", string(classification),
		"sources", len(topic.Sources),
	)
	return &domain.RecordResult{Topic: *topic, Classification: classification}, nil
}

func (uc *MemoryUseCase) FindTopic(ctx context.Context, domainID, topicName string) (*domain.Topic, error) {
	nameKey := domain.NormalizeName(topicName)
	if nameKey == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "find topic", fmt.Errorf("topic name is required"))
	}
	return uc.topics.FindTopic(ctx, strings.TrimSpace(domainID), nameKey)
}

func (uc *MemoryUseCase) ListRecent(ctx context.Context, domainID string, limit int) ([]domain.Topic, error) {
	return uc.topics.ListRecentTopics(ctx, strings.TrimSpace(domainID), clampLimit(limit))
}

func (uc *MemoryUseCase) SearchTopics(ctx context.Context, domainID string, query domain.TopicQuery) ([]domain.Topic, error) {
	query.Text = strings.TrimSpace(query.Text)
	query.Limit = clampLimit(query.Limit)
	tags := make([]string, 0, len(query.Tags))
	for _, tag := range query.Tags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			tags = append(tags, tag)
		}
	}
	query.Tags = tags
	return uc.topics.SearchTopics(ctx, strings.TrimSpace(domainID), query)
}

// CheckNovelty previews the decision for a topic name without writing.
func (uc *MemoryUseCase) CheckNovelty(ctx context.Context, domainID, topicName string, at time.Time) (*domain.NoveltyCheck, error) {
	if at.IsZero() {
		at = uc.now()
	}
	check := &domain.NoveltyCheck{TopicName: domain.DisplayName(topicName)}
	topic, err := uc.FindTopic(ctx, domainID, topicName)
	if err != nil {
		if domain.IsKind(err, domain.ErrTopicNotFound) {
			return check, nil
		}
		return nil, err
	}
	check.Seen = true
	check.Topic = topic
	check.DaysSinceSeen = int(at.Sub(topic.LastMentionedAt).Hours() / 24)
	if check.DaysSinceSeen < 0 {
		check.DaysSinceSeen = 0
	}
	check.Stale = uc.policy.isStale(topic.LastMentionedAt, at)
	return check, nil
}

func (uc *MemoryUseCase) DeleteTopic(ctx context.Context, domainID, topicID string) error {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete topic", fmt.Errorf("topic id is required"))
	}
	return uc.topics.DeleteTopic(ctx, strings.TrimSpace(domainID), topicID)
}

func (uc *MemoryUseCase) Stats(ctx context.Context, domainID string) (*domain.MemoryStats, error) {
	since := uc.now().Add(-uc.policy.StalenessWindow)
	total, recent, err := uc.topics.CountTopics(ctx, strings.TrimSpace(domainID), domain.StorageTime(since))
	if err != nil {
		return nil, err
	}
	return &domain.MemoryStats{
		DomainID:     domainID,
		TotalTopics:  total,
		RecentTopics: recent,
		Window:       uc.policy.StalenessWindow,
	}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

type noopObserver struct{}

func (noopObserver) ObserveClassification(domain.Classification) {}
func (noopObserver) ObserveBudgetDecision(domain.BudgetDecision) {}
func (noopObserver) ObserveToolCall(string, string)              {}
