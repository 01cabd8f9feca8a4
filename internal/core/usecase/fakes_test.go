package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type fakeResearchStore struct {
	mu      sync.Mutex
	domains map[string]domain.Domain
	keys    map[string]string
	topics  map[string]map[string]domain.Topic

	conflictsToInject int
	applyCalls        int
}

func newFakeResearchStore() *fakeResearchStore {
	return &fakeResearchStore{
		domains: make(map[string]domain.Domain),
		keys:    make(map[string]string),
		topics:  make(map[string]map[string]domain.Topic),
	}
}

func (f *fakeResearchStore) CreateDomain(_ context.Context, d *domain.Domain, nameKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[nameKey]; ok {
		return domain.WrapError(domain.ErrDuplicateDomain, "create domain", fmt.Errorf("name_key %s", nameKey))
	}
	f.keys[nameKey] = d.ID
	f.domains[d.ID] = *d
	f.topics[d.ID] = make(map[string]domain.Topic)
	return nil
}

func (f *fakeResearchStore) GetDomainByID(_ context.Context, id string) (*domain.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownDomain, "get domain", fmt.Errorf("id=%s", id))
	}
	return &d, nil
}

func (f *fakeResearchStore) GetDomainByKey(_ context.Context, nameKey string) (*domain.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.keys[nameKey]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownDomain, "get domain", fmt.Errorf("name=%s", nameKey))
	}
	d := f.domains[id]
	return &d, nil
}

func (f *fakeResearchStore) ListDomains(context.Context) ([]domain.DomainWithCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DomainWithCount, 0, len(f.domains))
	for id, d := range f.domains {
		out = append(out, domain.DomainWithCount{Domain: d, TopicCount: len(f.topics[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

func (f *fakeResearchStore) TouchDomain(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[id]
	if !ok {
		return domain.WrapError(domain.ErrUnknownDomain, "touch domain", fmt.Errorf("id=%s", id))
	}
	if at.After(d.LastUsedAt) {
		d.LastUsedAt = at
	}
	f.domains[id] = d
	return nil
}

func (f *fakeResearchStore) UpdateKeywords(_ context.Context, id string, keywords []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[id]
	if !ok {
		return domain.WrapError(domain.ErrUnknownDomain, "update keywords", fmt.Errorf("id=%s", id))
	}
	d.Keywords = keywords
	f.domains[id] = d
	return nil
}

func (f *fakeResearchStore) DeleteDomain(_ context.Context, id string, cascade bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[id]
	if !ok {
		return 0, domain.WrapError(domain.ErrUnknownDomain, "delete domain", fmt.Errorf("id=%s", id))
	}
	count := len(f.topics[id])
	if count > 0 && !cascade {
		return 0, domain.WrapError(domain.ErrDomainInUse, "delete domain", fmt.Errorf("%d topics", count))
	}
	delete(f.topics, id)
	delete(f.domains, id)
	delete(f.keys, domain.NormalizeName(d.Name))
	return count, nil
}

func (f *fakeResearchStore) ApplyTopic(_ context.Context, domainID, nameKey string, touchedAt time.Time, mutate ports.TopicMutation) (*domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++

	d, ok := f.domains[domainID]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownDomain, "apply topic", fmt.Errorf("id=%s", domainID))
	}
	var current *domain.Topic
	if existing, ok := f.topics[domainID][nameKey]; ok {
		copied := existing
		current = &copied
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	if current == nil && f.conflictsToInject > 0 {
		f.conflictsToInject--
		return nil, domain.WrapError(domain.ErrConflict, "insert topic", fmt.Errorf("unique violation"))
	}
	f.topics[domainID][nameKey] = next
	if touchedAt.After(d.LastUsedAt) {
		d.LastUsedAt = touchedAt
		f.domains[domainID] = d
	}
	return &next, nil
}

func (f *fakeResearchStore) FindTopic(_ context.Context, domainID, nameKey string) (*domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	topic, ok := f.topics[domainID][nameKey]
	if !ok {
		return nil, domain.WrapError(domain.ErrTopicNotFound, "find topic", fmt.Errorf("name=%s", nameKey))
	}
	return &topic, nil
}

func (f *fakeResearchStore) ListRecentTopics(_ context.Context, domainID string, limit int) ([]domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Topic, 0)
	for _, topic := range f.topics[domainID] {
		out = append(out, topic)
	}
	sortRecent(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeResearchStore) SearchTopics(_ context.Context, domainID string, query domain.TopicQuery) ([]domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	needle := strings.ToLower(query.Text)
	out := make([]domain.Topic, 0)
	for _, topic := range f.topics[domainID] {
		if needle != "" && !strings.Contains(strings.ToLower(topic.Name+" "+topic.Summary), needle) {
			continue
		}
		if len(query.Tags) > 0 && !hasAnyTag(topic.Tags, query.Tags) {
			continue
		}
		out = append(out, topic)
	}
	sortRecent(out)
	if len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (f *fakeResearchStore) DeleteTopic(_ context.Context, domainID, topicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, topic := range f.topics[domainID] {
		if topic.ID == topicID {
			delete(f.topics[domainID], key)
			return nil
		}
	}
	return domain.WrapError(domain.ErrTopicNotFound, "delete topic", fmt.Errorf("id=%s", topicID))
}

func (f *fakeResearchStore) CountTopics(_ context.Context, domainID string, since time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recent := 0
	for _, topic := range f.topics[domainID] {
		if !topic.LastMentionedAt.Before(since) {
			recent++
		}
	}
	return len(f.topics[domainID]), recent, nil
}

func (f *fakeResearchStore) topicCount(domainID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics[domainID])
}

func sortRecent(topics []domain.Topic) {
	sort.Slice(topics, func(i, j int) bool {
		if !topics[i].LastMentionedAt.Equal(topics[j].LastMentionedAt) {
			return topics[i].LastMentionedAt.After(topics[j].LastMentionedAt)
		}
		return topics[i].ID < topics[j].ID
	})
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu              sync.Mutex
	classifications []domain.Classification
	decisions       []domain.BudgetDecision
	toolCalls       []string
}

func (o *recordingObserver) ObserveClassification(c domain.Classification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classifications = append(o.classifications, c)
}

func (o *recordingObserver) ObserveBudgetDecision(d domain.BudgetDecision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func (o *recordingObserver) ObserveToolCall(tool, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.toolCalls = append(o.toolCalls, tool+":"+status)
}

type testEnv struct {
	store    *fakeResearchStore
	clock    *fakeClock
	registry *DomainRegistryUseCase
	memory   *MemoryUseCase
	observer *recordingObserver
}

func newTestEnv(policy NoveltyPolicy) *testEnv {
	store := newFakeResearchStore()
	clock := newFakeClock()
	observer := &recordingObserver{}
	registry := NewDomainRegistryUseCase(store, store, []domain.DomainPreset{
		{Name: "ai-ml", Description: "Artificial intelligence and machine learning", Keywords: []string{"LLM", "transformers"}, FocusAreas: []string{"model releases"}},
		{Name: "cryptocurrency", Description: "Digital currencies", Keywords: []string{"bitcoin", "DeFi"}},
	})
	registry.now = clock.Now
	memory := NewMemoryUseCase(store, policy, observer)
	memory.now = clock.Now
	return &testEnv{store: store, clock: clock, registry: registry, memory: memory, observer: observer}
}
