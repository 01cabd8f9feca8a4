package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/usecase"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "research.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return db
}

type testServices struct {
	domains  *DomainRepository
	topics   *TopicRepository
	registry *usecase.DomainRegistryUseCase
	memory   *usecase.MemoryUseCase
}

func newTestServices(t *testing.T) testServices {
	t.Helper()
	db := openTestDB(t)
	domains := NewDomainRepository(db)
	topics := NewTopicRepository(db)
	return testServices{
		domains:  domains,
		topics:   topics,
		registry: usecase.NewDomainRegistryUseCase(domains, topics, nil),
		memory:   usecase.NewMemoryUseCase(topics, usecase.NoveltyPolicy{}, nil),
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("second EnsureSchema() error = %v", err)
	}
}

func TestDomainNameUniquenessIsEnforcedByStorage(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	now := domain.StorageTime(time.Now())

	if err := s.domains.CreateDomain(ctx, &domain.Domain{ID: "d-1", Name: "Web3", CreatedAt: now, LastUsedAt: now}, "web3"); err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	err := s.domains.CreateDomain(ctx, &domain.Domain{ID: "d-2", Name: "WEB3", CreatedAt: now, LastUsedAt: now}, "web3")
	if !domain.IsKind(err, domain.ErrDuplicateDomain) {
		t.Fatalf("expected ErrDuplicateDomain, got %v", err)
	}

	got, err := s.domains.GetDomainByKey(ctx, "web3")
	if err != nil {
		t.Fatalf("GetDomainByKey() error = %v", err)
	}
	if got.ID != "d-1" || !got.CreatedAt.Equal(now) || len(got.Keywords) != 0 {
		t.Fatalf("unexpected domain %+v", got)
	}
}

func TestRecordFindingRoundTripsThroughStorage(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "cryptocurrency", "Digital currencies", []string{"bitcoin"})
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 123456789, time.UTC)

	first, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "DAO", Summary: "v1", Sources: []string{"a"}, ObservedAt: t0})
	if err != nil || first.Classification != domain.ClassificationNew {
		t.Fatalf("first RecordFinding() = %+v, %v", first, err)
	}
	second, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "dao", Summary: "v2", Sources: []string{"b", "a"}, Tags: []string{"Governance"}, ObservedAt: t0.Add(time.Hour)})
	if err != nil || second.Classification != domain.ClassificationUpdated {
		t.Fatalf("second RecordFinding() = %+v, %v", second, err)
	}

	topic, err := s.memory.FindTopic(ctx, d.ID, " DAO ")
	if err != nil {
		t.Fatalf("FindTopic() error = %v", err)
	}
	if topic.Name != "DAO" || topic.Summary != "v2" {
		t.Fatalf("unexpected topic %+v", topic)
	}
	if !topic.FirstResearchedAt.Equal(domain.StorageTime(t0)) {
		t.Fatalf("first_researched_at changed: %s", topic.FirstResearchedAt)
	}
	if len(topic.Sources) != 2 || topic.Sources[0] != "a" || topic.Sources[1] != "b" {
		t.Fatalf("unexpected sources %v", topic.Sources)
	}
	if len(topic.Tags) != 1 || topic.Tags[0] != "governance" {
		t.Fatalf("unexpected tags %v", topic.Tags)
	}
}

func TestConcurrentRecordFindingKeepsOneRow(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "ai-ml", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		news int
		errs []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.memory.RecordFinding(ctx, domain.Finding{
				DomainID:  d.ID,
				TopicName: "Mixture of Experts",
				Summary:   "sparse routing",
				Sources:   []string{fmt.Sprintf("https://example.org/%d", i)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Classification == domain.ClassificationNew {
				news++
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if news != 1 {
		t.Fatalf("expected exactly one NEW classification, got %d", news)
	}
	topics, err := s.memory.ListRecent(ctx, d.ID, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(topics) != 1 || len(topics[0].Sources) != writers {
		t.Fatalf("expected one topic with %d sources, got %+v", writers, topics)
	}
}

func TestDeleteDomainCascadeIsAtomic(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "web3", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	other, err := s.registry.CreateDomain(ctx, "quantum", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	for _, name := range []string{"zk rollups", "restaking"} {
		if _, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: name, Summary: "s"}); err != nil {
			t.Fatalf("RecordFinding() error = %v", err)
		}
	}
	if _, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: other.ID, TopicName: "qubits", Summary: "s"}); err != nil {
		t.Fatalf("RecordFinding() error = %v", err)
	}

	if err := s.registry.DeleteDomain(ctx, d.ID, false); !domain.IsKind(err, domain.ErrDomainInUse) {
		t.Fatalf("expected ErrDomainInUse, got %v", err)
	}
	if topics, _ := s.memory.ListRecent(ctx, d.ID, 10); len(topics) != 2 {
		t.Fatalf("refused delete must leave topics, got %d", len(topics))
	}

	if err := s.registry.DeleteDomain(ctx, d.ID, true); err != nil {
		t.Fatalf("cascade DeleteDomain() error = %v", err)
	}
	if _, err := s.registry.GetDomain(ctx, d.ID); !domain.IsKind(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected domain to be gone, got %v", err)
	}
	if topics, _ := s.memory.ListRecent(ctx, d.ID, 10); len(topics) != 0 {
		t.Fatalf("expected no orphan topics, got %d", len(topics))
	}
	if topics, _ := s.memory.ListRecent(ctx, other.ID, 10); len(topics) != 1 {
		t.Fatalf("other domain must be untouched, got %d", len(topics))
	}

	_, err = s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "late", Summary: "s"})
	if !domain.IsKind(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain after delete, got %v", err)
	}
}

func TestCascadeDeleteIsInvisibleToConcurrentReaders(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "web3", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	const seeded = 5
	for i := 0; i < seeded; i++ {
		if _, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: fmt.Sprintf("topic %d", i), Summary: "s"}); err != nil {
			t.Fatalf("RecordFinding() error = %v", err)
		}
	}

	stop := make(chan struct{})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		observed []int
		readErr  error
	)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				domains, err := s.registry.ListDomains(ctx)
				mu.Lock()
				if err != nil {
					readErr = err
					mu.Unlock()
					return
				}
				count := 0
				for _, item := range domains {
					if item.ID == d.ID {
						count = item.TopicCount
					}
				}
				observed = append(observed, count)
				mu.Unlock()
			}
		}()
	}

	// Re-observing an existing topic keeps the count at five whichever side wins.
	raceErr := make(chan error, 1)
	go func() {
		_, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "topic 0", Summary: "changed"})
		raceErr <- err
	}()

	if err := s.registry.DeleteDomain(ctx, d.ID, true); err != nil {
		t.Fatalf("cascade DeleteDomain() error = %v", err)
	}
	lateErr := <-raceErr
	close(stop)
	wg.Wait()

	if readErr != nil {
		t.Fatalf("ListDomains() error = %v", readErr)
	}
	for _, count := range observed {
		if count != 0 && count != seeded {
			t.Fatalf("reader saw a partial cascade: %d topics", count)
		}
	}
	if lateErr != nil && !domain.IsKind(lateErr, domain.ErrUnknownDomain) {
		t.Fatalf("racing RecordFinding() must succeed or report ErrUnknownDomain, got %v", lateErr)
	}
	total, _, err := s.topics.CountTopics(ctx, d.ID, time.Time{})
	if err != nil {
		t.Fatalf("CountTopics() error = %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no orphan topics, got %d", total)
	}
}

func TestListDomainsReportsLiveCounts(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "ai-ml", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	if _, err := s.registry.CreateDomain(ctx, "web3", "", nil); err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	if _, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "RLHF", Summary: "s"}); err != nil {
		t.Fatalf("RecordFinding() error = %v", err)
	}

	domains, err := s.domains.ListDomains(ctx)
	if err != nil {
		t.Fatalf("ListDomains() error = %v", err)
	}
	counts := map[string]int{}
	for _, item := range domains {
		counts[item.Name] = item.TopicCount
	}
	if counts["ai-ml"] != 1 || counts["web3"] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestSearchTopicsFiltersByTextAndTags(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "ai-ml", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	findings := []domain.Finding{
		{DomainID: d.ID, TopicName: "Llama 4", Summary: "open weights", Tags: []string{"model"}},
		{DomainID: d.ID, TopicName: "EU AI Act", Summary: "regulation for 100% of providers", Tags: []string{"policy"}},
	}
	for _, f := range findings {
		if _, err := s.memory.RecordFinding(ctx, f); err != nil {
			t.Fatalf("RecordFinding() error = %v", err)
		}
	}

	byText, err := s.memory.SearchTopics(ctx, d.ID, domain.TopicQuery{Text: "WEIGHTS"})
	if err != nil || len(byText) != 1 || byText[0].Name != "Llama 4" {
		t.Fatalf("text search = %+v, %v", byText, err)
	}
	byTag, err := s.memory.SearchTopics(ctx, d.ID, domain.TopicQuery{Tags: []string{"Policy"}})
	if err != nil || len(byTag) != 1 || byTag[0].Name != "EU AI Act" {
		t.Fatalf("tag search = %+v, %v", byTag, err)
	}
	literal, err := s.memory.SearchTopics(ctx, d.ID, domain.TopicQuery{Text: "100%"})
	if err != nil || len(literal) != 1 {
		t.Fatalf("literal percent search = %+v, %v", literal, err)
	}
	all, err := s.memory.SearchTopics(ctx, d.ID, domain.TopicQuery{})
	if err != nil || len(all) != 2 {
		t.Fatalf("empty search = %+v, %v", all, err)
	}
}

func TestCountTopicsAndDeleteTopic(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "ai-ml", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	if _, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "old", Summary: "s", ObservedAt: old}); err != nil {
		t.Fatalf("RecordFinding() error = %v", err)
	}
	fresh, err := s.memory.RecordFinding(ctx, domain.Finding{DomainID: d.ID, TopicName: "fresh", Summary: "s"})
	if err != nil {
		t.Fatalf("RecordFinding() error = %v", err)
	}

	stats, err := s.memory.Stats(ctx, d.ID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalTopics != 2 || stats.RecentTopics != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := s.memory.DeleteTopic(ctx, d.ID, fresh.Topic.ID); err != nil {
		t.Fatalf("DeleteTopic() error = %v", err)
	}
	if err := s.memory.DeleteTopic(ctx, d.ID, fresh.Topic.ID); !domain.IsKind(err, domain.ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound on second delete, got %v", err)
	}
}

func TestTouchDomainNeverMovesBackwards(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	d, err := s.registry.CreateDomain(ctx, "ai-ml", "", nil)
	if err != nil {
		t.Fatalf("CreateDomain() error = %v", err)
	}
	later := domain.StorageTime(d.LastUsedAt.Add(time.Hour))
	if err := s.domains.TouchDomain(ctx, d.ID, later); err != nil {
		t.Fatalf("TouchDomain() error = %v", err)
	}
	if err := s.domains.TouchDomain(ctx, d.ID, later.Add(-2*time.Hour)); err != nil {
		t.Fatalf("TouchDomain() error = %v", err)
	}
	got, err := s.domains.GetDomainByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDomainByID() error = %v", err)
	}
	if !got.LastUsedAt.Equal(later) {
		t.Fatalf("expected last_used_at %s, got %s", later, got.LastUsedAt)
	}
}
