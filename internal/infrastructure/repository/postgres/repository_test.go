package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

var topicColumns = []string{"id", "domain_id", "name", "first_researched_at", "last_mentioned_at", "summary", "sources", "tags"}

func TestCreateDomainMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDomainRepository(db)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO research_domains").
		WithArgs("d-2", "Crypto", "crypto", "", []byte(`["btc"]`), now, now).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := repo.CreateDomain(context.Background(), &domain.Domain{ID: "d-2", Name: "Crypto", Keywords: []string{"btc"}, CreatedAt: now, LastUsedAt: now}, "crypto")
	if !domain.IsKind(err, domain.ErrDuplicateDomain) {
		t.Fatalf("expected ErrDuplicateDomain, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetDomainByIDReturnsUnknownDomain(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDomainRepository(db)

	mock.ExpectQuery("SELECT id, name, description, keywords").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetDomainByID(context.Background(), "missing"); !domain.IsKind(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestListDomainsIncludesTopicCounts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDomainRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "name", "description", "keywords", "created_at", "last_used_at", "count"}).
		AddRow("d-1", "ai-ml", "AI", []byte(`["LLM"]`), now, now, 3).
		AddRow("d-2", "web3", "", []byte(`[]`), now, now, 0)
	mock.ExpectQuery("FROM research_domains d").WillReturnRows(rows)

	domains, err := repo.ListDomains(context.Background())
	if err != nil {
		t.Fatalf("ListDomains() error = %v", err)
	}
	if len(domains) != 2 || domains[0].TopicCount != 3 || domains[0].Keywords[0] != "LLM" {
		t.Fatalf("unexpected domains %+v", domains)
	}
	expectationsMet(t, mock)
}

func TestTouchDomainReturnsUnknownDomainWhenNoRowsAffected(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDomainRepository(db)

	mock.ExpectExec("UPDATE research_domains").
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.TouchDomain(context.Background(), "missing", time.Now()); !domain.IsKind(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestDeleteDomainRefusesWithoutCascade(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDomainRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM research_domains").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	if _, err := repo.DeleteDomain(context.Background(), "d-1", false); !domain.IsKind(err, domain.ErrDomainInUse) {
		t.Fatalf("expected ErrDomainInUse, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestDeleteDomainCascadeRemovesTopicsFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDomainRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM research_domains").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("DELETE FROM research_topics").WithArgs("d-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM research_domains").WithArgs("d-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := repo.DeleteDomain(context.Background(), "d-1", true)
	if err != nil {
		t.Fatalf("DeleteDomain() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed topics, got %d", removed)
	}
	expectationsMet(t, mock)
}

func TestApplyTopicInsertsNewTopicAndTouchesDomain(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM research_domains").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectQuery("SELECT id, domain_id, name").
		WithArgs("d-1", "llama 4").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO research_topics").
		WithArgs("t-1", "d-1", "Llama 4", "llama 4", now, now, "release", []byte(`["https://a"]`), []byte(`["model"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE research_domains").
		WithArgs("d-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var sawCurrent bool
	topic, err := repo.ApplyTopic(context.Background(), "d-1", "llama 4", now, func(current *domain.Topic) (domain.Topic, error) {
		sawCurrent = current != nil
		return domain.Topic{
			ID: "t-1", Name: "Llama 4", FirstResearchedAt: now, LastMentionedAt: now,
			Summary: "release", Sources: []string{"https://a"}, Tags: []string{"model"},
		}, nil
	})
	if err != nil {
		t.Fatalf("ApplyTopic() error = %v", err)
	}
	if sawCurrent {
		t.Fatalf("expected mutate to see no current topic")
	}
	if topic.DomainID != "d-1" {
		t.Fatalf("expected domain id to be set, got %+v", topic)
	}
	expectationsMet(t, mock)
}

func TestApplyTopicUpdatesExistingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := first.Add(48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM research_domains").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectQuery("SELECT id, domain_id, name").
		WithArgs("d-1", "dao").
		WillReturnRows(sqlmock.NewRows(topicColumns).AddRow("t-1", "d-1", "DAO", first, first, "old", []byte(`["a"]`), []byte(`[]`)))
	mock.ExpectExec("UPDATE research_topics").
		WithArgs("t-1", now, "new", []byte(`["a","b"]`), []byte(`["governance"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE research_domains").
		WithArgs("d-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.ApplyTopic(context.Background(), "d-1", "dao", now, func(current *domain.Topic) (domain.Topic, error) {
		if current == nil || current.Summary != "old" || !current.FirstResearchedAt.Equal(first) {
			t.Fatalf("unexpected current topic %+v", current)
		}
		next := *current
		next.LastMentionedAt = now
		next.Summary = "new"
		next.Sources = []string{"a", "b"}
		next.Tags = []string{"governance"}
		return next, nil
	})
	if err != nil {
		t.Fatalf("ApplyTopic() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestApplyTopicMapsInsertRaceToConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM research_domains").
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectQuery("SELECT id, domain_id, name").
		WithArgs("d-1", "x").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO research_topics").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "research_topics_domain_name_key"})
	mock.ExpectRollback()

	_, err := repo.ApplyTopic(context.Background(), "d-1", "x", now, func(*domain.Topic) (domain.Topic, error) {
		return domain.Topic{ID: "t-x", Name: "x", FirstResearchedAt: now, LastMentionedAt: now}, nil
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestApplyTopicRejectsUnknownDomain(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM research_domains").
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	_, err := repo.ApplyTopic(context.Background(), "gone", "x", time.Now(), func(*domain.Topic) (domain.Topic, error) {
		called = true
		return domain.Topic{}, nil
	})
	if !domain.IsKind(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
	if called {
		t.Fatalf("mutate must not run for a missing domain")
	}
	expectationsMet(t, mock)
}

func TestSearchTopicsEscapesPatternAndPassesTags(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, domain_id, name").
		WithArgs("d-1", "50%", `%50\%%`, `["ai"]`, 5).
		WillReturnRows(sqlmock.NewRows(topicColumns).AddRow("t-1", "d-1", "Discount", now, now, "50% off", []byte(`[]`), []byte(`["ai"]`)))

	topics, err := repo.SearchTopics(context.Background(), "d-1", domain.TopicQuery{Text: "50%", Tags: []string{"ai"}, Limit: 5})
	if err != nil {
		t.Fatalf("SearchTopics() error = %v", err)
	}
	if len(topics) != 1 || topics[0].Tags[0] != "ai" {
		t.Fatalf("unexpected topics %+v", topics)
	}
	expectationsMet(t, mock)
}

func TestStorageFailuresAreReportedAsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)

	mock.ExpectQuery("SELECT id, domain_id, name").
		WithArgs("d-1", 10).
		WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

	_, err := repo.ListRecentTopics(context.Background(), "d-1", 10)
	if !domain.IsKind(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if domain.IsValidation(err) {
		t.Fatalf("storage failures must not look like validation errors")
	}
	expectationsMet(t, mock)
}

func TestDeleteTopicReturnsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTopicRepository(db)

	mock.ExpectExec("DELETE FROM research_topics").
		WithArgs("d-1", "t-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteTopic(context.Background(), "d-1", "t-404"); !domain.IsKind(err, domain.ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}
