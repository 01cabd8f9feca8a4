package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type TopicRepository struct {
	db *sql.DB
}

func NewTopicRepository(db *sql.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

const selectTopicColumns = `SELECT id, domain_id, name, first_researched_at, last_mentioned_at, summary, sources, tags FROM research_topics`

type rowScanner interface {
	Scan(dest ...any) error
}

// ApplyTopic holds the domain row for the whole read-decide-write cycle.
// FOR NO KEY UPDATE conflicts with the cascade delete's FOR UPDATE and with
// other writers in the same domain, and still lets the touch of last_used_at
// run without a lock upgrade.
func (r *TopicRepository) ApplyTopic(ctx context.Context, domainID, nameKey string, touchedAt time.Time, mutate ports.TopicMutation) (*domain.Topic, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin apply topic", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var lockedID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM research_domains WHERE id = $1 FOR NO KEY UPDATE`, domainID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUnknownDomain, "apply topic", fmt.Errorf("id=%s", domainID))
		}
		return nil, storageError("lock domain", err)
	}

	var current *domain.Topic
	existing, err := scanTopic(tx.QueryRowContext(ctx, selectTopicColumns+` WHERE domain_id = $1 AND name_key = $2 FOR UPDATE`, domainID, nameKey))
	switch {
	case err == nil:
		current = existing
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, storageError("select topic", err)
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	sources, err := encodeList(next.Sources)
	if err != nil {
		return nil, err
	}
	tags, err := encodeList(next.Tags)
	if err != nil {
		return nil, err
	}

	if current == nil {
		_, err = tx.ExecContext(ctx, `
INSERT INTO research_topics (id, domain_id, name, name_key, first_researched_at, last_mentioned_at, summary, sources, tags)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, next.ID, domainID, next.Name, nameKey, next.FirstResearchedAt, next.LastMentionedAt, next.Summary, sources, tags)
		if err != nil {
			switch pgErrorCode(err) {
			case pgUniqueViolation:
				return nil, domain.WrapError(domain.ErrConflict, "insert topic", err)
			case pgForeignKeyViolation:
				return nil, domain.WrapError(domain.ErrUnknownDomain, "insert topic", err)
			}
			return nil, storageError("insert topic", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
UPDATE research_topics
SET last_mentioned_at = $2, summary = $3, sources = $4, tags = $5
WHERE id = $1
`, current.ID, next.LastMentionedAt, next.Summary, sources, tags)
		if err != nil {
			return nil, storageError("update topic", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE research_domains SET last_used_at = GREATEST(last_used_at, $2) WHERE id = $1`, domainID, touchedAt); err != nil {
		return nil, storageError("touch domain", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit apply topic", err)
	}
	next.DomainID = domainID
	return &next, nil
}

func (r *TopicRepository) FindTopic(ctx context.Context, domainID, nameKey string) (*domain.Topic, error) {
	topic, err := scanTopic(r.db.QueryRowContext(ctx, selectTopicColumns+` WHERE domain_id = $1 AND name_key = $2`, domainID, nameKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTopicNotFound, "find topic", fmt.Errorf("name=%s", nameKey))
		}
		return nil, storageError("find topic", err)
	}
	return topic, nil
}

func (r *TopicRepository) ListRecentTopics(ctx context.Context, domainID string, limit int) ([]domain.Topic, error) {
	rows, err := r.db.QueryContext(ctx, selectTopicColumns+`
WHERE domain_id = $1
ORDER BY last_mentioned_at DESC, id ASC
LIMIT $2
`, domainID, limit)
	if err != nil {
		return nil, storageError("list recent topics", err)
	}
	return collectTopics(rows)
}

func (r *TopicRepository) SearchTopics(ctx context.Context, domainID string, query domain.TopicQuery) ([]domain.Topic, error) {
	tags, err := encodeList(query.Tags)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, selectTopicColumns+`
WHERE domain_id = $1
  AND ($2 = '' OR name ILIKE $3 OR summary ILIKE $3)
  AND (jsonb_array_length($4::jsonb) = 0 OR tags ?| ARRAY(SELECT jsonb_array_elements_text($4::jsonb)))
ORDER BY last_mentioned_at DESC, id ASC
LIMIT $5
`, domainID, query.Text, containsPattern(query.Text), string(tags), query.Limit)
	if err != nil {
		return nil, storageError("search topics", err)
	}
	return collectTopics(rows)
}

func (r *TopicRepository) DeleteTopic(ctx context.Context, domainID, topicID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM research_topics WHERE domain_id = $1 AND id = $2`, domainID, topicID)
	if err != nil {
		return storageError("delete topic", err)
	}
	return requireAffected(res, domain.ErrTopicNotFound, "delete topic", topicID)
}

func (r *TopicRepository) CountTopics(ctx context.Context, domainID string, mentionedSince time.Time) (int, int, error) {
	var total, recent int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE last_mentioned_at >= $2)
FROM research_topics
WHERE domain_id = $1
`, domainID, mentionedSince).Scan(&total, &recent)
	if err != nil {
		return 0, 0, storageError("count topics", err)
	}
	return total, recent, nil
}

func collectTopics(rows *sql.Rows) ([]domain.Topic, error) {
	defer rows.Close()
	out := make([]domain.Topic, 0)
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, storageError("scan topic", err)
		}
		out = append(out, *topic)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate topics", err)
	}
	return out, nil
}

func scanTopic(row rowScanner) (*domain.Topic, error) {
	var (
		topic      domain.Topic
		sourcesRaw []byte
		tagsRaw    []byte
	)
	if err := row.Scan(&topic.ID, &topic.DomainID, &topic.Name, &topic.FirstResearchedAt, &topic.LastMentionedAt, &topic.Summary, &sourcesRaw, &tagsRaw); err != nil {
		return nil, err
	}
	var err error
	if topic.Sources, err = decodeList(sourcesRaw); err != nil {
		return nil, err
	}
	if topic.Tags, err = decodeList(tagsRaw); err != nil {
		return nil, err
	}
	topic.FirstResearchedAt = topic.FirstResearchedAt.UTC()
	topic.LastMentionedAt = topic.LastMentionedAt.UTC()
	return &topic, nil
}
