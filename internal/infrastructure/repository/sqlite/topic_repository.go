package sqlite

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

// ApplyTopic must only touch tx: the pool holds a single connection and the
// transaction owns it until commit.
func (r *TopicRepository) ApplyTopic(ctx context.Context, domainID, nameKey string, touchedAt time.Time, mutate ports.TopicMutation) (*domain.Topic, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin apply topic", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var foundID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM research_domains WHERE id = ?`, domainID).Scan(&foundID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUnknownDomain, "apply topic", fmt.Errorf("id=%s", domainID))
		}
		return nil, storageError("select domain", err)
	}

	var current *domain.Topic
	existing, err := scanTopic(tx.QueryRowContext(ctx, selectTopicColumns+` WHERE domain_id = ? AND name_key = ?`, domainID, nameKey))
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, next.ID, domainID, next.Name, nameKey, toUnixMicro(next.FirstResearchedAt), toUnixMicro(next.LastMentionedAt), next.Summary, sources, tags)
		if err != nil {
			switch {
			case isUniqueViolation(err):
				return nil, domain.WrapError(domain.ErrConflict, "insert topic", err)
			case isForeignKeyViolation(err):
				return nil, domain.WrapError(domain.ErrUnknownDomain, "insert topic", err)
			}
			return nil, storageError("insert topic", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
UPDATE research_topics
SET last_mentioned_at = ?, summary = ?, sources = ?, tags = ?
WHERE id = ?
`, toUnixMicro(next.LastMentionedAt), next.Summary, sources, tags, current.ID)
		if err != nil {
			return nil, storageError("update topic", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE research_domains SET last_used_at = MAX(last_used_at, ?) WHERE id = ?`, toUnixMicro(touchedAt), domainID); err != nil {
		return nil, storageError("touch domain", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit apply topic", err)
	}
	next.DomainID = domainID
	return &next, nil
}

func (r *TopicRepository) FindTopic(ctx context.Context, domainID, nameKey string) (*domain.Topic, error) {
	topic, err := scanTopic(r.db.QueryRowContext(ctx, selectTopicColumns+` WHERE domain_id = ? AND name_key = ?`, domainID, nameKey))
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
WHERE domain_id = ?
ORDER BY last_mentioned_at DESC, id ASC
LIMIT ?
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
	pattern := containsPattern(query.Text)
	rows, err := r.db.QueryContext(ctx, selectTopicColumns+`
WHERE domain_id = ?
  AND (? = '' OR name LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')
  AND (json_array_length(?) = 0 OR EXISTS (
	SELECT 1 FROM json_each(research_topics.tags) AS t
	WHERE t.value IN (SELECT value FROM json_each(?))
  ))
ORDER BY last_mentioned_at DESC, id ASC
LIMIT ?
`, domainID, query.Text, pattern, pattern, tags, tags, query.Limit)
	if err != nil {
		return nil, storageError("search topics", err)
	}
	return collectTopics(rows)
}

func (r *TopicRepository) DeleteTopic(ctx context.Context, domainID, topicID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM research_topics WHERE domain_id = ? AND id = ?`, domainID, topicID)
	if err != nil {
		return storageError("delete topic", err)
	}
	return requireAffected(res, domain.ErrTopicNotFound, "delete topic", topicID)
}

func (r *TopicRepository) CountTopics(ctx context.Context, domainID string, mentionedSince time.Time) (int, int, error) {
	var total, recent int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN last_mentioned_at >= ? THEN 1 ELSE 0 END), 0)
FROM research_topics
WHERE domain_id = ?
`, toUnixMicro(mentionedSince), domainID).Scan(&total, &recent)
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
		topic               domain.Topic
		firstSeen, lastSeen int64
		sourcesRaw, tagsRaw string
	)
	if err := row.Scan(&topic.ID, &topic.DomainID, &topic.Name, &firstSeen, &lastSeen, &topic.Summary, &sourcesRaw, &tagsRaw); err != nil {
		return nil, err
	}
	var err error
	if topic.Sources, err = decodeList(sourcesRaw); err != nil {
		return nil, err
	}
	if topic.Tags, err = decodeList(tagsRaw); err != nil {
		return nil, err
	}
	topic.FirstResearchedAt = fromUnixMicro(firstSeen)
	topic.LastMentionedAt = fromUnixMicro(lastSeen)
	return &topic, nil
}
