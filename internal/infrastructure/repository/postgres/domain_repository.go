package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type DomainRepository struct {
	db *sql.DB
}

func NewDomainRepository(db *sql.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

func (r *DomainRepository) CreateDomain(ctx context.Context, d *domain.Domain, nameKey string) error {
	keywords, err := encodeList(d.Keywords)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO research_domains (id, name, name_key, description, keywords, created_at, last_used_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, d.ID, d.Name, nameKey, d.Description, keywords, d.CreatedAt, d.LastUsedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.WrapError(domain.ErrDuplicateDomain, "insert domain", fmt.Errorf("name %q: %w", d.Name, err))
		}
		return storageError("insert domain", err)
	}
	return nil
}

const selectDomainColumns = `SELECT id, name, description, keywords, created_at, last_used_at FROM research_domains`

func (r *DomainRepository) GetDomainByID(ctx context.Context, id string) (*domain.Domain, error) {
	row := r.db.QueryRowContext(ctx, selectDomainColumns+` WHERE id = $1`, id)
	d, err := scanDomain(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUnknownDomain, "get domain", fmt.Errorf("id=%s", id))
		}
		return nil, storageError("get domain", err)
	}
	return d, nil
}

func (r *DomainRepository) GetDomainByKey(ctx context.Context, nameKey string) (*domain.Domain, error) {
	row := r.db.QueryRowContext(ctx, selectDomainColumns+` WHERE name_key = $1`, nameKey)
	d, err := scanDomain(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUnknownDomain, "get domain", fmt.Errorf("name=%s", nameKey))
		}
		return nil, storageError("get domain", err)
	}
	return d, nil
}

func (r *DomainRepository) ListDomains(ctx context.Context) ([]domain.DomainWithCount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT d.id, d.name, d.description, d.keywords, d.created_at, d.last_used_at, COUNT(t.id)
FROM research_domains d
LEFT JOIN research_topics t ON t.domain_id = d.id
GROUP BY d.id
ORDER BY d.last_used_at DESC, d.name_key ASC
`)
	if err != nil {
		return nil, storageError("list domains", err)
	}
	defer rows.Close()

	out := make([]domain.DomainWithCount, 0)
	for rows.Next() {
		var (
			item        domain.DomainWithCount
			keywordsRaw []byte
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &keywordsRaw, &item.CreatedAt, &item.LastUsedAt, &item.TopicCount); err != nil {
			return nil, storageError("scan domain", err)
		}
		if item.Keywords, err = decodeList(keywordsRaw); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		item.LastUsedAt = item.LastUsedAt.UTC()
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate domains", err)
	}
	return out, nil
}

func (r *DomainRepository) TouchDomain(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE research_domains
SET last_used_at = GREATEST(last_used_at, $2)
WHERE id = $1
`, id, at)
	if err != nil {
		return storageError("touch domain", err)
	}
	return requireAffected(res, domain.ErrUnknownDomain, "touch domain", id)
}

func (r *DomainRepository) UpdateKeywords(ctx context.Context, id string, keywords []string) error {
	raw, err := encodeList(keywords)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE research_domains SET keywords = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return storageError("update keywords", err)
	}
	return requireAffected(res, domain.ErrUnknownDomain, "update keywords", id)
}

// DeleteDomain locks the domain row so in-flight findings either commit
// before the delete or observe the domain as gone.
func (r *DomainRepository) DeleteDomain(ctx context.Context, id string, cascade bool) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("begin delete domain", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var lockedID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM research_domains WHERE id = $1 FOR UPDATE`, id).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.WrapError(domain.ErrUnknownDomain, "delete domain", fmt.Errorf("id=%s", id))
		}
		return 0, storageError("lock domain", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM research_topics WHERE domain_id = $1`, id).Scan(&count); err != nil {
		return 0, storageError("count topics", err)
	}
	if count > 0 && !cascade {
		return 0, domain.WrapError(domain.ErrDomainInUse, "delete domain", fmt.Errorf("%d topics reference %s", count, id))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM research_topics WHERE domain_id = $1`, id); err != nil {
		return 0, storageError("delete topics", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM research_domains WHERE id = $1`, id); err != nil {
		return 0, storageError("delete domain", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageError("commit delete domain", err)
	}
	return count, nil
}

func scanDomain(row *sql.Row) (*domain.Domain, error) {
	var (
		d           domain.Domain
		keywordsRaw []byte
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &keywordsRaw, &d.CreatedAt, &d.LastUsedAt); err != nil {
		return nil, err
	}
	keywords, err := decodeList(keywordsRaw)
	if err != nil {
		return nil, err
	}
	d.Keywords = keywords
	d.CreatedAt = d.CreatedAt.UTC()
	d.LastUsedAt = d.LastUsedAt.UTC()
	return &d, nil
}

func requireAffected(res sql.Result, kind error, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError(op+" rows affected", err)
	}
	if affected == 0 {
		return domain.WrapError(kind, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
