package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildkit/guild-tickets/internal/domain"
)

const auditColumns = `id, guild_id, actor_id, actor_username, actor_avatar, category, action, field, old_value, new_value, created_at`

type auditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository builds the Postgres audit store.
func NewAuditLogRepository(pool *pgxpool.Pool) AuditLogRepository {
	return &auditLogRepository{pool: pool}
}

func (r *auditLogRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	const query = `
        INSERT INTO audit_log_entries (` + auditColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	field, oldValue, newValue, err := encodeChange(entry.Change)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.GuildID,
		entry.Actor.UserID,
		entry.Actor.Username,
		entry.Actor.Avatar,
		entry.Category,
		entry.Action,
		field,
		oldValue,
		newValue,
		entry.CreatedAt,
	)
	return err
}

func (r *auditLogRepository) List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLogEntry, error) {
	args := []any{filter.GuildID}
	query := `SELECT ` + auditColumns + ` FROM audit_log_entries WHERE guild_id=$1`
	if filter.Cursor != nil {
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		query += ` AND (created_at, id) < ($2, $3)`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.AuditLogEntry{}
	for rows.Next() {
		var (
			entry    domain.AuditLogEntry
			field    *string
			oldValue []byte
			newValue []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.GuildID,
			&entry.Actor.UserID,
			&entry.Actor.Username,
			&entry.Actor.Avatar,
			&entry.Category,
			&entry.Action,
			&field,
			&oldValue,
			&newValue,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		change, err := decodeChange(field, oldValue, newValue)
		if err != nil {
			return nil, err
		}
		entry.Change = change
		result = append(result, entry)
	}
	return result, rows.Err()
}

// encodeChange splits a field change into nullable column values with JSON-encoded payloads.
func encodeChange(change *domain.FieldChange) (*string, []byte, []byte, error) {
	if change == nil {
		return nil, nil, nil, nil
	}
	oldValue, err := json.Marshal(change.OldValue)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode old value: %w", err)
	}
	newValue, err := json.Marshal(change.NewValue)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode new value: %w", err)
	}
	field := change.Field
	return &field, oldValue, newValue, nil
}

func decodeChange(field *string, oldValue, newValue []byte) (*domain.FieldChange, error) {
	if field == nil {
		return nil, nil
	}
	change := &domain.FieldChange{Field: *field}
	if len(oldValue) > 0 {
		if err := json.Unmarshal(oldValue, &change.OldValue); err != nil {
			return nil, fmt.Errorf("decode old value: %w", err)
		}
	}
	if len(newValue) > 0 {
		if err := json.Unmarshal(newValue, &change.NewValue); err != nil {
			return nil, fmt.Errorf("decode new value: %w", err)
		}
	}
	return change, nil
}
