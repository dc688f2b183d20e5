package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/guildkit/guild-tickets/internal/domain"
)

type gormAuditLogRepository struct {
	db *gorm.DB
}

// NewGormAuditLogRepository builds the embedded (gorm) audit store.
func NewGormAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &gormAuditLogRepository{db: db}
}

func (r *gormAuditLogRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	record, err := newAuditLogRecord(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *gormAuditLogRepository) List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLogEntry, error) {
	query := r.db.WithContext(ctx).Where("guild_id = ?", filter.GuildID)
	if filter.Cursor != nil {
		at := toMicros(filter.Cursor.CreatedAt)
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", at, at, filter.Cursor.ID)
	}
	query = query.Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []auditLogRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditLogEntry, 0, len(records))
	for _, record := range records {
		entry, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}
