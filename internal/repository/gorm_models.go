package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// Timestamps are stored as unix microseconds so ordering and cursors compare numerically.
type ticketRecord struct {
	ID            string  `gorm:"primaryKey;type:text"`
	GuildID       string  `gorm:"type:text;not null;index:idx_tickets_guild_status,priority:1"`
	ChannelID     string  `gorm:"type:text;not null;index"`
	UserID        string  `gorm:"type:text;not null"`
	TypeID        string  `gorm:"type:text;not null"`
	Status        string  `gorm:"type:text;not null;index:idx_tickets_guild_status,priority:2"`
	ClaimedBy     *string `gorm:"type:text"`
	CreatedMicros int64   `gorm:"column:created_at;not null"`
	ClosedMicros  *int64  `gorm:"column:closed_at"`
	TranscriptURL *string `gorm:"type:text"`
}

func (ticketRecord) TableName() string { return "tickets" }

type auditLogRecord struct {
	ID            string  `gorm:"primaryKey;type:text"`
	GuildID       string  `gorm:"type:text;not null;index:idx_audit_guild_created,priority:1"`
	ActorID       string  `gorm:"type:text;not null"`
	ActorUsername string  `gorm:"type:text;not null"`
	ActorAvatar   string  `gorm:"type:text;not null"`
	Category      string  `gorm:"type:text;not null"`
	Action        string  `gorm:"type:text;not null"`
	Field         *string `gorm:"type:text"`
	OldValue      *string `gorm:"type:text"`
	NewValue      *string `gorm:"type:text"`
	CreatedMicros int64   `gorm:"column:created_at;not null;index:idx_audit_guild_created,priority:2"`
}

func (auditLogRecord) TableName() string { return "audit_log_entries" }

// AutoMigrate creates the embedded store schema, including the open-channel partial unique index.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&ticketRecord{}, &auditLogRecord{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	const openChannelIndex = `CREATE UNIQUE INDEX IF NOT EXISTS tickets_open_channel_uidx ON tickets (channel_id) WHERE status = 'OPEN'`
	if err := db.WithContext(ctx).Exec(openChannelIndex).Error; err != nil {
		return fmt.Errorf("create open channel index: %w", err)
	}
	return nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func newTicketRecord(t *domain.Ticket) ticketRecord {
	return ticketRecord{
		ID:            t.ID,
		GuildID:       t.GuildID,
		ChannelID:     t.ChannelID,
		UserID:        t.UserID,
		TypeID:        t.TypeID,
		Status:        string(t.Status),
		ClaimedBy:     t.ClaimedBy,
		CreatedMicros: toMicros(t.CreatedAt),
	}
}

func (r ticketRecord) toDomain() *domain.Ticket {
	ticket := &domain.Ticket{
		ID:            r.ID,
		GuildID:       r.GuildID,
		ChannelID:     r.ChannelID,
		UserID:        r.UserID,
		TypeID:        r.TypeID,
		Status:        domain.TicketStatus(r.Status),
		ClaimedBy:     r.ClaimedBy,
		CreatedAt:     fromMicros(r.CreatedMicros),
		TranscriptURL: r.TranscriptURL,
	}
	if r.ClosedMicros != nil {
		closedAt := fromMicros(*r.ClosedMicros)
		ticket.ClosedAt = &closedAt
	}
	return ticket
}

func newAuditLogRecord(e *domain.AuditLogEntry) (auditLogRecord, error) {
	field, oldValue, newValue, err := encodeChange(e.Change)
	if err != nil {
		return auditLogRecord{}, err
	}
	return auditLogRecord{
		ID:            e.ID,
		GuildID:       e.GuildID,
		ActorID:       e.Actor.UserID,
		ActorUsername: e.Actor.Username,
		ActorAvatar:   e.Actor.Avatar,
		Category:      string(e.Category),
		Action:        e.Action,
		Field:         field,
		OldValue:      textPayload(oldValue),
		NewValue:      textPayload(newValue),
		CreatedMicros: toMicros(e.CreatedAt),
	}, nil
}

func (r auditLogRecord) toDomain() (domain.AuditLogEntry, error) {
	change, err := decodeChange(r.Field, bytePayload(r.OldValue), bytePayload(r.NewValue))
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	return domain.AuditLogEntry{
		ID:      r.ID,
		GuildID: r.GuildID,
		Actor: domain.Actor{
			UserID:   r.ActorID,
			Username: r.ActorUsername,
			Avatar:   r.ActorAvatar,
		},
		Category:  domain.AuditCategory(r.Category),
		Action:    r.Action,
		Change:    change,
		CreatedAt: fromMicros(r.CreatedMicros),
	}, nil
}

func textPayload(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

func bytePayload(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}
