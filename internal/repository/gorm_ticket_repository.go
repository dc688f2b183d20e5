package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/guildkit/guild-tickets/internal/domain"
)

type gormTicketRepository struct {
	db *gorm.DB
}

// NewGormTicketRepository builds the embedded (gorm) ticket store.
func NewGormTicketRepository(db *gorm.DB) TicketRepository {
	return &gormTicketRepository{db: db}
}

func (r *gormTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	record := newTicketRecord(ticket)
	err := r.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err) {
		return duplicateChannelError(ticket.ChannelID)
	}
	return err
}

func (r *gormTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.getByID(r.db.WithContext(ctx), id)
}

func (r *gormTicketRepository) getByID(db *gorm.DB, id string) (*domain.Ticket, error) {
	var record ticketRecord
	err := db.Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ticketNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

func (r *gormTicketRepository) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	var record ticketRecord
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("CASE WHEN status = 'OPEN' THEN 0 ELSE 1 END").
		Order("created_at DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ticketNotFoundForChannel(channelID)
	}
	if err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

func (r *gormTicketRepository) CompareAndSwapClaimant(ctx context.Context, id string, expected, next *string) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&ticketRecord{}).Where("id = ? AND status = ?", id, string(domain.TicketStatusOpen))
		if expected == nil {
			query = query.Where("claimed_by IS NULL")
		} else {
			query = query.Where("claimed_by = ?", *expected)
		}

		var value any = gorm.Expr("NULL")
		if next != nil {
			value = *next
		}
		res := query.Update("claimed_by", value)
		if res.Error != nil {
			return res.Error
		}

		current, err := r.getByID(tx, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return claimantMiss(current)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *gormTicketRepository) Close(ctx context.Context, id string, closedAt time.Time, transcriptURL string) (*domain.Ticket, error) {
	var closed *domain.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ticketRecord{}).
			Where("id = ? AND status = ?", id, string(domain.TicketStatusOpen)).
			Updates(map[string]any{
				"status":         string(domain.TicketStatusClosed),
				"closed_at":      toMicros(closedAt),
				"transcript_url": transcriptURL,
			})
		if res.Error != nil {
			return res.Error
		}

		current, err := r.getByID(tx, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return ticketClosed(id)
		}
		closed = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (r *gormTicketRepository) ListOpenByGuild(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	var records []ticketRecord
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND status = ?", guildID, string(domain.TicketStatusOpen)).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Ticket, 0, len(records))
	for _, record := range records {
		result = append(result, *record.toDomain())
	}
	return result, nil
}
