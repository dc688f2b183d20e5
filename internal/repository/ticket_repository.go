package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildkit/guild-tickets/internal/domain"
)

const ticketColumns = `id, guild_id, channel_id, user_id, type_id, status, claimed_by, created_at, closed_at, transcript_url`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres ticket store.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, guild_id, channel_id, user_id, type_id, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.GuildID,
		ticket.ChannelID,
		ticket.UserID,
		ticket.TypeID,
		ticket.Status,
		ticket.CreatedAt,
	)
	if isUniqueViolation(err) {
		return duplicateChannelError(ticket.ChannelID)
	}
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ticketNotFound(id)
	}
	return ticket, err
}

func (r *ticketRepository) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE channel_id=$1
        ORDER BY (status = 'OPEN') DESC, created_at DESC LIMIT 1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ticketNotFoundForChannel(channelID)
	}
	return ticket, err
}

func (r *ticketRepository) CompareAndSwapClaimant(ctx context.Context, id string, expected, next *string) (*domain.Ticket, error) {
	const query = `
        UPDATE tickets SET claimed_by=$3
        WHERE id=$1 AND status='OPEN' AND claimed_by IS NOT DISTINCT FROM $2
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id, expected, next))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, claimantMiss(current)
	}
	return ticket, err
}

func (r *ticketRepository) Close(ctx context.Context, id string, closedAt time.Time, transcriptURL string) (*domain.Ticket, error) {
	const query = `
        UPDATE tickets SET status='CLOSED', closed_at=$2, transcript_url=$3
        WHERE id=$1 AND status='OPEN'
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id, closedAt, transcriptURL))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ticketClosed(id)
	}
	return ticket, err
}

func (r *ticketRepository) ListOpenByGuild(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets
        WHERE guild_id=$1 AND status='OPEN' ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.GuildID,
		&ticket.ChannelID,
		&ticket.UserID,
		&ticket.TypeID,
		&ticket.Status,
		&ticket.ClaimedBy,
		&ticket.CreatedAt,
		&ticket.ClosedAt,
		&ticket.TranscriptURL,
	); err != nil {
		return nil, err
	}
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	if ticket.ClosedAt != nil {
		closedAt := ticket.ClosedAt.UTC()
		ticket.ClosedAt = &closedAt
	}
	return &ticket, nil
}
