package repository

import (
	"context"
	"time"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// TicketRepository is the ticket half of the record store. Conditional writes report
// CONFLICT, NOT_FOUND or INVALID_STATE domain errors rather than raw driver errors.
type TicketRepository interface {
	// Create inserts an OPEN ticket; CONFLICT when the channel already has one open.
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// GetByChannel returns the open ticket for the channel, else its most recent closed one.
	GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	// CompareAndSwapClaimant sets claimed_by to next only while it still equals expected.
	CompareAndSwapClaimant(ctx context.Context, id string, expected, next *string) (*domain.Ticket, error)
	// Close moves an OPEN ticket to CLOSED; INVALID_STATE if it is already closed.
	Close(ctx context.Context, id string, closedAt time.Time, transcriptURL string) (*domain.Ticket, error)
	ListOpenByGuild(ctx context.Context, guildID string) ([]domain.Ticket, error)
}

// AuditLogRepository is the append-only audit half of the record store.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *domain.AuditLogEntry) error
	// List returns entries newest first, strictly older than the cursor when one is given.
	List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLogEntry, error)
}

// AuditCursor is the keyset position of the last entry a caller has seen.
type AuditCursor struct {
	CreatedAt time.Time
	ID        string
}

// AuditLogFilter scopes an audit listing.
type AuditLogFilter struct {
	GuildID string
	Cursor  *AuditCursor
	Limit   int
}
