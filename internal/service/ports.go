package service

import (
	"context"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// TicketTypeCatalog validates ticket type references before a ticket is opened.
type TicketTypeCatalog interface {
	Exists(ctx context.Context, guildID, typeID string) (bool, error)
}

// IdentityResolver supplies the display snapshot captured on audit entries.
type IdentityResolver interface {
	Resolve(ctx context.Context, guildID, userID string) (domain.Actor, error)
}

// TranscriptProducer returns a durable transcript URL for a ticket about to close.
type TranscriptProducer interface {
	TranscriptURL(ctx context.Context, ticket *domain.Ticket) (string, error)
}
