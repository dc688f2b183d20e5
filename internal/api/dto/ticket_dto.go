package dto

import (
	"time"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// OpenTicketRequest payload.
type OpenTicketRequest struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	TypeID    string `json:"type_id"`
}

// CloseTicketRequest payload. An empty transcript URL is produced server-side.
type CloseTicketRequest struct {
	TranscriptURL string `json:"transcript_url"`
}

// TicketResponse represents a ticket.
type TicketResponse struct {
	ID            string              `json:"id"`
	GuildID       string              `json:"guild_id"`
	ChannelID     string              `json:"channel_id"`
	UserID        string              `json:"user_id"`
	TypeID        string              `json:"type_id"`
	Status        domain.TicketStatus `json:"status"`
	State         domain.TicketState  `json:"state"`
	ClaimedBy     *string             `json:"claimed_by"`
	CreatedAt     time.Time           `json:"created_at"`
	ClosedAt      *time.Time          `json:"closed_at"`
	TranscriptURL *string             `json:"transcript_url"`
}

// Warning reports a committed operation whose side effect was lost.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
