package events

import (
	"time"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketOpened       EventType = "ticket_opened"
	EventTicketClaimed      EventType = "ticket_claimed"
	EventTicketUnclaimed    EventType = "ticket_unclaimed"
	EventTicketClosed       EventType = "ticket_closed"
	EventAuditEntryRecorded EventType = "audit_entry_recorded"
)

// AllEventTypes lists every event the core emits, in lifecycle order.
var AllEventTypes = []EventType{
	EventTicketOpened,
	EventTicketClaimed,
	EventTicketUnclaimed,
	EventTicketClosed,
	EventAuditEntryRecorded,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	GuildID   string       `json:"guild_id"`
	TicketID  string       `json:"ticket_id,omitempty"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	TypeID    string `json:"type_id"`
}

// TicketClaimChangedPayload is shared by claim and unclaim.
type TicketClaimChangedPayload struct {
	PreviousClaimant *string `json:"previous_claimant,omitempty"`
	Claimant         *string `json:"claimant,omitempty"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	ClosedAt      time.Time `json:"closed_at"`
	TranscriptURL string    `json:"transcript_url"`
}

// AuditEntryRecordedPayload payload.
type AuditEntryRecordedPayload struct {
	EntryID  string               `json:"entry_id"`
	Category domain.AuditCategory `json:"category"`
	Action   string               `json:"action"`
}
