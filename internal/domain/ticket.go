package domain

import "time"

// TicketStatus enumerates persisted lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusClosed TicketStatus = "CLOSED"
)

// TicketState is the lifecycle state derived from status and claimant.
type TicketState string

const (
	TicketStateOpenUnclaimed TicketState = "OPEN_UNCLAIMED"
	TicketStateOpenClaimed   TicketState = "OPEN_CLAIMED"
	TicketStateClosed        TicketState = "CLOSED"
)

// Ticket is a support request bound to a single guild channel.
type Ticket struct {
	ID            string
	GuildID       string
	ChannelID     string
	UserID        string
	TypeID        string
	Status        TicketStatus
	ClaimedBy     *string
	CreatedAt     time.Time
	ClosedAt      *time.Time
	TranscriptURL *string
}

// State derives the lifecycle state.
func (t *Ticket) State() TicketState {
	switch {
	case t.Status == TicketStatusClosed:
		return TicketStateClosed
	case t.ClaimedBy != nil:
		return TicketStateOpenClaimed
	default:
		return TicketStateOpenUnclaimed
	}
}

// IsClosed reports whether the ticket reached its terminal state.
func (t *Ticket) IsClosed() bool {
	return t.Status == TicketStatusClosed
}

// IsClaimedBy reports whether userID currently holds the claim.
func (t *Ticket) IsClaimedBy(userID string) bool {
	return t.ClaimedBy != nil && *t.ClaimedBy == userID
}
