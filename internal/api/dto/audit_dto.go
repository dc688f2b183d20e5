package dto

import (
	"time"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// RecordChangeRequest payload for settings-style audit entries.
type RecordChangeRequest struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// AuditActorResponse is the actor snapshot stored with an entry.
type AuditActorResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// AuditChangeResponse is the optional field diff.
type AuditChangeResponse struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// AuditEntryResponse represents one audit entry.
type AuditEntryResponse struct {
	ID        string               `json:"id"`
	GuildID   string               `json:"guild_id"`
	Actor     AuditActorResponse   `json:"actor"`
	Category  domain.AuditCategory `json:"category"`
	Action    string               `json:"action"`
	Change    *AuditChangeResponse `json:"change,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// AuditPageResponse is a page of entries with the cursor for the next one.
type AuditPageResponse struct {
	Entries    []AuditEntryResponse `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
	HasMore    bool                 `json:"has_more"`
}
