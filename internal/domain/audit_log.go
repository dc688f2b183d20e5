package domain

import (
	"strings"
	"time"
)

// AuditCategory classifies an audit entry. Unknown values collapse into AuditCategoryOther.
type AuditCategory string

const (
	AuditCategorySettingsUpdate AuditCategory = "SETTINGS_UPDATE"
	AuditCategoryFeatureToggle  AuditCategory = "FEATURE_TOGGLE"
	AuditCategoryChannelUpdate  AuditCategory = "CHANNEL_UPDATE"
	AuditCategoryRoleUpdate     AuditCategory = "ROLE_UPDATE"
	AuditCategoryWelcomeUpdate  AuditCategory = "WELCOME_UPDATE"
	AuditCategoryLevelingUpdate AuditCategory = "LEVELING_UPDATE"
	AuditCategoryLanguageChange AuditCategory = "LANGUAGE_CHANGE"
	AuditCategoryPrefixChange   AuditCategory = "PREFIX_CHANGE"
	AuditCategoryTicketUpdate   AuditCategory = "TICKET_UPDATE"
	AuditCategoryOther          AuditCategory = "OTHER"
)

var knownAuditCategories = map[AuditCategory]struct{}{
	AuditCategorySettingsUpdate: {},
	AuditCategoryFeatureToggle:  {},
	AuditCategoryChannelUpdate:  {},
	AuditCategoryRoleUpdate:     {},
	AuditCategoryWelcomeUpdate:  {},
	AuditCategoryLevelingUpdate: {},
	AuditCategoryLanguageChange: {},
	AuditCategoryPrefixChange:   {},
	AuditCategoryTicketUpdate:   {},
	AuditCategoryOther:          {},
}

// ParseAuditCategory normalizes raw input into the closed category set.
func ParseAuditCategory(raw string) AuditCategory {
	normalized := AuditCategory(strings.ToUpper(strings.TrimSpace(raw)))
	normalized = AuditCategory(strings.ReplaceAll(string(normalized), "-", "_"))
	if _, ok := knownAuditCategories[normalized]; ok {
		return normalized
	}
	return AuditCategoryOther
}

// Actor is the display snapshot of whoever performed an action, frozen at write time.
type Actor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// FieldChange is the optional structured detail of an audit entry.
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// AuditLogEntry is an immutable audit trail entry scoped to a guild.
type AuditLogEntry struct {
	ID        string
	GuildID   string
	Actor     Actor
	Category  AuditCategory
	Action    string
	Change    *FieldChange
	CreatedAt time.Time
}
