package repository

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

type cursorToken struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// EncodeCursor renders an opaque page token for the given position.
func EncodeCursor(c AuditCursor) string {
	b, err := json.Marshal(cursorToken{ID: c.ID, CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields nil.
func DecodeCursor(token string) (*AuditCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	invalid := apperrors.NewValidationError("invalid cursor", map[string]any{"cursor": token})

	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid
	}
	var decoded cursorToken
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, invalid
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil || strings.TrimSpace(decoded.ID) == "" {
		return nil, invalid
	}
	return &AuditCursor{CreatedAt: createdAt.UTC(), ID: decoded.ID}, nil
}
