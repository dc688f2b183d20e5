package transcript

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/guildkit/guild-tickets/internal/domain"
)

// URLProducer derives a ticket's transcript location from a base URL. Rendering and
// storing the transcript happen elsewhere.
type URLProducer struct {
	base string
}

// NewURLProducer returns nil when base is empty.
func NewURLProducer(base string) *URLProducer {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil
	}
	return &URLProducer{base: base}
}

// TranscriptURL returns {base}/{guild id}/{ticket id}.
func (p *URLProducer) TranscriptURL(_ context.Context, ticket *domain.Ticket) (string, error) {
	if p == nil {
		return "", nil
	}
	if ticket == nil || ticket.ID == "" {
		return "", errors.New("transcript: ticket id is required")
	}
	return url.JoinPath(p.base, ticket.GuildID, ticket.ID)
}
