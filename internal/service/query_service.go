package service

import (
	"context"
	"strings"

	"github.com/guildkit/guild-tickets/internal/config"
	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/repository"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

// QueryService is the read side used by bot commands and the dashboard. It reads the
// store directly and never mutates it.
type QueryService struct {
	tickets         repository.TicketRepository
	entries         repository.AuditLogRepository
	defaultPageSize int
	maxPageSize     int
}

// QueryDependencies bundles repositories for the query service.
type QueryDependencies struct {
	TicketRepo repository.TicketRepository
	AuditRepo  repository.AuditLogRepository
	Audit      config.AuditConfig
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Entries    []domain.AuditLogEntry
	NextCursor string
	HasMore    bool
}

// NewQueryService constructs the service.
func NewQueryService(deps QueryDependencies) *QueryService {
	defaultSize := deps.Audit.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = 50
	}
	maxSize := deps.Audit.MaxPageSize
	if maxSize < defaultSize {
		maxSize = defaultSize
	}
	return &QueryService{
		tickets:         deps.TicketRepo,
		entries:         deps.AuditRepo,
		defaultPageSize: defaultSize,
		maxPageSize:     maxSize,
	}
}

// ListOpenTickets returns the guild's open tickets, oldest first.
func (s *QueryService) ListOpenTickets(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, apperrors.NewValidationError("guild id is required", nil)
	}
	tickets, err := s.tickets.ListOpenByGuild(ctx, guildID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// GetTicket fetches a ticket within a guild.
func (s *QueryService) GetTicket(ctx context.Context, guildID, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if ticket.GuildID != guildID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// GetTicketByChannel returns the channel's open ticket, or its latest closed one.
func (s *QueryService) GetTicketByChannel(ctx context.Context, guildID, channelID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByChannel(ctx, channelID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if ticket.GuildID != guildID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"channel_id": channelID})
	}
	return ticket, nil
}

// ListAuditEntries pages through a guild's audit log newest first. The cursor is the
// opaque NextCursor of the previous page; paging is keyed on (timestamp, id) so entries
// written mid-pagination never shift pages already returned.
func (s *QueryService) ListAuditEntries(ctx context.Context, guildID, cursor string, limit int) (*AuditPage, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, apperrors.NewValidationError("guild id is required", nil)
	}
	position, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = s.defaultPageSize
	case limit > s.maxPageSize:
		limit = s.maxPageSize
	}

	entries, err := s.entries.List(ctx, repository.AuditLogFilter{
		GuildID: guildID,
		Cursor:  position,
		Limit:   limit + 1,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	page := &AuditPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasMore = true
		last := page.Entries[limit-1]
		page.NextCursor = repository.EncodeCursor(repository.AuditCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}
