package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/guildkit/guild-tickets/internal/api/dto"
	"github.com/guildkit/guild-tickets/internal/auth"
	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/service"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

// TicketsHandler exposes the ticket lifecycle and ticket reads for a guild.
type TicketsHandler struct {
	tickets *service.TicketService
	queries *service.QueryService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, queries *service.QueryService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, queries: queries}
}

// OpenTicket POST /guilds/:guildID/tickets. The requesting user defaults to the caller.
func (h *TicketsHandler) OpenTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.OpenTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	userID := req.UserID
	if userID == "" {
		userID = principal.Actor.UserID
	}
	ticket, err := h.tickets.Open(c.UserContext(), service.OpenTicketInput{
		GuildID:   c.Params("guildID"),
		ChannelID: req.ChannelID,
		UserID:    userID,
		TypeID:    req.TypeID,
	})
	return respondTicket(c, http.StatusCreated, ticket, err)
}

// ListOpenTickets GET /guilds/:guildID/tickets.
func (h *TicketsHandler) ListOpenTickets(c *fiber.Ctx) error {
	tickets, err := h.queries.ListOpenTickets(c.UserContext(), c.Params("guildID"))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /guilds/:guildID/tickets/:ticketID.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.queries.GetTicket(c.UserContext(), c.Params("guildID"), c.Params("ticketID"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetChannelTicket GET /guilds/:guildID/channels/:channelID/ticket.
func (h *TicketsHandler) GetChannelTicket(c *fiber.Ctx) error {
	ticket, err := h.queries.GetTicketByChannel(c.UserContext(), c.Params("guildID"), c.Params("channelID"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ClaimTicket POST /guilds/:guildID/tickets/:ticketID/claim.
func (h *TicketsHandler) ClaimTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.tickets.Claim(c.UserContext(), c.Params("guildID"), c.Params("ticketID"), principal.Actor.UserID)
	return respondTicket(c, http.StatusOK, ticket, err)
}

// UnclaimTicket POST /guilds/:guildID/tickets/:ticketID/unclaim.
func (h *TicketsHandler) UnclaimTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := h.tickets.Unclaim(c.UserContext(), c.Params("guildID"), c.Params("ticketID"), principal.Actor.UserID)
	return respondTicket(c, http.StatusOK, ticket, err)
}

// CloseTicket POST /guilds/:guildID/tickets/:ticketID/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.tickets.Close(c.UserContext(), c.Params("guildID"), c.Params("ticketID"), principal.Actor.UserID, req.TranscriptURL)
	return respondTicket(c, http.StatusOK, ticket, err)
}

func respondTicket(c *fiber.Ctx, status int, ticket *domain.Ticket, err error) error {
	if ticket == nil {
		if err == nil {
			err = apperrors.NewInternalError(errors.New("operation returned no ticket"))
		}
		return err
	}
	body := fiber.Map{"data": ticketResponse(ticket)}
	if warnings := degradedWarnings(err); len(warnings) > 0 {
		body["warnings"] = warnings
	} else if err != nil {
		return err
	}
	return c.Status(status).JSON(body)
}

// degradedWarnings renders an AUDIT_WRITE_FAILED outcome as response warnings.
func degradedWarnings(err error) []dto.Warning {
	if !apperrors.IsDegraded(err) {
		return nil
	}
	domainErr := apperrors.ToDomainError(err)
	return []dto.Warning{{
		Code:    domainErr.Code,
		Message: domainErr.Message,
		Details: domainErr.Details,
	}}
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:            ticket.ID,
		GuildID:       ticket.GuildID,
		ChannelID:     ticket.ChannelID,
		UserID:        ticket.UserID,
		TypeID:        ticket.TypeID,
		Status:        ticket.Status,
		State:         ticket.State(),
		ClaimedBy:     ticket.ClaimedBy,
		CreatedAt:     ticket.CreatedAt,
		ClosedAt:      ticket.ClosedAt,
		TranscriptURL: ticket.TranscriptURL,
	}
}
