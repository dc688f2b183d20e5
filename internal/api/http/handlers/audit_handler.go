package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/guildkit/guild-tickets/internal/api/dto"
	"github.com/guildkit/guild-tickets/internal/auth"
	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/service"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

// AuditHandler exposes a guild's audit log.
type AuditHandler struct {
	recorder *service.AuditRecorder
	queries  *service.QueryService
}

// NewAuditHandler constructs handler.
func NewAuditHandler(recorder *service.AuditRecorder, queries *service.QueryService) *AuditHandler {
	return &AuditHandler{recorder: recorder, queries: queries}
}

// ListEntries GET /guilds/:guildID/audit-log?cursor=&limit=.
func (h *AuditHandler) ListEntries(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return apperrors.NewValidationError("limit must be a non-negative integer", map[string]any{"limit": raw})
		}
		limit = parsed
	}
	page, err := h.queries.ListAuditEntries(c.UserContext(), c.Params("guildID"), c.Query("cursor"), limit)
	if err != nil {
		return err
	}
	entries := make([]dto.AuditEntryResponse, 0, len(page.Entries))
	for i := range page.Entries {
		entries = append(entries, auditEntryResponse(&page.Entries[i]))
	}
	return c.JSON(fiber.Map{"data": dto.AuditPageResponse{
		Entries:    entries,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}})
}

// RecordChange POST /guilds/:guildID/audit-log. The caller is the actor.
func (h *AuditHandler) RecordChange(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.RecordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	entry, err := h.recorder.RecordChange(c.UserContext(), c.Params("guildID"), principal.Actor.UserID,
		req.Category, req.Action, req.Field, req.OldValue, req.NewValue)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": auditEntryResponse(entry)})
}

func auditEntryResponse(entry *domain.AuditLogEntry) dto.AuditEntryResponse {
	resp := dto.AuditEntryResponse{
		ID:      entry.ID,
		GuildID: entry.GuildID,
		Actor: dto.AuditActorResponse{
			UserID:   entry.Actor.UserID,
			Username: entry.Actor.Username,
			Avatar:   entry.Actor.Avatar,
		},
		Category:  entry.Category,
		Action:    entry.Action,
		CreatedAt: entry.CreatedAt,
	}
	if entry.Change != nil {
		resp.Change = &dto.AuditChangeResponse{
			Field:    entry.Change.Field,
			OldValue: entry.Change.OldValue,
			NewValue: entry.Change.NewValue,
		}
	}
	return resp
}
