package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/guildkit/guild-tickets/internal/domain"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite (2067)
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func duplicateChannelError(channelID string) error {
	return apperrors.NewConflict("an open ticket already exists for this channel", map[string]any{"channel_id": channelID})
}

func ticketNotFound(id string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
}

// claimantMiss explains why a conditional claimant write matched no row, given the current row.
func claimantMiss(current *domain.Ticket) error {
	if current.IsClosed() {
		return ticketClosed(current.ID)
	}
	details := map[string]any{"ticket_id": current.ID}
	if current.ClaimedBy != nil {
		details["claimed_by"] = *current.ClaimedBy
	}
	return apperrors.NewConflict("ticket claimant changed", details)
}

func ticketClosed(id string) error {
	return apperrors.NewInvalidState("ticket is already closed", map[string]any{"ticket_id": id})
}

func ticketNotFoundForChannel(channelID string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"channel_id": channelID})
}
