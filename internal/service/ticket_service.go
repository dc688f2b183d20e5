package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/clock"
	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/events"
	"github.com/guildkit/guild-tickets/internal/observability"
	"github.com/guildkit/guild-tickets/internal/repository"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

// Lifecycle operation names used in metrics and logs.
const (
	OperationOpen    = "open"
	OperationClaim   = "claim"
	OperationUnclaim = "unclaim"
	OperationClose   = "close"
)

// TicketService enforces the ticket state machine. It holds no ticket state itself;
// exclusivity comes from the store's conditional writes.
type TicketService struct {
	tickets     repository.TicketRepository
	catalog     TicketTypeCatalog
	transcripts TranscriptProducer
	recorder    *AuditRecorder
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	clock       clock.Clock
	logger      *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	Catalog     TicketTypeCatalog
	Transcripts TranscriptProducer
	Recorder    *AuditRecorder
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Clock       clock.Clock
	Logger      *zap.Logger
}

// OpenTicketInput describes a ticket request.
type OpenTicketInput struct {
	GuildID   string
	ChannelID string
	UserID    string
	TypeID    string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		catalog:     deps.Catalog,
		transcripts: deps.Transcripts,
		recorder:    deps.Recorder,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		clock:       clk,
		logger:      logger.Named("ticket.service"),
	}
}

// Open creates an OPEN_UNCLAIMED ticket for a channel with no open ticket.
//
// Every lifecycle method may return a non-nil ticket together with an AUDIT_WRITE_FAILED
// error: the transition committed but its audit entry was lost.
func (s *TicketService) Open(ctx context.Context, input OpenTicketInput) (*domain.Ticket, error) {
	input.GuildID = strings.TrimSpace(input.GuildID)
	input.ChannelID = strings.TrimSpace(input.ChannelID)
	input.UserID = strings.TrimSpace(input.UserID)
	input.TypeID = strings.TrimSpace(input.TypeID)
	if err := validateOpenInput(input); err != nil {
		return nil, s.reject(OperationOpen, err)
	}

	if s.catalog != nil {
		ok, err := s.catalog.Exists(ctx, input.GuildID, input.TypeID)
		if err != nil {
			return nil, s.fail(OperationOpen, err)
		}
		if !ok {
			return nil, s.reject(OperationOpen, apperrors.NewValidationError("unknown ticket type", map[string]any{"type_id": input.TypeID}))
		}
	}

	ticket := &domain.Ticket{
		ID:        uuid.NewString(),
		GuildID:   input.GuildID,
		ChannelID: input.ChannelID,
		UserID:    input.UserID,
		TypeID:    input.TypeID,
		Status:    domain.TicketStatusOpen,
		CreatedAt: s.now(),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, s.reject(OperationOpen, apperrors.NewDuplicateTicket(input.ChannelID))
		}
		return nil, s.fail(OperationOpen, err)
	}

	auditErr := s.audit(ctx, OperationOpen, ticket, ticket.UserID,
		fmt.Sprintf("Opened %s ticket in channel %s", ticket.TypeID, ticket.ChannelID),
		&domain.FieldChange{Field: "status", OldValue: nil, NewValue: string(domain.TicketStatusOpen)})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketOpened,
		GuildID:   ticket.GuildID,
		TicketID:  ticket.ID,
		Actor:     domain.Actor{UserID: ticket.UserID},
		Timestamp: ticket.CreatedAt,
		Payload: events.TicketOpenedPayload{
			ChannelID: ticket.ChannelID,
			UserID:    ticket.UserID,
			TypeID:    ticket.TypeID,
		},
	})
	return ticket, auditErr
}

// Claim assigns the ticket to staffID. Claiming a ticket already held by staffID is a
// no-op success that writes no audit entry.
func (s *TicketService) Claim(ctx context.Context, guildID, ticketID, staffID string) (*domain.Ticket, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, s.reject(OperationClaim, apperrors.NewValidationError("staff user is required", nil))
	}
	ticket, err := s.load(ctx, guildID, ticketID)
	if err != nil {
		return nil, s.classify(OperationClaim, err)
	}
	switch {
	case ticket.IsClosed():
		return nil, s.reject(OperationClaim, closedTicket(ticket.ID))
	case ticket.IsClaimedBy(staffID):
		s.metrics.RecordTransition(OperationClaim, observability.OutcomeSuccess)
		return ticket, nil
	case ticket.ClaimedBy != nil:
		return nil, s.reject(OperationClaim, apperrors.NewAlreadyClaimed(ticket.ID, ticket.ClaimedBy))
	}

	claimed, err := s.tickets.CompareAndSwapClaimant(ctx, ticket.ID, nil, &staffID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, s.classify(OperationClaim, err)
		}
		// Lost the race; the winner decides the outcome.
		current, getErr := s.tickets.GetByID(ctx, ticket.ID)
		if getErr != nil {
			return nil, s.classify(OperationClaim, getErr)
		}
		switch {
		case current.IsClosed():
			return nil, s.reject(OperationClaim, closedTicket(current.ID))
		case current.IsClaimedBy(staffID):
			s.metrics.RecordTransition(OperationClaim, observability.OutcomeSuccess)
			return current, nil
		default:
			return nil, s.reject(OperationClaim, apperrors.NewAlreadyClaimed(current.ID, current.ClaimedBy))
		}
	}

	auditErr := s.audit(ctx, OperationClaim, claimed, staffID,
		fmt.Sprintf("Claimed ticket in channel %s", claimed.ChannelID),
		&domain.FieldChange{Field: "claimed_by", OldValue: nil, NewValue: staffID})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClaimed,
		GuildID:  claimed.GuildID,
		TicketID: claimed.ID,
		Actor:    domain.Actor{UserID: staffID},
		Payload:  events.TicketClaimChangedPayload{Claimant: claimed.ClaimedBy},
	})
	return claimed, auditErr
}

// Unclaim releases the claim held by staffID. Only the current claimant may release it.
func (s *TicketService) Unclaim(ctx context.Context, guildID, ticketID, staffID string) (*domain.Ticket, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, s.reject(OperationUnclaim, apperrors.NewValidationError("staff user is required", nil))
	}
	ticket, err := s.load(ctx, guildID, ticketID)
	if err != nil {
		return nil, s.classify(OperationUnclaim, err)
	}
	if ticket.IsClosed() {
		return nil, s.reject(OperationUnclaim, closedTicket(ticket.ID))
	}
	if !ticket.IsClaimedBy(staffID) {
		return nil, s.reject(OperationUnclaim, apperrors.NewNotClaimant(ticket.ID, staffID))
	}

	released, err := s.tickets.CompareAndSwapClaimant(ctx, ticket.ID, &staffID, nil)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, s.reject(OperationUnclaim, apperrors.NewNotClaimant(ticket.ID, staffID))
		}
		return nil, s.classify(OperationUnclaim, err)
	}

	auditErr := s.audit(ctx, OperationUnclaim, released, staffID,
		fmt.Sprintf("Released claim on ticket in channel %s", released.ChannelID),
		&domain.FieldChange{Field: "claimed_by", OldValue: staffID, NewValue: nil})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketUnclaimed,
		GuildID:  released.GuildID,
		TicketID: released.ID,
		Actor:    domain.Actor{UserID: staffID},
		Payload:  events.TicketClaimChangedPayload{PreviousClaimant: &staffID},
	})
	return released, auditErr
}

// Close moves an open ticket to CLOSED. An empty transcriptURL is filled from the
// transcript producer when one is configured. Closing twice is INVALID_STATE.
func (s *TicketService) Close(ctx context.Context, guildID, ticketID, closerID, transcriptURL string) (*domain.Ticket, error) {
	if strings.TrimSpace(closerID) == "" {
		return nil, s.reject(OperationClose, apperrors.NewValidationError("closing user is required", nil))
	}
	ticket, err := s.load(ctx, guildID, ticketID)
	if err != nil {
		return nil, s.classify(OperationClose, err)
	}
	if ticket.IsClosed() {
		return nil, s.reject(OperationClose, closedTicket(ticket.ID))
	}

	transcriptURL = strings.TrimSpace(transcriptURL)
	if transcriptURL == "" && s.transcripts != nil {
		transcriptURL, err = s.transcripts.TranscriptURL(ctx, ticket)
		if err != nil {
			return nil, s.fail(OperationClose, err)
		}
	}
	if transcriptURL == "" {
		return nil, s.reject(OperationClose, apperrors.NewValidationError("transcript_url is required", map[string]any{"ticket_id": ticket.ID}))
	}

	closed, err := s.tickets.Close(ctx, ticket.ID, s.now(), transcriptURL)
	if err != nil {
		return nil, s.classify(OperationClose, err)
	}

	auditErr := s.audit(ctx, OperationClose, closed, closerID,
		fmt.Sprintf("Closed ticket in channel %s", closed.ChannelID),
		&domain.FieldChange{Field: "status", OldValue: string(domain.TicketStatusOpen), NewValue: string(domain.TicketStatusClosed)})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketClosed,
		GuildID:   closed.GuildID,
		TicketID:  closed.ID,
		Actor:     domain.Actor{UserID: closerID},
		Timestamp: *closed.ClosedAt,
		Payload: events.TicketClosedPayload{
			ClosedAt:      *closed.ClosedAt,
			TranscriptURL: transcriptURL,
		},
	})
	return closed, auditErr
}

// load fetches a ticket, treating one from another guild as missing.
func (s *TicketService) load(ctx context.Context, guildID, ticketID string) (*domain.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, apperrors.NewValidationError("ticket id is required", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if guildID != "" && ticket.GuildID != guildID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// audit writes the transition's entry after the state change has committed. The
// returned error, if any, is AUDIT_WRITE_FAILED and accompanies a successful result.
func (s *TicketService) audit(ctx context.Context, operation string, ticket *domain.Ticket, actorID, action string, change *domain.FieldChange) error {
	if s.recorder == nil {
		s.metrics.RecordTransition(operation, observability.OutcomeSuccess)
		return nil
	}
	_, err := s.recorder.Record(ctx, AuditRecord{
		GuildID:  ticket.GuildID,
		ActorID:  actorID,
		TicketID: ticket.ID,
		Category: domain.AuditCategoryTicketUpdate,
		Action:   action,
		Change:   change,
	})
	if err != nil {
		s.metrics.RecordTransition(operation, observability.OutcomeDegraded)
		return err
	}
	s.metrics.RecordTransition(operation, observability.OutcomeSuccess)
	return nil
}

// classify counts err as a rejection when it is a domain outcome and as a failure otherwise.
func (s *TicketService) classify(operation string, err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) && domainErr.Code != apperrors.CodeInternal {
		return s.reject(operation, err)
	}
	return s.fail(operation, err)
}

func (s *TicketService) reject(operation string, err error) error {
	s.metrics.RecordTransition(operation, observability.OutcomeRejected)
	return err
}

func (s *TicketService) fail(operation string, err error) error {
	s.metrics.RecordTransition(operation, observability.OutcomeError)
	s.logger.Error("ticket operation failed", zap.String("operation", operation), zap.Error(err))
	return apperrors.MapError(err)
}

func (s *TicketService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func validateOpenInput(input OpenTicketInput) error {
	missing := []string{}
	if input.GuildID == "" {
		missing = append(missing, "guild_id")
	}
	if input.ChannelID == "" {
		missing = append(missing, "channel_id")
	}
	if input.UserID == "" {
		missing = append(missing, "user_id")
	}
	if input.TypeID == "" {
		missing = append(missing, "type_id")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("missing required fields", map[string]any{"fields": missing})
	}
	return nil
}

func closedTicket(ticketID string) error {
	return apperrors.NewInvalidState("ticket is already closed", map[string]any{"ticket_id": ticketID})
}
