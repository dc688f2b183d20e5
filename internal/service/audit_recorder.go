package service

import (
	"context"
	"crypto/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/clock"
	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/events"
	"github.com/guildkit/guild-tickets/internal/observability"
	"github.com/guildkit/guild-tickets/internal/repository"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

// AuditRecorder turns state-changing operations into immutable audit entries.
type AuditRecorder struct {
	entries    repository.AuditLogRepository
	identity   IdentityResolver
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	clock      clock.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// AuditRecorderDependencies bundles collaborators for the recorder.
type AuditRecorderDependencies struct {
	AuditRepo  repository.AuditLogRepository
	Identity   IdentityResolver
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Clock      clock.Clock
	Logger     *zap.Logger
}

// AuditRecord describes one entry to append.
type AuditRecord struct {
	GuildID  string
	ActorID  string
	TicketID string
	Category domain.AuditCategory
	Action   string
	Change   *domain.FieldChange
}

// NewAuditRecorder constructs the recorder.
func NewAuditRecorder(deps AuditRecorderDependencies) *AuditRecorder {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecorder{
		entries:    deps.AuditRepo,
		identity:   deps.Identity,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		clock:      clk,
		logger:     logger.Named("audit.recorder"),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

// Record appends one entry. A storage fault is returned as AUDIT_WRITE_FAILED.
func (r *AuditRecorder) Record(ctx context.Context, rec AuditRecord) (*domain.AuditLogEntry, error) {
	if strings.TrimSpace(rec.GuildID) == "" || strings.TrimSpace(rec.ActorID) == "" {
		return nil, apperrors.NewValidationError("guild and actor are required", nil)
	}
	if strings.TrimSpace(rec.Action) == "" {
		return nil, apperrors.NewValidationError("action is required", nil)
	}

	id, createdAt, err := r.nextID()
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	entry := &domain.AuditLogEntry{
		ID:        id,
		GuildID:   rec.GuildID,
		Actor:     r.snapshot(ctx, rec.GuildID, rec.ActorID),
		Category:  domain.ParseAuditCategory(string(rec.Category)),
		Action:    rec.Action,
		Change:    rec.Change,
		CreatedAt: createdAt,
	}

	if err := r.entries.Append(ctx, entry); err != nil {
		r.metrics.RecordAuditWriteFailure()
		r.logger.Error("audit write failed; change is committed but unlogged",
			zap.String("guild_id", rec.GuildID),
			zap.String("ticket_id", rec.TicketID),
			zap.String("category", string(entry.Category)),
			zap.String("action", rec.Action),
			zap.Error(err))
		details := map[string]any{"guild_id": rec.GuildID, "category": string(entry.Category)}
		if rec.TicketID != "" {
			details["ticket_id"] = rec.TicketID
		}
		return nil, apperrors.NewAuditWriteError(err, details)
	}

	r.publish(ctx, entry, rec.TicketID)
	return entry, nil
}

// RecordChange appends a settings-style entry carrying a field diff. Category strings
// outside the known set are stored as OTHER; an unchanged value is rejected.
func (r *AuditRecorder) RecordChange(ctx context.Context, guildID, actorID, category, action, field string, oldValue, newValue any) (*domain.AuditLogEntry, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, apperrors.NewValidationError("field is required", nil)
	}
	if reflect.DeepEqual(oldValue, newValue) {
		return nil, apperrors.NewValidationError("old and new values are identical", map[string]any{"field": field})
	}
	return r.Record(ctx, AuditRecord{
		GuildID:  guildID,
		ActorID:  actorID,
		Category: domain.ParseAuditCategory(category),
		Action:   action,
		Change:   &domain.FieldChange{Field: field, OldValue: oldValue, NewValue: newValue},
	})
}

// nextID issues ids that sort in issue order even when the clock does not advance.
func (r *AuditRecorder) nextID() (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC().Truncate(time.Microsecond)
	id, err := ulid.New(ulid.Timestamp(now), r.entropy)
	if err != nil {
		return "", time.Time{}, err
	}
	return id.String(), now, nil
}

func (r *AuditRecorder) snapshot(ctx context.Context, guildID, userID string) domain.Actor {
	fallback := domain.Actor{UserID: userID, Username: userID}
	if r.identity == nil {
		return fallback
	}
	actor, err := r.identity.Resolve(ctx, guildID, userID)
	if err != nil {
		r.logger.Warn("identity lookup failed; using bare id", zap.String("user_id", userID), zap.Error(err))
		return fallback
	}
	actor.UserID = userID
	if actor.Username == "" {
		actor.Username = userID
	}
	return actor
}

func (r *AuditRecorder) publish(ctx context.Context, entry *domain.AuditLogEntry, ticketID string) {
	if r.dispatcher == nil {
		return
	}
	err := r.dispatcher.Publish(ctx, events.Event{
		ID:        entry.ID,
		Type:      events.EventAuditEntryRecorded,
		GuildID:   entry.GuildID,
		TicketID:  ticketID,
		Actor:     entry.Actor,
		Timestamp: entry.CreatedAt,
		Payload: events.AuditEntryRecordedPayload{
			EntryID:  entry.ID,
			Category: entry.Category,
			Action:   entry.Action,
		},
	})
	if err != nil {
		r.logger.Warn("audit event handlers failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}
