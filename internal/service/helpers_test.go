package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/catalog"
	"github.com/guildkit/guild-tickets/internal/clock"
	"github.com/guildkit/guild-tickets/internal/config"
	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/events"
	"github.com/guildkit/guild-tickets/internal/observability"
	"github.com/guildkit/guild-tickets/internal/persistence"
	"github.com/guildkit/guild-tickets/internal/repository"
)

var testEpoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	tickets  *TicketService
	queries  *QueryService
	recorder *AuditRecorder
	clock    *clock.FakeClock
	events   *eventLog
	repo     repository.TicketRepository
}

type envOption func(*envSettings)

type envSettings struct {
	auditRepo   repository.AuditLogRepository
	ticketRepo  repository.TicketRepository
	transcripts TranscriptProducer
	relay       EventPublisher
}

func withAuditRepo(repo repository.AuditLogRepository) envOption {
	return func(s *envSettings) { s.auditRepo = repo }
}

func withTicketRepo(repo repository.TicketRepository) envOption {
	return func(s *envSettings) { s.ticketRepo = repo }
}

// withRelay subscribes a notification service that forwards every event to p.
func withRelay(p EventPublisher) envOption {
	return func(s *envSettings) { s.relay = p }
}

func withTranscripts(p TranscriptProducer) envOption {
	return func(s *envSettings) { s.transcripts = p }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := persistence.OpenSQLite(context.Background(), fmt.Sprintf("file:%s?mode=memory&cache=shared", name), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	settings := envSettings{auditRepo: repository.NewGormAuditLogRepository(store.DB)}
	for _, opt := range opts {
		opt(&settings)
	}

	ticketRepo := settings.ticketRepo
	if ticketRepo == nil {
		ticketRepo = repository.NewGormTicketRepository(store.DB)
	}
	fake := clock.NewFakeClock(testEpoch)
	metrics := observability.NewMetrics("test")
	dispatcher := events.NewInMemoryDispatcher()
	log := &eventLog{}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, log.record)
	}
	if settings.relay != nil {
		notifications := NewNotificationService(NotificationDependencies{
			Dispatcher:     dispatcher,
			Publisher:      settings.relay,
			PublishTimeout: time.Minute,
		})
		notifications.RegisterHandlers()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go notifications.Run(ctx)
	}

	recorder := NewAuditRecorder(AuditRecorderDependencies{
		AuditRepo: settings.auditRepo,
		Identity: stubIdentity{
			"staff-x": {UserID: "staff-x", Username: "Xavier", Avatar: "x.png"},
			"user-1":  {UserID: "user-1", Username: "Uma"},
		},
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      fake,
	})
	return &testEnv{
		tickets: NewTicketService(TicketDependencies{
			TicketRepo:  ticketRepo,
			Catalog:     catalog.NewStaticCatalog([]string{"support", "billing"}),
			Transcripts: settings.transcripts,
			Recorder:    recorder,
			Dispatcher:  dispatcher,
			Metrics:     metrics,
			Clock:       fake,
		}),
		queries: NewQueryService(QueryDependencies{
			TicketRepo: ticketRepo,
			AuditRepo:  settings.auditRepo,
			Audit:      config.AuditConfig{DefaultPageSize: 50, MaxPageSize: 250},
		}),
		recorder: recorder,
		clock:    fake,
		events:   log,
		repo:     ticketRepo,
	}
}

// auditEntries returns every audit entry for the guild, newest first.
func (e *testEnv) auditEntries(t *testing.T, guildID string) []domain.AuditLogEntry {
	t.Helper()
	page, err := e.queries.ListAuditEntries(context.Background(), guildID, "", 250)
	require.NoError(t, err)
	require.False(t, page.HasMore)
	return page.Entries
}

type stubIdentity map[string]domain.Actor

func (s stubIdentity) Resolve(_ context.Context, _, userID string) (domain.Actor, error) {
	if actor, ok := s[userID]; ok {
		return actor, nil
	}
	return domain.Actor{}, errors.New("unknown user")
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, event events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type mockAuditRepo struct {
	mock.Mock
}

func (m *mockAuditRepo) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAuditRepo) List(ctx context.Context, filter repository.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	args := m.Called(ctx, filter)
	entries, _ := args.Get(0).([]domain.AuditLogEntry)
	return entries, args.Error(1)
}

type stubTranscripts struct{ url string }

func (s stubTranscripts) TranscriptURL(_ context.Context, ticket *domain.Ticket) (string, error) {
	return s.url + "/" + ticket.ID, nil
}

type mockTicketRepo struct {
	mock.Mock
}

func (m *mockTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *mockTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	args := m.Called(ctx, id)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTicketRepo) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	args := m.Called(ctx, channelID)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTicketRepo) CompareAndSwapClaimant(ctx context.Context, id string, expected, next *string) (*domain.Ticket, error) {
	args := m.Called(ctx, id, expected, next)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTicketRepo) Close(ctx context.Context, id string, closedAt time.Time, transcriptURL string) (*domain.Ticket, error) {
	args := m.Called(ctx, id, closedAt, transcriptURL)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTicketRepo) ListOpenByGuild(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	args := m.Called(ctx, guildID)
	tickets, _ := args.Get(0).([]domain.Ticket)
	return tickets, args.Error(1)
}

// stalledPublisher never completes a publish until its context ends or the test finishes.
type stalledPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func newStalledPublisher(t *testing.T) *stalledPublisher {
	p := &stalledPublisher{release: make(chan struct{})}
	t.Cleanup(func() { close(p.release) })
	return p
}

func (p *stalledPublisher) Publish(ctx context.Context, _ events.Event) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.release:
		return errors.New("broker unavailable")
	}
}

func (p *stalledPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
