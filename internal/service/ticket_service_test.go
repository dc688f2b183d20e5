package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-tickets/internal/domain"
	"github.com/guildkit/guild-tickets/internal/events"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

func openInput(channelID, userID string) OpenTicketInput {
	return OpenTicketInput{GuildID: "guildA", ChannelID: channelID, UserID: userID, TypeID: "support"}
}

func TestTicketLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStateOpenUnclaimed, ticket.State())
	assert.Nil(t, ticket.ClosedAt)
	assert.Nil(t, ticket.TranscriptURL)

	_, err = env.tickets.Open(ctx, openInput("chan1", "user2"))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateTicket)

	claimed, err := env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "staffX", *claimed.ClaimedBy)

	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffY")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyClaimed)

	_, err = env.tickets.Unclaim(ctx, "guildA", ticket.ID, "staffY")
	assert.ErrorIs(t, err, apperrors.ErrNotClaimant)

	env.clock.Advance(time.Hour)
	closed, err := env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "https://t/1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.TranscriptURL)
	assert.Equal(t, "https://t/1", *closed.TranscriptURL)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, testEpoch.Add(time.Hour).Equal(*closed.ClosedAt))

	_, err = env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "https://t/2")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	stored, err := env.queries.GetTicket(ctx, "guildA", ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://t/1", *stored.TranscriptURL)

	entries := env.auditEntries(t, "guildA")
	require.Len(t, entries, 3)
	assert.Equal(t, "Closed ticket in channel chan1", entries[0].Action)
	assert.Equal(t, "Claimed ticket in channel chan1", entries[1].Action)
	assert.Equal(t, "Opened support ticket in channel chan1", entries[2].Action)
	for _, entry := range entries {
		assert.Equal(t, domain.AuditCategoryTicketUpdate, entry.Category)
	}
}

func TestClosedTicketIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)
	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	_, err = env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "https://t/1")
	require.NoError(t, err)
	before := len(env.auditEntries(t, "guildA"))

	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffY")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	_, err = env.tickets.Unclaim(ctx, "guildA", ticket.ID, "staffX")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	_, err = env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "https://t/2")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	assert.Len(t, env.auditEntries(t, "guildA"), before)
}

func TestClaimIsIdempotentForCurrentClaimant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)
	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)

	again, err := env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	assert.Equal(t, "staffX", *again.ClaimedBy)

	assert.Len(t, env.auditEntries(t, "guildA"), 2)
}

func TestUnclaimThenReclaimByAnotherStaff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)

	_, err = env.tickets.Unclaim(ctx, "guildA", ticket.ID, "staffX")
	assert.ErrorIs(t, err, apperrors.ErrNotClaimant)

	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	released, err := env.tickets.Unclaim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	assert.Nil(t, released.ClaimedBy)
	assert.Equal(t, domain.TicketStateOpenUnclaimed, released.State())

	reclaimed, err := env.tickets.Claim(ctx, "guildA", ticket.ID, "staffY")
	require.NoError(t, err)
	assert.Equal(t, "staffY", *reclaimed.ClaimedBy)

	entries := env.auditEntries(t, "guildA")
	require.Len(t, entries, 4)
	unclaim := entries[1]
	require.NotNil(t, unclaim.Change)
	assert.Equal(t, "claimed_by", unclaim.Change.Field)
	assert.Equal(t, "staffX", unclaim.Change.OldValue)
	assert.Nil(t, unclaim.Change.NewValue)
}

func TestOpenValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.tickets.Open(ctx, OpenTicketInput{GuildID: "guildA", ChannelID: "chan1"})
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	assert.Equal(t, []string{"user_id", "type_id"}, domainErr.Details["fields"])

	_, err = env.tickets.Open(ctx, OpenTicketInput{GuildID: "guildA", ChannelID: "chan1", UserID: "u", TypeID: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	assert.Empty(t, env.auditEntries(t, "guildA"))
}

func TestOperationsAreGuildScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)

	_, err = env.tickets.Claim(ctx, "guildB", ticket.ID, "staffX")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.tickets.Close(ctx, "guildB", ticket.ID, "staffX", "https://t/1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.queries.GetTicket(ctx, "guildB", ticket.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = env.queries.GetTicketByChannel(ctx, "guildB", "chan1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = env.tickets.Claim(ctx, "guildA", "missing", "staffX")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCloseUsesTranscriptProducerWhenURLMissing(t *testing.T) {
	env := newTestEnv(t, withTranscripts(stubTranscripts{url: "https://transcripts/guildA"}))
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)

	closed, err := env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "")
	require.NoError(t, err)
	assert.Equal(t, "https://transcripts/guildA/"+ticket.ID, *closed.TranscriptURL)
}

func TestCloseRequiresTranscriptURLWithoutProducer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)

	_, err = env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	stored, err := env.queries.GetTicket(ctx, "guildA", ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
}

func TestChannelCanBeReusedAfterClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)
	_, err = env.tickets.Close(ctx, "guildA", first.ID, "staffX", "https://t/1")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	second, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	current, err := env.queries.GetTicketByChannel(ctx, "guildA", "chan1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestConcurrentOpenAllowsOneTicketPerChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const callers = 8

	var (
		wg         sync.WaitGroup
		start      = make(chan struct{})
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := env.tickets.Open(ctx, openInput("chan1", fmt.Sprintf("user%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrDuplicateTicket):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, duplicates)

	open, err := env.queries.ListOpenTickets(ctx, "guildA")
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Len(t, env.auditEntries(t, "guildA"), 1)
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(staff string) {
			defer wg.Done()
			<-start
			_, err := env.tickets.Claim(ctx, "guildA", ticket.ID, staff)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, staff)
			case errors.Is(err, apperrors.ErrAlreadyClaimed):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("staff%d", i))
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, callers-1, losers)

	stored, err := env.queries.GetTicket(ctx, "guildA", ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *stored.ClaimedBy)
	assert.Len(t, env.auditEntries(t, "guildA"), 2)
}

func TestAuditWriteFailureIsReportedButTransitionCommits(t *testing.T) {
	auditRepo := &mockAuditRepo{}
	auditRepo.On("Append", mock.Anything, mock.AnythingOfType("*domain.AuditLogEntry")).Return(errors.New("disk full"))
	env := newTestEnv(t, withAuditRepo(auditRepo))
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NotNil(t, ticket)
	require.Error(t, err)
	assert.True(t, apperrors.IsDegraded(err))
	assert.ErrorIs(t, err, apperrors.ErrAuditWrite)

	claimed, err := env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NotNil(t, claimed)
	assert.True(t, apperrors.IsDegraded(err))

	stored, err := env.queries.GetTicket(ctx, "guildA", ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "staffX", *stored.ClaimedBy)

	auditRepo.AssertNumberOfCalls(t, "Append", 2)
	assert.NotContains(t, env.events.types(), events.EventAuditEntryRecorded)
}

func TestLifecyclePublishesEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket, err := env.tickets.Open(ctx, openInput("chan1", "user1"))
	require.NoError(t, err)
	_, err = env.tickets.Claim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	_, err = env.tickets.Unclaim(ctx, "guildA", ticket.ID, "staffX")
	require.NoError(t, err)
	_, err = env.tickets.Close(ctx, "guildA", ticket.ID, "staffX", "https://t/1")
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.EventAuditEntryRecorded, events.EventTicketOpened,
		events.EventAuditEntryRecorded, events.EventTicketClaimed,
		events.EventAuditEntryRecorded, events.EventTicketUnclaimed,
		events.EventAuditEntryRecorded, events.EventTicketClosed,
	}, env.events.types())
}

func TestStalledBrokerDoesNotDelayLifecycle(t *testing.T) {
	broker := newStalledPublisher(t)
	env := newTestEnv(t, withRelay(broker))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const callers = 2
	var wg sync.WaitGroup
	errs := make([]error, callers)
	started := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.tickets.Open(ctx, openInput(fmt.Sprintf("chan%d", i), "user1"))
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(started), time.Second)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, env.auditEntries(t, "guildA"), callers)
	assert.Eventually(t, func() bool { return broker.callCount() > 0 }, time.Second, 10*time.Millisecond)
}

func lostRaceSetup(t *testing.T) (*testEnv, *mockTicketRepo, *mockAuditRepo) {
	t.Helper()
	tickets := &mockTicketRepo{}
	audit := &mockAuditRepo{}
	env := newTestEnv(t, withTicketRepo(tickets), withAuditRepo(audit))
	return env, tickets, audit
}

func storedTicket(claimedBy *string, status domain.TicketStatus) *domain.Ticket {
	return &domain.Ticket{
		ID:        "t1",
		GuildID:   "guildA",
		ChannelID: "chan1",
		UserID:    "user1",
		TypeID:    "support",
		Status:    status,
		ClaimedBy: claimedBy,
		CreatedAt: testEpoch,
	}
}

func TestClaimLostRaceToSameUserIsIdempotent(t *testing.T) {
	env, tickets, audit := lostRaceSetup(t)
	staff := "staffX"

	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(nil, domain.TicketStatusOpen), nil).Once()
	tickets.On("CompareAndSwapClaimant", mock.Anything, "t1", (*string)(nil), &staff).
		Return(nil, apperrors.NewConflict("ticket claimant changed", nil)).Once()
	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(&staff, domain.TicketStatusOpen), nil).Once()

	ticket, err := env.tickets.Claim(context.Background(), "guildA", "t1", staff)
	require.NoError(t, err)
	assert.Equal(t, staff, *ticket.ClaimedBy)

	tickets.AssertExpectations(t)
	audit.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	assert.Empty(t, env.events.types())
}

func TestClaimLostRaceToOtherUserIsAlreadyClaimed(t *testing.T) {
	env, tickets, audit := lostRaceSetup(t)
	winner := "staffY"

	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(nil, domain.TicketStatusOpen), nil).Once()
	tickets.On("CompareAndSwapClaimant", mock.Anything, "t1", (*string)(nil), mock.Anything).
		Return(nil, apperrors.NewConflict("ticket claimant changed", nil)).Once()
	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(&winner, domain.TicketStatusOpen), nil).Once()

	_, err := env.tickets.Claim(context.Background(), "guildA", "t1", "staffX")
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, apperrors.CodeAlreadyClaimed, domainErr.Code)
	assert.Equal(t, winner, domainErr.Details["claimed_by"])

	tickets.AssertExpectations(t)
	audit.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestClaimLostRaceToCloseIsInvalidState(t *testing.T) {
	env, tickets, _ := lostRaceSetup(t)

	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(nil, domain.TicketStatusOpen), nil).Once()
	tickets.On("CompareAndSwapClaimant", mock.Anything, "t1", (*string)(nil), mock.Anything).
		Return(nil, apperrors.NewConflict("ticket claimant changed", nil)).Once()
	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(nil, domain.TicketStatusClosed), nil).Once()

	_, err := env.tickets.Claim(context.Background(), "guildA", "t1", "staffX")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	tickets.AssertExpectations(t)
}

func TestUnclaimLostRaceIsNotClaimant(t *testing.T) {
	env, tickets, audit := lostRaceSetup(t)
	staff := "staffX"

	tickets.On("GetByID", mock.Anything, "t1").Return(storedTicket(&staff, domain.TicketStatusOpen), nil).Once()
	tickets.On("CompareAndSwapClaimant", mock.Anything, "t1", &staff, (*string)(nil)).
		Return(nil, apperrors.NewConflict("ticket claimant changed", nil)).Once()

	_, err := env.tickets.Unclaim(context.Background(), "guildA", "t1", staff)
	assert.ErrorIs(t, err, apperrors.ErrNotClaimant)
	tickets.AssertExpectations(t)
	audit.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}
