package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/events"
)

const (
	defaultRelayQueueSize      = 1024
	defaultRelayPublishTimeout = 5 * time.Second
)

// EventPublisher forwards events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// NotificationService logs lifecycle events and relays them to the broker when one is
// configured. Dispatch only enqueues; Run publishes from its own goroutine, so a slow or
// unreachable broker never delays the operation that emitted the event.
type NotificationService struct {
	dispatcher     events.Dispatcher
	publisher      EventPublisher
	logger         *zap.Logger
	queue          chan events.Event
	publishTimeout time.Duration
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	// Publisher may be nil, in which case events are only logged.
	Publisher      EventPublisher
	Logger         *zap.Logger
	QueueSize      int
	PublishTimeout time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultRelayQueueSize
	}
	timeout := deps.PublishTimeout
	if timeout <= 0 {
		timeout = defaultRelayPublishTimeout
	}
	return &NotificationService{
		dispatcher:     deps.Dispatcher,
		publisher:      deps.Publisher,
		logger:         logger.Named("notifications"),
		queue:          make(chan events.Event, size),
		publishTimeout: timeout,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

// Run relays queued events until ctx is cancelled, then flushes what is already queued.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case event := <-n.queue:
			n.relay(ctx, event)
		case <-ctx.Done():
			n.flush()
			return
		}
	}
}

func (n *NotificationService) flush() {
	for {
		select {
		case event := <-n.queue:
			n.relay(context.Background(), event)
		default:
			return
		}
	}
}

func (n *NotificationService) relay(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(ctx, n.publishTimeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Warn("relay event failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func (n *NotificationService) handle(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("guild_id", event.GuildID),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))
	if n.publisher == nil {
		return nil
	}
	select {
	case n.queue <- event:
	default:
		n.logger.Error("relay queue full; dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
	}
	return nil
}
