package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/config"
	"github.com/guildkit/guild-tickets/internal/events"
)

const (
	routingKeyPrefix   = "guild"
	defaultDialTimeout = 5 * time.Second
	heartbeat          = 10 * time.Second
	locale             = "en_US"
)

// Publisher relays domain events to a durable topic exchange. The connection is opened
// on first use and reopened after a failed publish. Dialing never holds the lock, so a
// stalled broker delays only the callers waiting on that dial.
type Publisher struct {
	url         string
	exchange    string
	dialTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher returns nil when no broker URL is configured.
func NewPublisher(cfg config.MessagingConfig, logger *zap.Logger) *Publisher {
	if cfg.AMQPURL == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dialTimeout := cfg.DialTimeout()
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Publisher{
		url:         cfg.AMQPURL,
		exchange:    cfg.Exchange,
		dialTimeout: dialTimeout,
		logger:      logger.Named("amqp"),
	}
}

// Publish sends event as a persistent JSON message routed by guild and event type.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	if p == nil {
		return nil
	}
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}

	ch, err := p.ensureChannel(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, msg); err != nil {
		p.logger.Warn("publish failed; resetting connection", zap.String("event_type", string(event.Type)), zap.Error(err))
		p.mu.Lock()
		if p.channel == ch {
			_ = p.reset()
		}
		p.mu.Unlock()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close shuts the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reset()
}

// RoutingKey is guild.<guild id>.<event type>, so consumers can bind per guild or per type.
func RoutingKey(event events.Event) string {
	return fmt.Sprintf("%s.%s.%s", routingKeyPrefix, event.GuildID, event.Type)
}

func newPublishing(event events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    timestamp,
		Body:         body,
	}, nil
}

func (p *Publisher) ensureChannel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.channel != nil && !p.channel.IsClosed() {
		ch := p.channel
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	conn, ch, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil && !p.channel.IsClosed() {
		// another caller connected first
		_ = ch.Close()
		_ = conn.Close()
		return p.channel, nil
	}
	_ = p.reset()
	p.conn = conn
	p.channel = ch
	p.logger.Info("connected to broker", zap.String("exchange", p.exchange))
	return ch, nil
}

// dial connects and declares the exchange. The TCP connect and the AMQP handshake are
// bounded by the dial timeout and by ctx's deadline, whichever is earlier.
func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    locale,
		Dial:      p.dialer(ctx),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return conn, ch, nil
}

func (p *Publisher) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		deadline := time.Now().Add(p.dialTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		d := net.Dialer{Deadline: deadline}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		// cleared by the client once the handshake completes
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (p *Publisher) reset() error {
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		p.conn = nil
	}
	return errors.Join(errs...)
}
