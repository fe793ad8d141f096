// Package audit mirrors relay outcome events onto a RabbitMQ topic exchange
// so other services can follow deliveries without polling the journal.
// Only identifiers and outcomes are published, never message text.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"stonksrelay/internal/bus"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultExchange = "stonksrelay.events"
	producer        = "stonksrelay"
	publishTimeout  = 5 * time.Second

	reconnectBackoffBase = time.Second
	reconnectBackoffCap  = 30 * time.Second
)

// Config configures the AMQP publisher.
type Config struct {
	URL      string
	Exchange string // topic exchange, default: stonksrelay.events
	Logger   *slog.Logger
}

// Envelope is the message body published for every mirrored event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data Data `json:"data"`
}

// Meta identifies one published event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Data carries the outcome fields of a relay event.
type Data struct {
	MessageID  string `json:"message_id"`
	ChannelID  string `json:"channel_id"`
	SessionID  string `json:"session_id,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// channelPublisher is the subset of *amqp.Channel the publisher needs.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a session and returns the connection's close notifications.
type dialFunc func() (channelPublisher, <-chan *amqp.Error, error)

// Publisher publishes relay events to an exchange. When the broker drops
// the connection it redials in the background with exponential backoff.
type Publisher struct {
	exchange    string
	logger      *slog.Logger
	dial        dialFunc
	backoffBase time.Duration
	backoffCap  time.Duration

	mu     sync.Mutex
	ch     channelPublisher
	closed bool
	done   chan struct{}
}

// session is one broker connection and the channel publishing on it.
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *session) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return s.ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

func (s *session) Close() error {
	err := s.ch.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dial connects to the broker, declares the exchange and starts watching
// the connection for closure.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp URL is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = defaultExchange
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	host := ""
	if u, err := url.Parse(cfg.URL); err == nil {
		host = u.Host
	}
	cfg.Logger.Info("connecting to rabbitmq", "host", host, "exchange", cfg.Exchange)

	dial := func() (channelPublisher, <-chan *amqp.Error, error) {
		return openSession(cfg.URL, cfg.Exchange)
	}
	ch, notify, err := dial()
	if err != nil {
		return nil, err
	}

	p := newPublisher(ch, cfg.Exchange, cfg.Logger)
	p.dial = dial
	go p.watch(notify)
	return p, nil
}

func openSession(rawURL, exchange string) (*session, <-chan *amqp.Error, error) {
	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &session{conn: conn, ch: ch}, conn.NotifyClose(make(chan *amqp.Error, 1)), nil
}

func newPublisher(ch channelPublisher, exchange string, logger *slog.Logger) *Publisher {
	return &Publisher{
		ch:          ch,
		exchange:    exchange,
		logger:      logger,
		backoffBase: reconnectBackoffBase,
		backoffCap:  reconnectBackoffCap,
		done:        make(chan struct{}),
	}
}

// watch redials whenever the current connection reports closure, until
// the publisher is closed.
func (p *Publisher) watch(notify <-chan *amqp.Error) {
	for {
		select {
		case <-p.done:
			return
		case err, ok := <-notify:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			if p.isClosed() {
				return
			}
			p.logger.Error("rabbitmq connection closed, reconnecting", "err", err)
			next, ok := p.reconnect()
			if !ok {
				return
			}
			notify = next
		}
	}
}

func (p *Publisher) reconnect() (<-chan *amqp.Error, bool) {
	backoff := p.backoffBase
	for {
		ch, notify, err := p.dial()
		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				ch.Close()
				return nil, false
			}
			old := p.ch
			p.ch = ch
			p.mu.Unlock()

			old.Close()
			p.logger.Info("rabbitmq reconnected", "exchange", p.exchange)
			return notify, true
		}

		p.logger.Error("rabbitmq reconnect failed", "err", err, "retry_in", backoff)
		select {
		case <-p.done:
			return nil, false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.backoffCap)
	}
}

func (p *Publisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Publish sends e with its event type as the routing key.
func (p *Publisher) Publish(ctx context.Context, e bus.Event) error {
	env := envelopeFor(e)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         producer,
	})
}

// Handler returns a bus handler that mirrors outcome events. Publish
// failures are logged and never reach the relay.
func (p *Publisher) Handler() bus.EventHandler {
	return func(e bus.Event) {
		switch e.Type {
		case bus.EventDelivered, bus.EventDeliveryFailed, bus.EventFeedbackFailed:
		default:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, e); err != nil {
			p.logger.Warn("audit publish failed", "type", e.Type, "message_id", e.MessageID, "err", err)
		}
	}
}

// Close stops reconnecting and closes the current session.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	ch := p.ch
	p.mu.Unlock()
	return ch.Close()
}

func envelopeFor(e bus.Event) Envelope {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: e.DeliveryID,
			Producer:      producer,
			Time:          ts.UTC(),
			Type:          e.Type,
		},
		Data: Data{
			MessageID:  e.MessageID,
			ChannelID:  e.ChannelID,
			SessionID:  e.SessionID,
			Trigger:    e.Trigger,
			StatusCode: e.StatusCode,
			LatencyMs:  e.LatencyMs,
			Error:      e.Error,
		},
	}
}
