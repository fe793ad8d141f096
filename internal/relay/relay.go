// Package relay turns inbound chat messages into webhook events.
//
// Classification and payload building are pure; Relay wires them to the
// lookup, delivery and reaction ports and runs each delivery on its own
// goroutine so one slow webhook call never holds up the next message.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stonksrelay/internal/bus"
	"stonksrelay/internal/domain"
)

const defaultLookupTimeout = 5 * time.Second

// Reactions are the emoji used to report delivery outcomes.
type Reactions struct {
	Success string
	Failure string
}

// Config wires a Relay to its collaborators.
type Config struct {
	Rules         Rules
	Reactions     Reactions
	FailureReply  string // optional text reply on failed delivery; empty disables it
	LookupTimeout time.Duration
	Forwarder     domain.Forwarder
	Reactor       domain.Reactor
	Lookup        domain.MessageLookup
	Events        *bus.EventBus // optional
	Logger        *slog.Logger
}

// Relay handles inbound messages one event at a time.
type Relay struct {
	rules         Rules
	reactions     Reactions
	failureReply  string
	lookupTimeout time.Duration
	forwarder     domain.Forwarder
	reactor       domain.Reactor
	lookup        domain.MessageLookup
	events        *bus.EventBus
	logger        *slog.Logger

	mu   sync.RWMutex
	self Identity

	// inflight counts running deliveries; idle is closed when it drops to zero.
	flightMu sync.Mutex
	inflight int
	idle     chan struct{}
	closing  bool
}

// New creates a Relay. Identity must be set with SetIdentity once the
// platform session knows who the bot is.
func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.Reactions.Success == "" {
		cfg.Reactions.Success = "👀"
	}
	if cfg.Reactions.Failure == "" {
		cfg.Reactions.Failure = "❌"
	}
	return &Relay{
		rules:         cfg.Rules,
		reactions:     cfg.Reactions,
		failureReply:  cfg.FailureReply,
		lookupTimeout: cfg.LookupTimeout,
		forwarder:     cfg.Forwarder,
		reactor:       cfg.Reactor,
		lookup:        cfg.Lookup,
		events:        cfg.Events,
		logger:        cfg.Logger,
	}
}

// SetIdentity records the relay's own account.
func (r *Relay) SetIdentity(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = id
}

// Identity returns the relay's own account.
func (r *Relay) Identity() Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// Handle classifies msg and, when it qualifies, starts delivering it in the
// background. It returns the decision without waiting for delivery.
func (r *Relay) Handle(ctx context.Context, msg domain.IncomingMessage) (d domain.TriggerDecision) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handler panic", "message_id", msg.ID, "panic", rec)
			d = domain.TriggerDecision{}
		}
	}()

	self := r.Identity()

	repliedToSelf := false
	if needsReplyLookup(msg, self, r.rules) {
		repliedToSelf = r.repliedToSelf(ctx, msg, self)
	}

	d = Classify(msg, self, r.rules, repliedToSelf)
	evt, ok := BuildEvent(msg, d, time.Now())
	if !ok {
		r.emit(bus.Event{Type: bus.EventMessageIgnored, MessageID: msg.ID, ChannelID: msg.ChannelID})
		return d
	}

	if !r.begin() {
		r.logger.Warn("relay closing, trigger dropped", "message_id", evt.MessageID, "trigger", evt.TriggerType)
		r.emit(bus.Event{Type: bus.EventMessageIgnored, MessageID: msg.ID, ChannelID: msg.ChannelID})
		return d
	}

	r.logger.Info("trigger received",
		"bot", self.Username,
		"trigger", evt.TriggerType,
		"user", evt.UserTag,
		"message_id", evt.MessageID,
		"session", evt.SessionID,
		"content_len", len(evt.RawContent),
	)
	r.emit(bus.Event{
		Type:      bus.EventTriggered,
		MessageID: evt.MessageID,
		ChannelID: evt.ChannelID,
		SessionID: evt.SessionID,
		Trigger:   string(evt.TriggerType),
	})

	go r.deliver(context.WithoutCancel(ctx), evt)
	return d
}

// begin registers a delivery unless the relay is closing.
func (r *Relay) begin() bool {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	if r.closing {
		return false
	}
	if r.inflight == 0 {
		r.idle = make(chan struct{})
	}
	r.inflight++
	return true
}

func (r *Relay) finish() {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	r.inflight--
	if r.inflight == 0 {
		close(r.idle)
	}
}

// Wait blocks until every delivery started so far has finished or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	r.flightMu.Lock()
	if r.inflight == 0 {
		r.flightMu.Unlock()
		return nil
	}
	idle := r.idle
	r.flightMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new deliveries and drains the ones in flight.
// Messages handled after Close are classified but never forwarded.
func (r *Relay) Close(ctx context.Context) error {
	r.flightMu.Lock()
	r.closing = true
	r.flightMu.Unlock()
	return r.Wait(ctx)
}

// repliedToSelf looks up the referenced message. Lookup failures (deleted
// message, missing permission, network) count as "not a reply to us".
func (r *Relay) repliedToSelf(ctx context.Context, msg domain.IncomingMessage, self Identity) bool {
	if r.lookup == nil || self.UserID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	authorID, err := r.lookup.MessageAuthorID(ctx, msg.ChannelID, msg.ReplyToID)
	if err != nil {
		r.logger.Debug("reply lookup failed", "message_id", msg.ID, "reply_to", msg.ReplyToID, "err", err)
		return false
	}
	return authorID == self.UserID
}

func (r *Relay) deliver(ctx context.Context, evt domain.OutboundEvent) {
	defer r.finish()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("delivery panic", "message_id", evt.MessageID, "panic", rec)
		}
	}()

	res, err := r.forwarder.Forward(ctx, evt)
	r.complete(ctx, evt, res, err)
}

// complete reflects the delivery outcome onto the originating message.
func (r *Relay) complete(ctx context.Context, evt domain.OutboundEvent, res domain.DeliveryResult, err error) {
	e := bus.Event{
		MessageID:  evt.MessageID,
		ChannelID:  evt.ChannelID,
		SessionID:  evt.SessionID,
		Trigger:    string(evt.TriggerType),
		DeliveryID: res.DeliveryID,
		StatusCode: res.StatusCode,
		LatencyMs:  res.LatencyMs,
	}

	if err != nil {
		r.logger.Error("webhook delivery failed",
			"message_id", evt.MessageID,
			"delivery_id", res.DeliveryID,
			"status", res.StatusCode,
			"err", err,
		)
		e.Type = bus.EventDeliveryFailed
		e.Error = err.Error()
		r.emit(e)

		r.react(ctx, evt, r.reactions.Failure)
		if r.failureReply != "" && r.reactor != nil {
			if err := r.reactor.Reply(ctx, evt.ChannelID, evt.MessageID, r.failureReply); err != nil {
				r.feedbackFailed(evt, "reply", err)
			}
		}
		return
	}

	r.logger.Info("webhook delivered",
		"message_id", evt.MessageID,
		"delivery_id", res.DeliveryID,
		"status", res.StatusCode,
		"latency_ms", res.LatencyMs,
	)
	e.Type = bus.EventDelivered
	r.emit(e)
	r.react(ctx, evt, r.reactions.Success)
}

func (r *Relay) react(ctx context.Context, evt domain.OutboundEvent, emoji string) {
	if r.reactor == nil {
		return
	}
	if err := r.reactor.React(ctx, evt.ChannelID, evt.MessageID, emoji); err != nil {
		r.feedbackFailed(evt, "reaction", err)
	}
}

func (r *Relay) feedbackFailed(evt domain.OutboundEvent, kind string, err error) {
	r.logger.Warn("delivery feedback failed", "kind", kind, "message_id", evt.MessageID, "err", err)
	r.emit(bus.Event{
		Type:      bus.EventFeedbackFailed,
		MessageID: evt.MessageID,
		ChannelID: evt.ChannelID,
		SessionID: evt.SessionID,
		Error:     err.Error(),
	})
}

func (r *Relay) emit(e bus.Event) {
	if r.events != nil {
		r.events.Emit(e)
	}
}
