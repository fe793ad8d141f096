package domain

import "context"

// Reactor reflects delivery outcomes back onto the originating message.
type Reactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
	Reply(ctx context.Context, channelID, messageID, content string) error
}

// MessageLookup resolves the author of a message in a channel.
type MessageLookup interface {
	MessageAuthorID(ctx context.Context, channelID, messageID string) (string, error)
}

// Forwarder delivers an outbound event to the automation endpoint.
type Forwarder interface {
	Forward(ctx context.Context, evt OutboundEvent) (DeliveryResult, error)
}

// DeliveryResult describes one webhook attempt.
type DeliveryResult struct {
	DeliveryID string
	StatusCode int
	LatencyMs  int64
	Response   string
}
