package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetadataReplyTo carries the topic a request handler should publish its
// answer to.
const MetadataReplyTo = "reply_to"

// defaultRequestTimeout caps Request when the caller set no deadline.
const defaultRequestTimeout = 30 * time.Second

// New creates a new event bus based on configuration.
// Standalone deployments use ChannelBus, distributed ones NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// ReplyTo returns the reply topic of a request message, if any.
func ReplyTo(msg *domain.Message) (string, bool) {
	if msg == nil || msg.Metadata == nil {
		return "", false
	}
	topic, ok := msg.Metadata[MetadataReplyTo]
	return topic, ok && topic != ""
}

func withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}
