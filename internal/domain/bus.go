package domain

import "context"

// Topics published by the scoring pipeline and the rule store.
const (
	TopicTransactionIngested = "kestrel.transaction.ingested"
	TopicTransactionScored   = "kestrel.transaction.scored"
	TopicFraudAlert          = "kestrel.fraud.alert"
	TopicRulesChanged        = "kestrel.rules.changed"
)

// EventBus moves pipeline events between components. The standalone
// profile runs it over Go channels, the distributed one over NATS.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and blocks for the first reply.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one delivered message. A returned error is
// logged by the bus; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every payload travels in.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// ScoredEvent is published on TopicTransactionScored and, for fraud
// verdicts, on TopicFraudAlert.
type ScoredEvent struct {
	Transaction *Transaction   `json:"transaction"`
	Result      *ScoringResult `json:"result"`
}

// EventBusConfig selects and tunes the bus backend.
type EventBusConfig struct {
	Type string // "channel" or "nats"

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
