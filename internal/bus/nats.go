package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultNATSReconnects    = 10
	defaultNATSReconnectWait = 5 * time.Second
	natsReconnectBufferBytes = 8 << 20
)

// ErrNATSDisconnected is returned by Ping while the client is reconnecting.
var ErrNATSDisconnected = errors.New("nats: not connected")

// NATSBus carries scoring events and rule change notices between Kestrel
// instances. Topics are used as NATS subjects unchanged.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
}

// NewNATSBus dials the configured server, retrying up to the reconnect
// budget before giving up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = defaultNATSReconnects
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = defaultNATSReconnectWait
	}

	opts := natsOptions(attempts, wait, cfg.NATSToken)

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("nats dial failed", "url", url, "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	slog.Info("event bus connected", "backend", "nats", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}, nil
}

// natsOptions builds the client options shared by every connection.
func natsOptions(reconnects int, wait time.Duration, token string) []nats.Option {
	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(reconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(natsReconnectBufferBytes),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "closed", nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

// Publish wraps payload in a message envelope and sends it on topic.
func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	data, err := encodeMessage(topic, payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler on topic. For messages sent with Request the
// reply inbox is available through ReplyTo.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	ns, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data, m.Reply)
		if err != nil {
			slog.Error("dropping malformed event", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("event handler failed", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &natsSubscription{id: uuid.NewString(), topic: topic, sub: ns}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

// Request publishes on topic and waits for one reply. Without a caller
// deadline the wait is capped at thirty seconds.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	data, err := encodeMessage(topic, payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	reply, err := b.conn.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", topic, err)
	}
	msg, err := decodeMessage(reply.Data, "")
	if err != nil {
		return nil, fmt.Errorf("reply on %s: %w", topic, err)
	}
	return msg.Payload, nil
}

// Ping flushes the connection to confirm the server is reachable.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return ErrNATSDisconnected
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.sub.Unsubscribe()
	}
	b.conn.Close()
	return nil
}

// Stats exposes the client's traffic counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}

func encodeMessage(topic string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return nil, fmt.Errorf("encode message for %s: %w", topic, err)
	}
	return data, nil
}

// decodeMessage unpacks an envelope and records the reply inbox, if any.
func decodeMessage(data []byte, reply string) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if reply != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string, 1)
		}
		msg.Metadata[MetadataReplyTo] = reply
	}
	return &msg, nil
}
