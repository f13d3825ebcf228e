// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultChannelBuffer = 1000

// ErrBusClosed is returned by every ChannelBus operation after Close.
var ErrBusClosed = errors.New("event bus closed")

// ChannelBus is the in-process event bus of the standalone profile.
// Each subscription owns a buffered queue drained by its own goroutine;
// a full queue drops the message rather than block the publisher.
type ChannelBus struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[string]*channelSubscription
	closed bool
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	stop    context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus returns a bus whose subscriptions queue up to bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = defaultChannelBuffer
	}
	return &ChannelBus{
		buffer: bufferSize,
		topics: make(map[string]map[string]*channelSubscription),
	}
}

func (b *ChannelBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.deliver(newMessage(topic, payload))
}

func (b *ChannelBus) deliver(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.topics[msg.Topic] {
		select {
		case sub.queue <- msg:
		default:
			slog.Warn("subscriber queue full, message dropped", "topic", msg.Topic, "message_id", msg.ID)
		}
	}
	return nil
}

// Subscribe starts delivering topic messages to handler until the
// subscription, ctx or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	subCtx, stop := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		queue:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		stop:    stop,
		bus:     b,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*channelSubscription)
	}
	b.topics[topic][sub.id] = sub

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("event handler failed", "topic", msg.Topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Request publishes payload with a private reply topic and returns the
// first payload published back to it.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	replies := make(chan []byte, 1)
	inbox := topic + ".reply." + uuid.NewString()
	sub, err := b.Subscribe(ctx, inbox, func(_ context.Context, msg *domain.Message) error {
		select {
		case replies <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(topic, payload)
	msg.Metadata[MetadataReplyTo] = inbox
	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// Close stops every subscription. Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.topics = make(map[string]map[string]*channelSubscription)
	return nil
}

func (b *ChannelBus) drop(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[sub.topic]
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

func (s *channelSubscription) Unsubscribe() error {
	s.stop()
	s.bus.drop(s)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
