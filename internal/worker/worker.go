// Package worker scores transactions that arrive on the event bus instead
// of over HTTP.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("worker already started")

// Detector runs the detection pipeline for one transaction.
type Detector interface {
	Detect(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResult, error)
}

// Config sizes the scoring pool.
type Config struct {
	WorkerCount int // concurrent scoring goroutines, at least one
	QueueSize   int // messages buffered ahead of the pool; defaults to 16 per goroutine
}

// Worker drains TopicTransactionIngested into a fixed pool of scoring
// goroutines. Messages sent with Request get the ScoringResult, or an
// {"error": ...} body, on their reply topic.
type Worker struct {
	bus      domain.EventBus
	detector Detector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	queue chan *domain.Message
	subs  []domain.Subscription
}

func NewWorker(eventBus domain.EventBus, detector Detector) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{bus: eventBus, detector: detector, ctx: ctx, cancel: cancel}
}

// Start launches the pool and subscribes it to ingested transactions.
func (w *Worker) Start(cfg Config) error {
	n := max(cfg.WorkerCount, 1)
	size := cfg.QueueSize
	if size <= 0 {
		size = n * 16
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queue != nil {
		return ErrAlreadyStarted
	}

	w.queue = make(chan *domain.Message, size)
	w.wg.Add(n)
	for range n {
		go w.loop(w.queue)
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.enqueue)
	if err != nil {
		w.cancel()
		return fmt.Errorf("subscribe %s: %w", domain.TopicTransactionIngested, err)
	}
	w.subs = append(w.subs, sub)

	slog.Info("scoring workers started", "count", n, "queue", size, "topic", domain.TopicTransactionIngested)
	return nil
}

// enqueue blocks the bus delivery goroutine while the queue is full.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.queue <- msg:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(queue <-chan *domain.Message) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-queue:
			if err := w.processTransaction(w.ctx, msg); err != nil {
				slog.Error("async scoring failed", "message_id", msg.ID, "error", err)
			}
		}
	}
}

func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		err = fmt.Errorf("decode transaction: %w", err)
		w.respond(ctx, msg, map[string]string{"error": err.Error()})
		return err
	}

	result, err := w.detector.Detect(ctx, &tx)
	if err != nil {
		w.respond(ctx, msg, map[string]string{"error": err.Error()})
		return err
	}
	w.respond(ctx, msg, result)

	slog.Debug("async transaction scored",
		"transaction_id", tx.ID,
		"fraud", result.IsFraud,
		"score", result.CombinedScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// respond publishes body on the message's reply topic, if it has one.
func (w *Worker) respond(ctx context.Context, msg *domain.Message, body any) {
	replyTo, ok := bus.ReplyTo(msg)
	if !ok {
		return
	}
	payload, err := json.Marshal(body)
	if err == nil {
		err = w.bus.Publish(ctx, replyTo, payload)
	}
	if err != nil {
		slog.Error("reply not sent", "message_id", msg.ID, "reply_to", replyTo, "error", err)
	}
}

// Stop unsubscribes, abandons queued messages and waits for in-flight
// scoring to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Topic(), err))
		}
	}
	w.subs = nil

	w.cancel()
	w.wg.Wait()
	slog.Info("scoring workers stopped")
	return errors.Join(errs...)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Queued            int      `json:"queued"`
}

func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, 0, len(w.subs))
	for _, sub := range w.subs {
		topics = append(topics, sub.Topic())
	}
	return Stats{SubscriptionCount: len(w.subs), Topics: topics, Queued: len(w.queue)}
}
