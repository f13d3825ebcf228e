package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubDetector flags every transaction above 1000.
type stubDetector struct {
	mu   sync.Mutex
	seen []string
}

func (d *stubDetector) Detect(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResult, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.seen = append(d.seen, tx.ID)
	d.mu.Unlock()
	return &domain.ScoringResult{
		TransactionID: tx.ID,
		IsFraud:       tx.Amount > 1000,
		CombinedScore: 0.9,
		Reasons:       []string{},
	}, nil
}

func (d *stubDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func ingest(t *testing.T, b domain.EventBus, tx domain.Transaction) {
	t.Helper()
	payload, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("failed to marshal transaction: %v", err)
	}
	if err := b.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := NewWorker(eventBus, &stubDetector{})
		if err := worker.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("unexpected topic %s", stats.Topics[0])
		}

		if err := worker.Start(Config{}); err == nil {
			t.Error("expected error when starting twice")
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := worker.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransactions", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		detector := &stubDetector{}
		worker := NewWorker(eventBus, detector)
		if err := worker.Start(Config{WorkerCount: 4}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
			ingest(t, eventBus, domain.Transaction{ID: id, Amount: 10, PayerID: "p"})
		}
		// Malformed payloads are logged and skipped.
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("{"))

		deadline := time.Now().Add(time.Second)
		for detector.count() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if got := detector.count(); got != 3 {
			t.Errorf("expected 3 processed transactions, got %d", got)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := NewWorker(eventBus, &stubDetector{})
		if err := worker.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		payload, _ := json.Marshal(domain.Transaction{ID: "tx-big", Amount: 5000})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, domain.TopicTransactionIngested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var result domain.ScoringResult
		if err := json.Unmarshal(reply, &result); err != nil {
			t.Fatalf("failed to decode reply: %v", err)
		}
		if result.TransactionID != "tx-big" || !result.IsFraud {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("RequestReplyInvalid", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := NewWorker(eventBus, &stubDetector{})
		if err := worker.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		payload, _ := json.Marshal(domain.Transaction{ID: "tx-neg", Amount: -5})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, domain.TopicTransactionIngested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var body map[string]string
		if err := json.Unmarshal(reply, &body); err != nil {
			t.Fatalf("failed to decode reply: %v", err)
		}
		if body["error"] == "" {
			t.Error("expected error reply for invalid transaction")
		}
	})
}

func TestProcessTransactionParsing(t *testing.T) {
	worker := NewWorker(bus.NewChannelBus(1), &stubDetector{})

	err := worker.processTransaction(context.Background(), &domain.Message{ID: "m1", Payload: []byte("not json")})
	if err == nil {
		t.Error("expected parse error")
	}

	err = worker.processTransaction(context.Background(), &domain.Message{ID: "m2", Payload: []byte(`{"transaction_id":"x","amount":0}`)})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction, got %v", err)
	}
}
