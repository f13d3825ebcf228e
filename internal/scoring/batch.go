package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("kestrel-scoring")

// ThresholdFunc picks the verdict threshold for a transaction.
type ThresholdFunc func(tx *domain.Transaction) float64

// DefaultThresholdFunc applies the amount-based default policy.
func DefaultThresholdFunc(tx *domain.Transaction) float64 {
	return ThresholdFor(tx.Amount)
}

// BatchResult holds per-transaction outcomes keyed by transaction ID.
// A transaction appears in exactly one of the two maps.
type BatchResult struct {
	Results map[string]domain.ScoringResult
	Errors  map[string]error
}

// ScoreBatch scores every transaction concurrently. Failures are recorded
// per transaction and never abort the rest of the batch. Transactions
// without an ID are keyed by their position, e.g. "#3". When an ID repeats,
// the first occurrence is scored and each later copy fails under
// "<id>#<position>".
func (s *Scorer) ScoreBatch(ctx context.Context, txs []*domain.Transaction, threshold ThresholdFunc) *BatchResult {
	if threshold == nil {
		threshold = DefaultThresholdFunc
	}

	ctx, span := tracer.Start(ctx, "scoring.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(txs))),
	)
	defer span.End()

	out := &BatchResult{
		Results: make(map[string]domain.ScoringResult, len(txs)),
		Errors:  make(map[string]error),
	}

	// One snapshot for the whole batch.
	snap := s.snapshot.Load()

	var mu sync.Mutex
	seen := make(map[string]struct{}, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)

	for i, tx := range txs {
		key := batchKey(i, tx)

		if _, dup := seen[key]; dup {
			mu.Lock()
			out.Errors[fmt.Sprintf("%s#%d", key, i)] = fmt.Errorf("%w: duplicate transaction_id %q in batch", ErrInvalidTransaction, key)
			mu.Unlock()
			continue
		}
		seen[key] = struct{}{}

		g.Go(func() error {
			res, err := s.scoreOne(gctx, snap, tx, threshold)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[key] = err
				return nil
			}
			out.Results[key] = res
			return nil
		})
	}

	// Goroutines never return errors, so Wait only synchronizes.
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("batch.scored", len(out.Results)),
		attribute.Int("batch.failed", len(out.Errors)),
	)
	return out
}

func (s *Scorer) scoreOne(ctx context.Context, snap *rules.Snapshot, tx *domain.Transaction, threshold ThresholdFunc) (res domain.ScoringResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.ScoringResult{}, err
	}
	if err := tx.Validate(); err != nil {
		return domain.ScoringResult{}, err
	}
	return s.ScoreWith(snap, tx, threshold(tx)), nil
}

func batchKey(i int, tx *domain.Transaction) string {
	if tx == nil || tx.ID == "" {
		return fmt.Sprintf("#%d", i)
	}
	return tx.ID
}
