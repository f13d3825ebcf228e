package scoring

import (
	"fmt"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ErrInvalidTransaction is returned by ScoreChecked for transactions that
// break the caller contract.
var ErrInvalidTransaction = domain.ErrInvalidTransaction

// Scorer is the fraud-scoring engine. The classifier and static rules are
// read-only after construction; the custom rule snapshot is swapped
// atomically by RefreshRules.
type Scorer struct {
	classifier model.Classifier
	static     *rules.StaticRuleSet
	aiWeight   float64
	batchLimit int

	snapshot atomic.Pointer[rules.Snapshot]
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithAIWeight sets the base classifier weight.
func WithAIWeight(w float64) Option {
	return func(s *Scorer) {
		if w > 0 && w <= 1 {
			s.aiWeight = w
		}
	}
}

// WithBatchLimit bounds the number of concurrent scoring calls in a batch.
func WithBatchLimit(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// NewScorer creates a scorer. A nil classifier runs without a model and a
// nil static set uses the default static configuration.
func NewScorer(classifier model.Classifier, static *rules.StaticRuleSet, opts ...Option) (*Scorer, error) {
	if classifier == nil {
		classifier = model.Unavailable
	}
	if static == nil {
		var err error
		static, err = rules.NewStaticRuleSet(rules.DefaultStaticConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to build static rules: %w", err)
		}
	}

	s := &Scorer{
		classifier: classifier,
		static:     static,
		aiWeight:   DefaultAIWeight,
		batchLimit: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(rules.NewSnapshot(nil))

	return s, nil
}

// RefreshRules replaces the custom rule snapshot used by later calls.
// Calls already in flight keep the snapshot they started with.
func (s *Scorer) RefreshRules(active []domain.CustomRule) {
	s.snapshot.Store(rules.NewSnapshot(active))
}

// Snapshot returns the current custom rule snapshot.
func (s *Scorer) Snapshot() *rules.Snapshot {
	return s.snapshot.Load()
}

// ModelAvailable reports whether a classifier is loaded.
func (s *Scorer) ModelAvailable() bool {
	return s.classifier.Available()
}

// Score evaluates tx against the current snapshot. It never fails: missing
// components contribute zero.
func (s *Scorer) Score(tx *domain.Transaction, threshold float64) domain.ScoringResult {
	return s.ScoreWith(s.snapshot.Load(), tx, threshold)
}

// ScoreChecked validates tx before scoring it.
func (s *Scorer) ScoreChecked(tx *domain.Transaction, threshold float64) (domain.ScoringResult, error) {
	if err := tx.Validate(); err != nil {
		return domain.ScoringResult{}, err
	}
	return s.Score(tx, threshold), nil
}

// ScoreWith evaluates tx against an explicit snapshot.
func (s *Scorer) ScoreWith(snap *rules.Snapshot, tx *domain.Transaction, threshold float64) domain.ScoringResult {
	if tx == nil {
		tx = &domain.Transaction{}
	}

	staticScore, staticReasons := s.static.Score(tx)
	customScore, customReasons := snap.Evaluate(tx)
	_, aiScore := s.classifier.Predict(tx)

	return Combine(CombineInput{
		TransactionID:  tx.ID,
		Amount:         tx.Amount,
		Threshold:      threshold,
		StaticScore:    staticScore,
		StaticReasons:  staticReasons,
		CustomScore:    customScore,
		CustomReasons:  customReasons,
		AIScore:        aiScore,
		ModelAvailable: s.classifier.Available(),
		RulesEvaluated: snap.Len(),
		BaseAIWeight:   s.aiWeight,
	})
}
