// Package service wires the scoring engine to storage, caching, velocity
// and the event bus.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-service")

// DefaultRulesTTL bounds how long a cached rule set is trusted.
const DefaultRulesTTL = 30 * time.Second

// Detector runs the full detection pipeline around a Scorer.
type Detector struct {
	scorer    *scoring.Scorer
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	velocity  *velocity.Service
	threshold float64
	rulesTTL  time.Duration
}

// Option configures a Detector.
type Option func(*Detector)

// WithCache enables the rule snapshot cache.
func WithCache(c domain.Cache) Option {
	return func(d *Detector) { d.cache = c }
}

// WithBus enables scored and alert events.
func WithBus(b domain.EventBus) Option {
	return func(d *Detector) { d.bus = b }
}

// WithVelocity enables payer velocity enrichment.
func WithVelocity(v *velocity.Service) Option {
	return func(d *Detector) { d.velocity = v }
}

// WithThreshold fixes the verdict threshold. Zero keeps the amount-based
// default.
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

// WithRulesTTL sets how long the active rule set stays cached.
func WithRulesTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.rulesTTL = ttl
		}
	}
}

// NewDetector creates a detector. The repository may be nil, in which case
// nothing is persisted and only the current rule snapshot is used.
func NewDetector(scorer *scoring.Scorer, repo domain.Repository, opts ...Option) *Detector {
	d := &Detector{
		scorer:   scorer,
		repo:     repo,
		rulesTTL: DefaultRulesTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	telemetry.SetModelAvailable(scorer.ModelAvailable())
	return d
}

// Scorer returns the underlying scoring engine.
func (d *Detector) Scorer() *scoring.Scorer {
	return d.scorer
}

// ThresholdFor returns the verdict threshold applied to tx.
func (d *Detector) ThresholdFor(tx *domain.Transaction) float64 {
	if d.threshold > 0 {
		return d.threshold
	}
	return scoring.ThresholdFor(tx.Amount)
}

// Detect validates, enriches, scores, persists and publishes a single
// transaction. Only validation failures are returned; every later stage
// degrades instead of failing the request.
func (d *Detector) Detect(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResult, error) {
	ctx, span := tracer.Start(ctx, "detector.detect")
	defer span.End()

	if err := tx.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	tx = stamped(tx, time.Now().UTC())
	span.SetAttributes(attribute.String("transaction.id", tx.ID))

	d.refreshRules(ctx)
	tx = d.enrich(ctx, tx)

	start := time.Now()
	result := d.scorer.Score(tx, d.ThresholdFor(tx))
	elapsed := time.Since(start)

	d.record(ctx, tx, &result, elapsed)

	span.SetAttributes(
		attribute.Bool("fraud.detected", result.IsFraud),
		attribute.Float64("fraud.score", result.CombinedScore),
	)
	return &result, nil
}

// DetectBatch runs the pipeline over a batch. The rule snapshot is
// refreshed once for the whole batch.
func (d *Detector) DetectBatch(ctx context.Context, txs []*domain.Transaction) *scoring.BatchResult {
	ctx, span := tracer.Start(ctx, "detector.detect_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(txs))),
	)
	defer span.End()

	d.refreshRules(ctx)

	now := time.Now().UTC()
	enriched := make([]*domain.Transaction, len(txs))
	for i, tx := range txs {
		if tx == nil || tx.Validate() != nil {
			enriched[i] = tx
			continue
		}
		enriched[i] = d.enrich(ctx, stamped(tx, now))
	}

	start := time.Now()
	out := d.scorer.ScoreBatch(ctx, enriched, d.ThresholdFor)
	elapsed := time.Since(start)

	recorded := make(map[string]struct{}, len(out.Results))
	for _, tx := range enriched {
		if tx == nil {
			continue
		}
		if _, done := recorded[tx.ID]; done {
			continue
		}
		if result, ok := out.Results[tx.ID]; ok {
			recorded[tx.ID] = struct{}{}
			d.record(ctx, tx, &result, elapsed)
		}
	}
	return out
}

// ReloadRules reads the active rules from the repository, replaces the
// cached copy and the scorer snapshot, and announces the change.
func (d *Detector) ReloadRules(ctx context.Context) (int, error) {
	if d.repo == nil {
		return 0, fmt.Errorf("repository not available")
	}

	active, err := d.repo.ListActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active rules: %w", err)
	}
	d.apply(ctx, active, true)

	if d.bus != nil {
		if err := d.bus.Publish(ctx, domain.TopicRulesChanged, []byte(`{}`)); err != nil {
			telemetry.PipelineError(telemetry.StagePublish)
			slog.Warn("failed to publish rules change", "error", err)
		}
	}

	slog.Info("custom rules reloaded", "count", len(active))
	return len(active), nil
}

// WatchRules subscribes to rule change announcements from other instances
// and reloads the active rules from the repository when one arrives.
func (d *Detector) WatchRules(ctx context.Context) (domain.Subscription, error) {
	if d.bus == nil {
		return nil, fmt.Errorf("event bus not available")
	}
	return d.bus.Subscribe(ctx, domain.TopicRulesChanged, func(ctx context.Context, msg *domain.Message) error {
		if d.repo == nil {
			return nil
		}
		active, err := d.repo.ListActiveRules(ctx)
		if err != nil {
			return fmt.Errorf("failed to reload rules: %w", err)
		}
		d.apply(ctx, active, true)
		return nil
	})
}

// refreshRules loads the active rule set (cache first, then repository).
// When the repository cannot be read, scoring continues on the static rules
// alone.
func (d *Detector) refreshRules(ctx context.Context) {
	if d.cache != nil {
		cached, err := d.cache.GetRules(ctx)
		if err != nil {
			slog.Warn("rule cache read failed", "error", err)
		}
		if err == nil && cached != nil {
			d.apply(ctx, cached, false)
			return
		}
	}

	if d.repo == nil {
		return
	}

	active, err := d.repo.ListActiveRules(ctx)
	if err != nil {
		telemetry.PipelineError(telemetry.StageRules)
		slog.Error("failed to load custom rules, scoring with static rules only",
			"error", err,
			"dropped", d.scorer.Snapshot().Len(),
		)
		d.scorer.RefreshRules(nil)
		telemetry.SetActiveRules(0)
		return
	}
	d.apply(ctx, active, true)
}

func (d *Detector) apply(ctx context.Context, active []*domain.CustomRule, store bool) {
	if store && d.cache != nil {
		if err := d.cache.SetRules(ctx, active, d.rulesTTL); err != nil {
			slog.Warn("rule cache write failed", "error", err)
		}
	}
	d.scorer.RefreshRules(rules.FromPointers(active))
	telemetry.SetActiveRules(d.scorer.Snapshot().Len())
}

// stamped returns tx with CreatedAt set, copying it only when the caller
// left the timestamp empty.
func stamped(tx *domain.Transaction, now time.Time) *domain.Transaction {
	if !tx.CreatedAt.IsZero() {
		return tx
	}
	cp := *tx
	cp.CreatedAt = now
	return &cp
}

// enrich adds the payer velocity unless the caller already supplied it.
func (d *Detector) enrich(ctx context.Context, tx *domain.Transaction) *domain.Transaction {
	if d.velocity == nil || tx.PayerID == "" {
		return tx
	}
	if _, ok := tx.AdditionalData[domain.FieldPayerVelocity]; ok {
		return tx
	}

	count, err := d.velocity.Observe(ctx, tx.PayerID)
	if err != nil {
		telemetry.PipelineError(telemetry.StageVelocity)
		slog.Warn("payer velocity unavailable",
			"transaction_id", tx.ID,
			"error", err,
		)
		return tx
	}
	return tx.WithAdditional(domain.FieldPayerVelocity, count)
}

// record persists, publishes and measures one decision.
func (d *Detector) record(ctx context.Context, tx *domain.Transaction, result *domain.ScoringResult, elapsed time.Duration) {
	if d.repo != nil {
		if err := d.repo.SaveTransaction(ctx, result.Scored(tx, elapsed.Milliseconds())); err != nil {
			telemetry.PipelineError(telemetry.StagePersist)
			slog.Error("failed to save transaction",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	if d.bus != nil {
		d.publish(ctx, tx, result)
	}

	telemetry.ObserveScore(result, elapsed)

	slog.Debug("transaction scored",
		"transaction_id", tx.ID,
		"fraud", result.IsFraud,
		"score", result.CombinedScore,
		"source", result.Diagnostics.FraudSource,
		"duration_ms", elapsed.Milliseconds(),
	)
}

func (d *Detector) publish(ctx context.Context, tx *domain.Transaction, result *domain.ScoringResult) {
	payload, err := json.Marshal(domain.ScoredEvent{Transaction: tx, Result: result})
	if err != nil {
		slog.Error("failed to marshal scored event", "transaction_id", tx.ID, "error", err)
		return
	}

	topics := []string{domain.TopicTransactionScored}
	if result.IsFraud {
		topics = append(topics, domain.TopicFraudAlert)
	}
	for _, topic := range topics {
		if err := d.bus.Publish(ctx, topic, payload); err != nil {
			telemetry.PipelineError(telemetry.StagePublish)
			slog.Error("failed to publish event",
				"topic", topic,
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}
}
