// Package rules provides the static CEL rule set and the custom rule engine.
package rules

import (
	"fmt"
	"slices"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Static rule contributions.
const (
	ScoreAboveThreshold     = 0.5
	ScoreAboveHalfThreshold = 0.3
	ScoreAboveAmountFloor   = 0.2
	ScoreHighRiskChannel    = 0.2
	ScoreHighRiskMode       = 0.2

	// AmountFloor is the fixed lowest amount band.
	AmountFloor = 10000.0
)

// StaticConfig configures the static rule set.
type StaticConfig struct {
	AmountThreshold      float64  `json:"amount_threshold"`
	HighRiskChannels     []string `json:"high_risk_channels"`
	HighRiskPaymentModes []string `json:"high_risk_payment_modes"`
}

// DefaultStaticConfig returns the built-in configuration.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		AmountThreshold:      50000,
		HighRiskChannels:     []string{domain.ChannelWeb, domain.ChannelMobileApp},
		HighRiskPaymentModes: []string{domain.PaymentModeCreditCard, domain.PaymentModeDigitalWallet},
	}
}

// Merge returns c with every field set in override replacing the
// corresponding field wholesale. Lists are not merged element-wise.
func (c StaticConfig) Merge(override StaticConfig) StaticConfig {
	if override.AmountThreshold > 0 {
		c.AmountThreshold = override.AmountThreshold
	}
	if override.HighRiskChannels != nil {
		c.HighRiskChannels = slices.Clone(override.HighRiskChannels)
	}
	if override.HighRiskPaymentModes != nil {
		c.HighRiskPaymentModes = slices.Clone(override.HighRiskPaymentModes)
	}
	return c
}

type staticRule struct {
	name       string
	expression string
	program    cel.Program
	reason     func(score float64, tx *domain.Transaction, cfg *StaticConfig) string
}

// StaticRuleSet evaluates the built-in heuristics. Programs are compiled
// once; the set is read-only afterwards and safe for concurrent use.
type StaticRuleSet struct {
	cfg   StaticConfig
	rules []*staticRule
}

// NewStaticRuleSet compiles the static rules for cfg.
func NewStaticRuleSet(cfg StaticConfig) (*StaticRuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("payment_mode", cel.StringType),
		cel.Variable("threshold", cel.DoubleType),
		cel.Variable("amount_floor", cel.DoubleType),
		cel.Variable("high_risk_channels", cel.ListType(cel.StringType)),
		cel.Variable("high_risk_payment_modes", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := []*staticRule{
		{
			name: "amount_band",
			expression: fmt.Sprintf(
				"amount > threshold ? %v : (amount > threshold / 2.0 ? %v : (amount > amount_floor ? %v : 0.0))",
				ScoreAboveThreshold, ScoreAboveHalfThreshold, ScoreAboveAmountFloor),
			reason: amountReason,
		},
		{
			name:       "high_risk_channel",
			expression: fmt.Sprintf("channel in high_risk_channels ? %v : 0.0", ScoreHighRiskChannel),
			reason: func(_ float64, tx *domain.Transaction, _ *StaticConfig) string {
				return "High-risk channel: " + tx.Channel
			},
		},
		{
			name:       "high_risk_payment_mode",
			expression: fmt.Sprintf("payment_mode in high_risk_payment_modes ? %v : 0.0", ScoreHighRiskMode),
			reason: func(_ float64, tx *domain.Transaction, _ *StaticConfig) string {
				return "High-risk payment mode: " + tx.PaymentMode
			},
		},
	}

	for _, r := range rules {
		if r.program, err = compile(env, r.name, r.expression); err != nil {
			return nil, err
		}
	}

	if cfg.HighRiskChannels == nil {
		cfg.HighRiskChannels = []string{}
	}
	if cfg.HighRiskPaymentModes == nil {
		cfg.HighRiskPaymentModes = []string{}
	}

	return &StaticRuleSet{cfg: cfg, rules: rules}, nil
}

// Config returns the configuration the set was compiled for.
func (s *StaticRuleSet) Config() StaticConfig {
	return s.cfg
}

// Score evaluates every static rule against tx. The result is capped at 1.
// Rules that fail to evaluate contribute nothing.
func (s *StaticRuleSet) Score(tx *domain.Transaction) (float64, []string) {
	activation := map[string]any{
		"amount":                  tx.Amount,
		"channel":                 tx.Channel,
		"payment_mode":            tx.PaymentMode,
		"threshold":               s.cfg.AmountThreshold,
		"amount_floor":            AmountFloor,
		"high_risk_channels":      s.cfg.HighRiskChannels,
		"high_risk_payment_modes": s.cfg.HighRiskPaymentModes,
	}

	var (
		total   float64
		reasons []string
	)
	for _, r := range s.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		score := toScore(out)
		if score <= 0 {
			continue
		}
		total += score
		reasons = append(reasons, r.reason(score, tx, &s.cfg))
	}

	return min(total, 1.0), reasons
}

func amountReason(score float64, tx *domain.Transaction, cfg *StaticConfig) string {
	switch score {
	case ScoreAboveThreshold:
		return fmt.Sprintf("Amount %.2f exceeds threshold %.2f", tx.Amount, cfg.AmountThreshold)
	case ScoreAboveHalfThreshold:
		return fmt.Sprintf("Amount %.2f exceeds half of threshold %.2f", tx.Amount, cfg.AmountThreshold)
	default:
		return fmt.Sprintf("Amount %.2f exceeds %.2f", tx.Amount, AmountFloor)
	}
}

func compile(env *cel.Env, name, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", name, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", name, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", name, err)
	}
	return program, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
