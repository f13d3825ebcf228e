// Package scoring merges the rule detector and the classifier into a
// single fraud verdict.
package scoring

import "github.com/opensource-finance/kestrel/internal/domain"

// Weighting policy.
const (
	// DefaultAIWeight is the classifier weight for ordinary amounts.
	DefaultAIWeight = 0.7

	// HighAmountAIWeight replaces the base weight above HighAmountCutoff,
	// shifting trust toward the rules.
	HighAmountAIWeight = 0.4
	HighAmountCutoff   = 25000.0
)

// Default threshold policy.
const (
	DefaultThreshold      = 0.5
	HighAmountThreshold   = 0.05
	ThresholdAmountCutoff = 10000.0
)

// floorTier enforces a minimum combined score above an amount.
type floorTier struct {
	above float64
	floor float64
}

// amountFloors are checked from the highest tier down; first match wins.
var amountFloors = []floorTier{
	{above: 50000, floor: 0.7},
	{above: 25000, floor: 0.5},
	{above: 10000, floor: 0.3},
}

// ThresholdFor returns the default verdict threshold for an amount.
func ThresholdFor(amount float64) float64 {
	if amount > ThresholdAmountCutoff {
		return HighAmountThreshold
	}
	return DefaultThreshold
}

// AmountFloor returns the minimum combined score for an amount, or 0 when
// no tier applies.
func AmountFloor(amount float64) float64 {
	for _, t := range amountFloors {
		if amount > t.above {
			return t.floor
		}
	}
	return 0
}

// AIWeightFor returns the classifier weight used for an amount.
func AIWeightFor(amount, base float64) float64 {
	if amount > HighAmountCutoff {
		return HighAmountAIWeight
	}
	return base
}

// CombineInput holds the detector outputs for one transaction.
type CombineInput struct {
	TransactionID  string
	Amount         float64
	Threshold      float64
	StaticScore    float64
	StaticReasons  []string
	CustomScore    float64
	CustomReasons  []string
	AIScore        float64
	ModelAvailable bool
	RulesEvaluated int

	// BaseAIWeight overrides DefaultAIWeight when in (0, 1].
	BaseAIWeight float64
}

// Combine applies the weighting and floor policy. It is a pure function of
// its input.
func Combine(in CombineInput) domain.ScoringResult {
	ruleScore := clamp(in.StaticScore+in.CustomScore, 0, 1)

	reasons := make([]string, 0, len(in.StaticReasons)+len(in.CustomReasons))
	reasons = append(reasons, in.StaticReasons...)
	reasons = append(reasons, in.CustomReasons...)

	base := in.BaseAIWeight
	if base <= 0 || base > 1 {
		base = DefaultAIWeight
	}
	aiWeight := AIWeightFor(in.Amount, base)
	ruleWeight := 1 - aiWeight

	combined := aiWeight*in.AIScore + ruleWeight*ruleScore

	floor := AmountFloor(in.Amount)
	floorApplied := false
	if floor > 0 && combined < floor {
		combined = floor
		floorApplied = true
	}

	source := domain.SourceRule
	if in.AIScore > ruleScore {
		source = domain.SourceModel
	}

	return domain.ScoringResult{
		TransactionID: in.TransactionID,
		IsFraud:       combined >= in.Threshold,
		CombinedScore: combined,
		RuleScore:     ruleScore,
		AIScore:       in.AIScore,
		Reasons:       reasons,
		Diagnostics: domain.Diagnostics{
			StaticScore:    in.StaticScore,
			CustomScore:    in.CustomScore,
			AIWeight:       aiWeight,
			RuleWeight:     ruleWeight,
			AmountFloor:    floor,
			FloorApplied:   floorApplied,
			FraudSource:    source,
			Threshold:      in.Threshold,
			RulesEvaluated: in.RulesEvaluated,
			ModelAvailable: in.ModelAvailable,
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
