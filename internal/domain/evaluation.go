package domain

// Fraud source attribution values.
const (
	SourceModel = "model"
	SourceRule  = "rule"
)

// ScoringResult is the verdict for a single transaction.
type ScoringResult struct {
	TransactionID string      `json:"transaction_id"`
	IsFraud       bool        `json:"is_fraud"`
	CombinedScore float64     `json:"fraud_score"`
	RuleScore     float64     `json:"rule_score"`
	AIScore       float64     `json:"ai_score"`
	Reasons       []string    `json:"reasons"`
	Diagnostics   Diagnostics `json:"diagnostics"`
}

// Diagnostics carries the intermediate values behind a ScoringResult.
type Diagnostics struct {
	StaticScore    float64 `json:"static_score"`
	CustomScore    float64 `json:"custom_score"`
	AIWeight       float64 `json:"ai_weight"`
	RuleWeight     float64 `json:"rule_weight"`
	AmountFloor    float64 `json:"amount_floor"`
	FloorApplied   bool    `json:"floor_applied"`
	FraudSource    string  `json:"fraud_source"`
	Threshold      float64 `json:"threshold"`
	RulesEvaluated int     `json:"rules_evaluated"`
	ModelAvailable bool    `json:"model_available"`
}

// Scored pairs a transaction with its result for storage.
func (r *ScoringResult) Scored(tx *Transaction, elapsedMs int64) *ScoredTransaction {
	return &ScoredTransaction{
		Transaction:      *tx,
		IsFraudPredicted: r.IsFraud,
		FraudScore:       r.CombinedScore,
		RuleScore:        r.RuleScore,
		AIScore:          r.AIScore,
		PredictionTimeMs: elapsedMs,
		Reasons:          r.Reasons,
	}
}
