package domain

import "time"

// FraudReport is ground truth filed after the fact for a scored transaction.
type FraudReport struct {
	ID              string    `json:"id"`
	TransactionID   string    `json:"transaction_id"`
	IsFraudReported bool      `json:"is_fraud_reported"`
	ReportingEntity string    `json:"reporting_entity_id"`
	Details         string    `json:"fraud_details,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConfusionMatrix counts predictions against reported outcomes.
type ConfusionMatrix struct {
	TruePositive  int64 `json:"true_positive"`
	FalsePositive int64 `json:"false_positive"`
	TrueNegative  int64 `json:"true_negative"`
	FalseNegative int64 `json:"false_negative"`
}

// Total returns the number of labelled transactions.
func (m ConfusionMatrix) Total() int64 {
	return m.TruePositive + m.FalsePositive + m.TrueNegative + m.FalseNegative
}

// Metrics summarizes detection quality over a period.
type Metrics struct {
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix"`
	Precision       float64         `json:"precision"`
	Recall          float64         `json:"recall"`
	F1Score         float64         `json:"f1_score"`
	Accuracy        float64         `json:"accuracy"`
	Total           int64           `json:"total_reported"`
	Start           *time.Time      `json:"start_date,omitempty"`
	End             *time.Time      `json:"end_date,omitempty"`
}
