package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransaction is returned when a transaction cannot be scored.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Known payment modes. The vocabulary is open; these are the values the
// static rules and the feature extractor treat specially.
const (
	PaymentModeCreditCard    = "credit_card"
	PaymentModeDebitCard     = "debit_card"
	PaymentModeBankTransfer  = "bank_transfer"
	PaymentModeWallet        = "wallet"
	PaymentModeDigitalWallet = "digital_wallet"
	PaymentModeUPI           = "upi"
)

// Known channels.
const (
	ChannelWeb       = "web"
	ChannelMobileApp = "mobile_app"
	ChannelPOS       = "pos"
	ChannelInStore   = "in_store"
	ChannelATM       = "atm"
	ChannelBranch    = "branch"
	ChannelPhone     = "phone"
)

// Rule field names resolvable on every transaction.
const (
	FieldTransactionID = "transaction_id"
	FieldAmount        = "amount"
	FieldPayerID       = "payer_id"
	FieldPayeeID       = "payee_id"
	FieldPaymentMode   = "payment_mode"
	FieldChannel       = "channel"
	FieldBank          = "bank"
)

// FieldPayerVelocity is the additional-data key the pipeline fills with the
// payer's transaction count in the velocity window.
const FieldPayerVelocity = "payer_velocity"

// Transaction is a payment presented for scoring.
// It is treated as immutable once handed to the scoring engine.
type Transaction struct {
	ID             string         `json:"transaction_id"`
	Amount         float64        `json:"amount"`
	PayerID        string         `json:"payer_id"`
	PayeeID        string         `json:"payee_id"`
	PaymentMode    string         `json:"payment_mode"`
	Channel        string         `json:"channel"`
	Bank           string         `json:"bank,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks the caller contract: an identifier and a strictly
// positive amount. Everything else is optional for scoring.
func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: transaction is required", ErrInvalidTransaction)
	}
	if t.ID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidTransaction)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidTransaction, t.Amount)
	}
	return nil
}

// Field resolves a named field for rule evaluation.
// Core fields win over additional data keys of the same name. An empty
// bank is reported as absent.
func (t *Transaction) Field(name string) (any, bool) {
	switch name {
	case FieldTransactionID:
		return t.ID, true
	case FieldAmount:
		return t.Amount, true
	case FieldPayerID:
		return t.PayerID, true
	case FieldPayeeID:
		return t.PayeeID, true
	case FieldPaymentMode:
		return t.PaymentMode, true
	case FieldChannel:
		return t.Channel, true
	case FieldBank:
		if t.Bank == "" {
			return nil, false
		}
		return t.Bank, true
	}

	if t.AdditionalData == nil {
		return nil, false
	}
	v, ok := t.AdditionalData[name]
	return v, ok
}

// WithAdditional returns a shallow copy of the transaction with an extra
// additional-data entry. The receiver is left untouched.
func (t *Transaction) WithAdditional(key string, value any) *Transaction {
	cp := *t
	cp.AdditionalData = make(map[string]any, len(t.AdditionalData)+1)
	for k, v := range t.AdditionalData {
		cp.AdditionalData[k] = v
	}
	cp.AdditionalData[key] = value
	return &cp
}

// ScoredTransaction is a transaction together with its stored verdict.
type ScoredTransaction struct {
	Transaction
	IsFraudPredicted bool     `json:"is_fraud_predicted"`
	FraudScore       float64  `json:"fraud_score"`
	RuleScore        float64  `json:"rule_score"`
	AIScore          float64  `json:"ai_score"`
	PredictionTimeMs int64    `json:"prediction_time_ms"`
	Reasons          []string `json:"reasons,omitempty"`
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	StartDate   *time.Time
	EndDate     *time.Time
	PayerID     string
	PayeeID     string
	PaymentMode string
	Channel     string
	Bank        string
	IsFraud     *bool
	Offset      int
	Limit       int
}
