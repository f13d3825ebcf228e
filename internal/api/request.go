package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// TransactionRequest is the request body for POST /detect.
type TransactionRequest struct {
	TransactionID  string          `json:"transaction_id" validate:"omitempty,max=128"`
	Amount         decimal.Decimal `json:"amount"`
	PayerID        string          `json:"payer_id" validate:"required,max=128"`
	PayeeID        string          `json:"payee_id" validate:"required,max=128"`
	PaymentMode    string          `json:"payment_mode" validate:"required,max=64"`
	Channel        string          `json:"channel" validate:"required,max=64"`
	Bank           string          `json:"bank,omitempty" validate:"max=128"`
	AdditionalData map[string]any  `json:"additional_data,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
}

// Transaction converts the request into a domain transaction. A missing
// transaction_id is generated.
func (r *TransactionRequest) Transaction() (*domain.Transaction, error) {
	if !r.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	tx := &domain.Transaction{
		ID:             r.TransactionID,
		Amount:         r.Amount.InexactFloat64(),
		PayerID:        r.PayerID,
		PayeeID:        r.PayeeID,
		PaymentMode:    strings.ToLower(r.PaymentMode),
		Channel:        strings.ToLower(r.Channel),
		Bank:           r.Bank,
		AdditionalData: r.AdditionalData,
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if r.CreatedAt != nil {
		tx.CreatedAt = r.CreatedAt.UTC()
	}
	return tx, nil
}

// BatchRequest is the request body for POST /batch-detect. Items are
// validated one by one so a bad item only fails itself.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions" validate:"required,min=1,max=1000"`
}

// ReportRequest is the request body for POST /report.
type ReportRequest struct {
	TransactionID     string `json:"transaction_id" validate:"required"`
	IsFraud           *bool  `json:"is_fraud" validate:"required"`
	ReportingEntityID string `json:"reporting_entity_id" validate:"required,max=128"`
	FraudDetails      string `json:"fraud_details,omitempty" validate:"max=4096"`
}

// RuleRequest is the request body for creating or replacing a custom rule.
type RuleRequest struct {
	Name           string         `json:"name" validate:"required,max=128"`
	Description    string         `json:"description,omitempty" validate:"max=1024"`
	RuleType       string         `json:"rule_type" validate:"required"`
	Field          string         `json:"field" validate:"required,max=128"`
	Operator       string         `json:"operator" validate:"required"`
	Value          string         `json:"value" validate:"max=4096"`
	Score          *float64       `json:"score" validate:"required,gte=0,lte=1"`
	Active         *bool          `json:"active,omitempty"`
	Priority       int            `json:"priority"`
	AdvancedConfig map[string]any `json:"advanced_config,omitempty"`
}

// Rule converts the request into a validated custom rule. Rules are
// active unless the request says otherwise.
func (r *RuleRequest) Rule() (*domain.CustomRule, error) {
	rule := &domain.CustomRule{
		Name:           r.Name,
		Description:    r.Description,
		Type:           domain.RuleType(r.RuleType),
		Field:          r.Field,
		Operator:       domain.Operator(r.Operator),
		Value:          r.Value,
		Score:          *r.Score,
		Active:         true,
		Priority:       r.Priority,
		AdvancedConfig: r.AdvancedConfig,
	}
	if r.Active != nil {
		rule.Active = *r.Active
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// bindAndValidate decodes the JSON body into T and validates it. On failure
// it writes the error response and returns nil.
func bindAndValidate[T any](w http.ResponseWriter, r *http.Request) *T {
	var input T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil
	}
	if err := validate.Struct(input); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return nil
	}
	return &input
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Drop the top-level struct name.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}
