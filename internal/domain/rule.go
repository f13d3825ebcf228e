package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRule is returned when a custom rule fails validation.
var ErrInvalidRule = errors.New("invalid rule")

// CustomFieldSentinel is the reserved field name for free-form rules
// driven by AdvancedConfig.
const CustomFieldSentinel = "custom"

// RuleType classifies a custom rule. It is informational and does not
// change evaluation.
type RuleType string

const (
	RuleTypeThreshold   RuleType = "threshold"
	RuleTypePattern     RuleType = "pattern"
	RuleTypeCombination RuleType = "combination"
	RuleTypeVelocity    RuleType = "velocity"
	RuleTypeCustom      RuleType = "custom"
)

// ParseRuleType converts a string into a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	switch t := RuleType(strings.ToLower(strings.TrimSpace(s))); t {
	case RuleTypeThreshold, RuleTypePattern, RuleTypeCombination, RuleTypeVelocity, RuleTypeCustom:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, s)
}

// Operator is a custom rule comparison operator.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEqual, OpNotEqual,
	OpGreater, OpLess, OpGreaterEqual, OpLessEqual,
	OpIn, OpNotIn,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith,
}

// ParseOperator converts a string into an Operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	for _, known := range Operators {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, s)
}

// Numeric reports whether the operator compares numbers.
func (o Operator) Numeric() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Describe returns the human-readable verb used in reasons.
func (o Operator) Describe() string {
	switch o {
	case OpEqual:
		return "equals"
	case OpNotEqual:
		return "does not equal"
	case OpGreater:
		return "greater than"
	case OpLess:
		return "less than"
	case OpGreaterEqual:
		return "greater than or equal to"
	case OpLessEqual:
		return "less than or equal to"
	case OpIn:
		return "in"
	case OpNotIn:
		return "not in"
	case OpContains:
		return "contains"
	case OpNotContains:
		return "does not contain"
	case OpStartsWith:
		return "starts with"
	case OpEndsWith:
		return "ends with"
	}
	return string(o)
}

// CustomRule is a user-defined, data-driven scoring rule.
type CustomRule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Type           RuleType       `json:"rule_type"`
	Field          string         `json:"field"`
	Operator       Operator       `json:"operator"`
	Value          string         `json:"value"`
	Score          float64        `json:"score"`
	Active         bool           `json:"active"`
	Priority       int            `json:"priority"`
	AdvancedConfig map[string]any `json:"advanced_config,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate normalizes the operator and type spelling and rejects rules the
// engine could never evaluate. Unknown operators are caught here rather
// than at scoring time.
func (r *CustomRule) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Field = strings.TrimSpace(r.Field)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidRule)
	}

	op, err := ParseOperator(string(r.Operator))
	if err != nil {
		return err
	}
	r.Operator = op

	typ, err := ParseRuleType(string(r.Type))
	if err != nil {
		return err
	}
	r.Type = typ

	if r.Score < 0 || r.Score > 1 {
		return fmt.Errorf("%w: score must be between 0 and 1, got %v", ErrInvalidRule, r.Score)
	}
	return nil
}

// RuleSource supplies the active custom rules visible at scoring time.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]*CustomRule, error)
}
