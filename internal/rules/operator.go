package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Match reports whether actual satisfies op against the rule's stored
// value. Operands that cannot be coerced simply do not match.
func Match(op domain.Operator, actual any, expected string) bool {
	switch op {
	case domain.OpGreater, domain.OpLess, domain.OpGreaterEqual, domain.OpLessEqual:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		b, ok := parseFloat(expected)
		if !ok {
			return false
		}
		return compareFloats(op, a, b)

	case domain.OpEqual:
		return stringify(actual) == expected
	case domain.OpNotEqual:
		return stringify(actual) != expected

	case domain.OpIn:
		return slices.Contains(splitList(expected), stringify(actual))
	case domain.OpNotIn:
		return !slices.Contains(splitList(expected), stringify(actual))

	case domain.OpContains:
		s, ok := actual.(string)
		return ok && strings.Contains(s, expected)
	case domain.OpNotContains:
		s, ok := actual.(string)
		return ok && !strings.Contains(s, expected)
	case domain.OpStartsWith:
		s, ok := actual.(string)
		return ok && strings.HasPrefix(s, expected)
	case domain.OpEndsWith:
		s, ok := actual.(string)
		return ok && strings.HasSuffix(s, expected)
	}

	// Unknown operators are rejected when the rule is created.
	return false
}

func compareFloats(op domain.Operator, a, b float64) bool {
	switch op {
	case domain.OpGreater:
		return a > b
	case domain.OpLess:
		return a < b
	case domain.OpGreaterEqual:
		return a >= b
	case domain.OpLessEqual:
		return a <= b
	}
	return false
}

// splitList splits a comma-separated rule value and trims each item.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// toFloat coerces a transaction value to float64. Booleans do not coerce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		return parseFloat(n.String())
	case string:
		return parseFloat(n)
	}
	return 0, false
}

// stringify renders a transaction value for equality and membership tests.
// Whole floats render without a fractional part, so 6000.0 is "6000".
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
