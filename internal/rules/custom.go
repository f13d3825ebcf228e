package rules

import (
	"fmt"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Snapshot is an immutable, priority-ordered set of active custom rules.
// A Snapshot is never modified after NewSnapshot returns, so it may be
// shared across concurrent scoring calls.
type Snapshot struct {
	rules []domain.CustomRule
}

// NewSnapshot keeps the active rules and orders them by descending
// priority. Ties keep their input order.
func NewSnapshot(rules []domain.CustomRule) *Snapshot {
	active := make([]domain.CustomRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}

	slices.SortStableFunc(active, func(a, b domain.CustomRule) int {
		return b.Priority - a.Priority
	})

	return &Snapshot{rules: active}
}

// FromPointers flattens a rule list as returned by a RuleSource.
func FromPointers(rules []*domain.CustomRule) []domain.CustomRule {
	out := make([]domain.CustomRule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (s *Snapshot) Rules() []domain.CustomRule {
	if s == nil {
		return nil
	}
	return slices.Clone(s.rules)
}

// Evaluate sums the score of every rule that matches tx, in priority
// order, with one reason per match. Totals are not clamped here.
func (s *Snapshot) Evaluate(tx *domain.Transaction) (float64, []string) {
	if s == nil {
		return 0, nil
	}

	var (
		total   float64
		reasons []string
	)
	for i := range s.rules {
		r := &s.rules[i]
		if !matches(r, tx) {
			continue
		}
		total += r.Score
		reasons = append(reasons, Reason(r))
	}
	return total, reasons
}

// Reason formats the explanation for a matched rule.
func Reason(r *domain.CustomRule) string {
	return fmt.Sprintf("Custom rule '%s': %s %s %s", r.Name, r.Field, r.Operator.Describe(), r.Value)
}

func matches(r *domain.CustomRule, tx *domain.Transaction) bool {
	// Free-form rules driven by AdvancedConfig are not supported yet and
	// never match. Without a config, "custom" is an ordinary field name.
	if r.Field == domain.CustomFieldSentinel && len(r.AdvancedConfig) > 0 {
		return false
	}

	actual, ok := tx.Field(r.Field)
	if !ok || actual == nil {
		return false
	}
	return Match(r.Operator, actual, r.Value)
}
