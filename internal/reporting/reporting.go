// Package reporting derives detection quality metrics from predictions and
// reported outcomes.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrInvalidRange is returned when the end date precedes the start date.
var ErrInvalidRange = errors.New("invalid date range")

// Precision of reported ratios.
const ratioPlaces = 4

// ConfusionSource is the subset of the repository reporting needs.
type ConfusionSource interface {
	ConfusionCounts(ctx context.Context, start, end *time.Time) (domain.ConfusionMatrix, error)
}

// Compute derives precision, recall, F1 and accuracy from a confusion
// matrix. Undefined ratios are reported as 0.
func Compute(m domain.ConfusionMatrix) domain.Metrics {
	precision := ratio(m.TruePositive, m.TruePositive+m.FalsePositive)
	recall := ratio(m.TruePositive, m.TruePositive+m.FalseNegative)
	accuracy := ratio(m.TruePositive+m.TrueNegative, m.Total())

	f1 := decimal.Zero
	if sum := precision.Add(recall); !sum.IsZero() {
		f1 = decimal.NewFromInt(2).Mul(precision).Mul(recall).DivRound(sum, ratioPlaces)
	}

	return domain.Metrics{
		ConfusionMatrix: m,
		Precision:       precision.InexactFloat64(),
		Recall:          recall.InexactFloat64(),
		F1Score:         f1.InexactFloat64(),
		Accuracy:        accuracy.InexactFloat64(),
		Total:           m.Total(),
	}
}

func ratio(num, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), ratioPlaces)
}

// Service computes metrics over stored data.
type Service struct {
	source ConfusionSource
}

// NewService creates a reporting service.
func NewService(source ConfusionSource) *Service {
	return &Service{source: source}
}

// Metrics returns detection metrics for transactions created within the
// optional date range.
func (s *Service) Metrics(ctx context.Context, start, end *time.Time) (domain.Metrics, error) {
	if start != nil && end != nil && end.Before(*start) {
		return domain.Metrics{}, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	m, err := s.source.ConfusionCounts(ctx, start, end)
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("failed to count outcomes: %w", err)
	}

	metrics := Compute(m)
	metrics.Start = start
	metrics.End = end
	return metrics, nil
}
