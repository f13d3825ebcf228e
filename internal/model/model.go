// Package model wraps the pretrained fraud classifier: a feature scaler
// followed by a probabilistic estimator.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// DecisionBoundary is the probability at which Predict reports fraud.
const DecisionBoundary = 0.5

// Errors returned while loading an artifact.
var (
	ErrUnavailable     = errors.New("model unavailable")
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Classifier produces a fraud probability for a transaction.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Predict(tx *domain.Transaction) (bool, float64)
	Available() bool
}

// Estimator maps a scaled feature vector to a probability.
type Estimator interface {
	Probability(x features.Vector) float64
}

// Scaler standardizes features: (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns the standardized vector. A zero scale is treated as 1.
func (s *Scaler) Transform(v features.Vector) features.Vector {
	var out features.Vector
	for i := range v {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v[i] - s.Mean[i]) / scale
	}
	return out
}

func (s *Scaler) validate() error {
	if len(s.Mean) != features.Size || len(s.Scale) != features.Size {
		return fmt.Errorf("%w: scaler expects %d features, got mean=%d scale=%d",
			ErrInvalidArtifact, features.Size, len(s.Mean), len(s.Scale))
	}
	return nil
}

// Model is a loaded (scaler, estimator) pair. It is read-only after
// construction.
type Model struct {
	Version   string
	scaler    *Scaler
	estimator Estimator
}

// New assembles a model from its parts.
func New(version string, scaler *Scaler, estimator Estimator) (*Model, error) {
	if scaler == nil || estimator == nil {
		return nil, ErrUnavailable
	}
	if err := scaler.validate(); err != nil {
		return nil, err
	}
	return &Model{Version: version, scaler: scaler, estimator: estimator}, nil
}

// Predict scores tx. A nil model reports (false, 0).
func (m *Model) Predict(tx *domain.Transaction) (bool, float64) {
	if !m.Available() {
		return false, 0
	}

	x := m.scaler.Transform(features.Extract(tx))
	p := clamp01(m.estimator.Probability(x))
	return p >= DecisionBoundary, p
}

// Available reports whether the model can score.
func (m *Model) Available() bool {
	return m != nil && m.scaler != nil && m.estimator != nil
}

type unavailable struct{}

func (unavailable) Predict(*domain.Transaction) (bool, float64) { return false, 0 }
func (unavailable) Available() bool                             { return false }

// Unavailable is the classifier used when no artifact could be loaded.
var Unavailable Classifier = unavailable{}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
