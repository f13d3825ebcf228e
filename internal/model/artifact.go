package model

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/features"
)

// Estimator kinds understood by Parse.
const (
	KindForest   = "forest"
	KindLogistic = "logistic"
)

// Artifact is the serialized form of a trained model.
type Artifact struct {
	Version   string            `json:"version"`
	Features  int               `json:"features"`
	Scaler    Scaler            `json:"scaler"`
	Estimator EstimatorArtifact `json:"estimator"`
}

// EstimatorArtifact holds exactly one estimator, selected by Kind.
type EstimatorArtifact struct {
	Kind     string    `json:"kind"`
	Forest   *Forest   `json:"forest,omitempty"`
	Logistic *Logistic `json:"logistic,omitempty"`
}

// Parse decodes and validates an artifact.
func Parse(data []byte) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return a.Build()
}

// Build validates the artifact and returns the model it describes.
func (a *Artifact) Build() (*Model, error) {
	if a.Features != features.Size {
		return nil, fmt.Errorf("%w: artifact has %d features, extractor produces %d",
			ErrInvalidArtifact, a.Features, features.Size)
	}

	var est Estimator
	switch a.Estimator.Kind {
	case KindForest:
		if a.Estimator.Forest == nil {
			return nil, fmt.Errorf("%w: forest estimator missing", ErrInvalidArtifact)
		}
		if err := a.Estimator.Forest.validate(); err != nil {
			return nil, err
		}
		est = a.Estimator.Forest
	case KindLogistic:
		if a.Estimator.Logistic == nil {
			return nil, fmt.Errorf("%w: logistic estimator missing", ErrInvalidArtifact)
		}
		if err := a.Estimator.Logistic.validate(); err != nil {
			return nil, err
		}
		est = a.Estimator.Logistic
	default:
		return nil, fmt.Errorf("%w: unknown estimator kind %q", ErrInvalidArtifact, a.Estimator.Kind)
	}

	scaler := a.Scaler
	return New(a.Version, &scaler, est)
}
