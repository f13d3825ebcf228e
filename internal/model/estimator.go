package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/features"
)

// Node is one node of a binary decision tree. Leaves have Left and Right
// set to -1 and carry the fraud probability in Value. Samples go left when
// x[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

func (n *Node) leaf() bool {
	return n.Left < 0 && n.Right < 0
}

// Tree is a decision tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x features.Vector) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// validate rejects trees that could index out of range or loop. Children
// must come after their parent.
func (t *Tree) validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: empty tree", ErrInvalidArtifact)
	}
	for i, n := range t.Nodes {
		if n.leaf() {
			if n.Value < 0 || n.Value > 1 {
				return fmt.Errorf("%w: node %d leaf value %v outside [0,1]", ErrInvalidArtifact, i, n.Value)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= features.Size {
			return fmt.Errorf("%w: node %d feature %d out of range", ErrInvalidArtifact, i, n.Feature)
		}
		for _, child := range [2]int{n.Left, n.Right} {
			if child <= i || child >= len(t.Nodes) {
				return fmt.Errorf("%w: node %d child %d out of range", ErrInvalidArtifact, i, child)
			}
		}
	}
	return nil
}

// Forest averages the leaf probabilities of its trees.
type Forest struct {
	Trees []Tree `json:"trees"`
}

// Probability implements Estimator.
func (f *Forest) Probability(x features.Vector) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees))
}

func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrInvalidArtifact)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// Logistic is a linear model squashed through the sigmoid.
type Logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Probability implements Estimator.
func (l *Logistic) Probability(x features.Vector) float64 {
	z := l.Bias
	for i, w := range l.Weights {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z))
}

func (l *Logistic) validate() error {
	if len(l.Weights) != features.Size {
		return fmt.Errorf("%w: logistic expects %d weights, got %d", ErrInvalidArtifact, features.Size, len(l.Weights))
	}
	return nil
}
