package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// Model implements domain.Scorer: a pluggable embedder feeding a logistic
// regression head. Weights start at zero, which scores every post at 0.5
// until the first training pass.
//
// Score reads the weights under a shared lock and Train swaps them in one
// short exclusive section after computing the update on a private copy, so a
// running training pass does not block scoring. Concurrent Train calls are
// serialized by the caller's single-flight guard.
type Model struct {
	embedder Embedder

	mu      sync.RWMutex
	weights []float64
	bias    float64

	learningRate float64
	epochs       int
}

// NewModel creates a Model over the given embedder.
func NewModel(embedder Embedder) *Model {
	return &Model{
		embedder:     embedder,
		learningRate: 0.1,
		epochs:       5,
	}
}

// Embed delegates to the configured embedding backend.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedder.Embed(ctx, text)
}

// Dimensions is the vector width of the configured embedding backend.
func (m *Model) Dimensions() int {
	return m.embedder.Dimensions()
}

// Score maps a vector to a relevance estimate in (0, 1).
func (m *Model) Score(_ context.Context, vec []float32) (float64, error) {
	if len(vec) == 0 {
		return 0, fmt.Errorf("%w: empty vector", domain.ErrScoring)
	}

	m.mu.RLock()
	weights := m.weights
	bias := m.bias
	m.mu.RUnlock()

	if weights != nil && len(weights) != len(vec) {
		return 0, fmt.Errorf("%w: vector width %d, model width %d", domain.ErrScoring, len(vec), len(weights))
	}

	z := bias
	for i, w := range weights {
		z += w * float64(vec[i])
	}
	return sigmoid(z), nil
}

// Train runs stochastic gradient descent over the labeled examples and swaps
// the updated weights in. Zero examples is a no-op. Examples whose width does
// not match the batch are skipped.
func (m *Model) Train(ctx context.Context, examples []domain.TrainingExample) error {
	if len(examples) == 0 {
		return nil
	}

	dims := len(examples[0].Vector)
	if dims == 0 {
		return fmt.Errorf("%w: empty training vector", domain.ErrScoring)
	}

	m.mu.RLock()
	weights := make([]float64, dims)
	if len(m.weights) == dims {
		copy(weights, m.weights)
	}
	bias := m.bias
	m.mu.RUnlock()

	for epoch := 0; epoch < m.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrScoring, err)
		}
		for _, ex := range examples {
			if len(ex.Vector) != dims {
				continue
			}
			z := bias
			for i, w := range weights {
				z += w * float64(ex.Vector[i])
			}
			grad := sigmoid(z) - ex.Label
			for i := range weights {
				weights[i] -= m.learningRate * grad * float64(ex.Vector[i])
			}
			bias -= m.learningRate * grad
		}
	}

	m.mu.Lock()
	m.weights = weights
	m.bias = bias
	m.mu.Unlock()
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
