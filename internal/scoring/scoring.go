// Package scoring provides the relevance-scoring capability behind the
// domain.Scorer interface: a pluggable text embedder feeding a small logistic
// head that is retrained online from accumulated likes.
package scoring

import (
	"context"
	"fmt"

	"github.com/drewmca/personalized-feedgen/internal/config"
)

// Embedder turns text into a fixed-length vector. Backends are selected at
// construction time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the width of vectors this embedder produces.
	Dimensions() int
}

// New builds a Model with the embedding backend selected by cfg.
func New(cfg config.ScoringConfig) (*Model, error) {
	var embedder Embedder
	switch cfg.Provider {
	case "", "local":
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 256
		}
		embedder = NewHashEmbedder(dims)
	case "openai":
		embedder = NewOpenAIEmbedder(cfg.APIKey, cfg.Model)
	case "ollama":
		embedder = NewOllamaEmbedder(cfg.URL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown scoring provider %q", cfg.Provider)
	}
	return NewModel(embedder), nil
}
