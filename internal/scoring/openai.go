package scoring

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

const openAIDimensions = 1536

// OpenAIEmbedder uses the OpenAI embeddings API. Its 1536-wide vectors match
// the embedding-firehose side channel, so both sources feed the same model.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder. If model is empty it
// defaults to text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  m,
	}
}

func (e *OpenAIEmbedder) Dimensions() int { return openAIDimensions }

// Embed requests an embedding for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrEmbedding)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", domain.ErrEmbedding, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: openai returned no embeddings", domain.ErrEmbedding)
	}
	return resp.Data[0].Embedding, nil
}
