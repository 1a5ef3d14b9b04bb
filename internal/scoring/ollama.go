package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// OllamaEmbedder uses a self-hosted Ollama instance's embed API.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client

	// mu guards dims: Embed runs on concurrent goroutines when one event
	// carries several creates, and the first response pins the width.
	mu   sync.Mutex
	dims int
}

// NewOllamaEmbedder creates an Ollama-backed embedder. Defaults: local
// instance, nomic-embed-text.
func NewOllamaEmbedder(url, model string) *OllamaEmbedder {
	if url == "" {
		url = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		dims:   768,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// Embed sends text to Ollama's embed endpoint and returns the vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrEmbedding)
	}

	body, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", domain.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbedding, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama status %d: %s", domain.ErrEmbedding, resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrEmbedding, err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embeddings", domain.ErrEmbedding)
	}

	vec := result.Embeddings[0]
	e.mu.Lock()
	if e.dims != len(vec) {
		e.dims = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}
