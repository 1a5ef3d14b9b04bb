package scoring

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// HashEmbedder maps text to a hashed bag-of-words vector. It needs no
// external service or vocabulary, which makes it the default backend: each
// token is hashed into one of dims buckets and the bucket counts are L2
// normalized. The mapping is deterministic for a given input.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder producing vectors of width dims.
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed tokenizes the text and folds the tokens into a normalized
// fixed-length vector. Text that yields no tokens cannot be embedded.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens in %q", domain.ErrEmbedding, truncate(text, 40))
	}

	vec := make([]float32, h.dims)
	for _, tok := range tokens {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[int(f.Sum32())%h.dims]++
	}
	normalize(vec)
	return vec, nil
}

// tokenize splits text into lowercase tokens, stripping punctuation and
// single-character fragments.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r > 127 {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// normalize performs in-place L2 normalization.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
