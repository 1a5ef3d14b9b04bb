package domain

import "errors"

// Sentinel errors for the pipeline. None of these are fatal in routine
// operation; callers log and skip, or map them to user-facing XRPC errors.
var (
	// ErrMalformedCursor indicates a pagination cursor that does not decode.
	ErrMalformedCursor = errors.New("malformed cursor")

	// ErrUnsupportedAlgorithm indicates an unknown feed identifier.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrEmbedding indicates the scoring backend failed to embed text. The
	// affected post is stored without a score rather than failing the event.
	ErrEmbedding = errors.New("embedding failed")

	// ErrScoring indicates the scoring backend failed to score a vector.
	ErrScoring = errors.New("scoring failed")
)
