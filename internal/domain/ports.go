package domain

import (
	"context"
	"time"
)

// Store defines persistence for cached posts, training likes, and firehose
// cursors. All writes are conflict-tolerant: inserting an existing primary key
// is a silent no-op, and deleting a missing URI is not an error. Events are
// processed sequentially, so the store is effectively single-writer.
type Store interface {
	// UpsertPosts inserts posts, ignoring rows whose URI already exists.
	UpsertPosts(ctx context.Context, posts []*Post) error

	// UpsertLikes inserts likes, ignoring rows whose URI (or post/author
	// pair) already exists.
	UpsertLikes(ctx context.Context, likes []*Like) error

	// DeletePosts removes posts by URI. Missing URIs are ignored.
	DeletePosts(ctx context.Context, uris []string) error

	// DeleteLikes removes likes by URI. Missing URIs are ignored.
	DeleteLikes(ctx context.Context, uris []string) error

	// ExistingPostURIs reports which of the given URIs are cached.
	ExistingPostURIs(ctx context.Context, uris []string) (map[string]bool, error)

	// UpdatePostScore patches the embedding and score of an already cached
	// post. Unknown URIs are a no-op.
	UpdatePostScore(ctx context.Context, uri string, embedding []float32, score float64) error

	// PostsOlderThan returns the URIs of posts indexed before cutoff.
	PostsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)

	// TrainedLikes returns likes already consumed by training.
	TrainedLikes(ctx context.Context) ([]Like, error)

	// UntrainedLikes returns likes not yet consumed by training.
	UntrainedLikes(ctx context.Context) ([]Like, error)

	// MarkLikesTrained flips trainedOn for the given like URIs.
	MarkLikesTrained(ctx context.Context, uris []string) error

	// PostEmbeddings returns the stored embeddings for the given post URIs,
	// omitting posts that are missing or have no embedding.
	PostEmbeddings(ctx context.Context, uris []string) (map[string][]float32, error)

	// SamplePosts returns up to limit random posts that have an embedding,
	// excluding the given URIs. Used for negative sampling.
	SamplePosts(ctx context.Context, limit int, exclude []string) ([]Post, error)

	// RankedPosts returns posts ordered by score descending, CID ascending,
	// strictly after the cursor position when after is non-nil. When
	// scoredOnly is set, unscored posts are excluded.
	RankedPosts(ctx context.Context, limit int, after *FeedCursor, scoredOnly bool) ([]Post, error)

	// GetCursor retrieves the last-processed firehose cursor for the given
	// service. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// SetCursor persists the firehose cursor. The stored value never
	// decreases.
	SetCursor(ctx context.Context, service string, cursor int64) error
}

// TrainingExample is one labeled vector for Scorer.Train. Label is 1 for a
// liked post and 0 for a sampled negative.
type TrainingExample struct {
	Vector []float32
	Label  float64
}

// Scorer is the scoring capability: text to vector, vector to relevance, and
// incremental retraining from labeled examples. Concrete backends are selected
// at construction time; the processor and eviction cycle depend only on this
// surface.
type Scorer interface {
	// Embed maps text to a fixed-length vector. Fails with ErrEmbedding when
	// the input cannot be tokenized.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Score maps a vector to a relevance estimate in [0, 1].
	Score(ctx context.Context, vec []float32) (float64, error)

	// Train updates model weights from labeled pairs. Calling it with zero
	// examples is a no-op.
	Train(ctx context.Context, examples []TrainingExample) error
}
