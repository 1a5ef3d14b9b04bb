package domain

import "time"

// Post is a cached BlueSky post annotated with a relevance score.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content identifier of the record.
	CID string

	// Text is the post body text.
	Text string

	// Embedding is the post's content embedding, nil until one has been
	// computed or received out of band.
	Embedding []float32

	// ReplyParent and ReplyRoot reference other post URIs when this post is a
	// reply. They may dangle; the referenced posts are not required to be
	// cached.
	ReplyParent string
	ReplyRoot   string

	// IndexedAt is when we indexed this post.
	IndexedAt time.Time

	// Score is the predicted relevance, nil until the post has been scored.
	Score *float64
}

// EffectiveScore returns the score used for ranking. Unscored posts rank at
// zero so they sort after every positively scored post.
func (p *Post) EffectiveScore() float64 {
	if p.Score == nil {
		return 0
	}
	return *p.Score
}

// Like is a like record retained as positive training feedback. A like is only
// stored if its subject post was cached at the time it arrived.
type Like struct {
	// URI is the AT-URI of the like record.
	URI string

	// CID is the content identifier of the record.
	CID string

	// PostURI and PostCID identify the subject post.
	PostURI string
	PostCID string

	// Author is the DID of the account that liked the post.
	Author string

	// IndexedAt is when we indexed this like.
	IndexedAt time.Time

	// TrainedOn is flipped to true exactly once, by the training step. Trained
	// likes are purged by the following cleanup pass.
	TrainedOn bool
}
