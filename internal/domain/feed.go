package domain

import "time"

// FeedItem is a single scored entry in a feed page. Score and IndexTime are
// internal-only extensions; the wire skeleton carries just the post URI.
type FeedItem struct {
	// ID is the content identifier of the post.
	ID string

	// Post is the AT-URI of the post.
	Post string

	// Score is the relevance estimate the item was ranked by.
	Score float64

	// IndexTime is when the post was indexed.
	IndexTime time.Time
}

// FeedPage is one cursor-delimited slice of the ranked feed.
type FeedPage struct {
	Items []FeedItem

	// Cursor resumes pagination after the last item, empty at end of data.
	Cursor string
}

// FeedCursor is the decoded pagination position: the ordering-key values of
// the last-seen row. Ranking is score descending with CID ascending as the
// tie-break, so a cursor is strictly "after" rows with a higher score, or an
// equal score and a smaller CID.
type FeedCursor struct {
	// ScoreMicros is the score in integer millionths.
	ScoreMicros int64

	// CID is the tie-break key.
	CID string
}

// ScoreMicros converts a score to the integer micro resolution used by
// cursors and keyset predicates.
func ScoreMicros(score float64) int64 {
	if score >= 0 {
		return int64(score*1e6 + 0.5)
	}
	return int64(score*1e6 - 0.5)
}

// GeneratorDescription is the response body for describeFeedGenerator.
type GeneratorDescription struct {
	DID   string
	Feeds []string
}
