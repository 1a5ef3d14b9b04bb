package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func scoredPost(uri, cid string, score float64) *domain.Post {
	return &domain.Post{
		URI:       uri,
		CID:       cid,
		Text:      "some text",
		IndexedAt: time.Now().UTC(),
		Score:     &score,
	}
}

func TestUpsertPostsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	post := scoredPost("at://did:plc:a/app.bsky.feed.post/1", "cid1", 0.7)
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{post}))
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{post}))

	posts, err := s.RankedPosts(ctx, 10, nil, false)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestUpsertLikesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	like := &domain.Like{
		URI:       "at://did:plc:b/app.bsky.feed.like/1",
		CID:       "lcid1",
		PostURI:   "at://did:plc:a/app.bsky.feed.post/1",
		PostCID:   "cid1",
		Author:    "did:plc:b",
		IndexedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertLikes(ctx, []*domain.Like{like}))
	require.NoError(t, s.UpsertLikes(ctx, []*domain.Like{like}))

	// Re-delivery under a different record URI collapses on (post, author).
	retry := *like
	retry.URI = "at://did:plc:b/app.bsky.feed.like/2"
	require.NoError(t, s.UpsertLikes(ctx, []*domain.Like{&retry}))

	likes, err := s.UntrainedLikes(ctx)
	require.NoError(t, err)
	assert.Len(t, likes, 1)
}

func TestDeleteMissingURIsIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.DeletePosts(ctx, []string{"at://nope/app.bsky.feed.post/1"}))
	assert.NoError(t, s.DeleteLikes(ctx, []string{"at://nope/app.bsky.feed.like/1"}))
}

func TestRankedPostsOrderAndTieBreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{
		scoredPost("at://p/low", "ccc", 0.2),
		scoredPost("at://p/tie2", "bbb", 0.5),
		scoredPost("at://p/high", "ddd", 0.9),
		scoredPost("at://p/tie1", "aaa", 0.5),
	}))

	posts, err := s.RankedPosts(ctx, 10, nil, false)
	require.NoError(t, err)
	require.Len(t, posts, 4)
	assert.Equal(t, "at://p/high", posts[0].URI)
	assert.Equal(t, "aaa", posts[1].CID)
	assert.Equal(t, "bbb", posts[2].CID)
	assert.Equal(t, "at://p/low", posts[3].URI)
}

func TestRankedPostsKeysetPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{
		scoredPost("at://p/1", "c1", 0.9),
		scoredPost("at://p/2", "c2", 0.5),
		scoredPost("at://p/3", "c3", 0.1),
	}))

	first, err := s.RankedPosts(ctx, 2, nil, false)
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[len(first)-1]
	after := &domain.FeedCursor{ScoreMicros: domain.ScoreMicros(*last.Score), CID: last.CID}
	rest, err := s.RankedPosts(ctx, 2, after, false)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "at://p/3", rest[0].URI)
}

func TestRankedPostsSubMicroScoresPaginateExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Scores that differ by less than a micro quantize to the same cursor
	// key, so they must rank as ties (cid ascending) rather than by their
	// raw float difference.
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{
		scoredPost("at://p/hi", "zzz", 0.1000004),
		scoredPost("at://p/lo", "aaa", 0.1000001),
	}))

	first, err := s.RankedPosts(ctx, 1, nil, false)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "aaa", first[0].CID)

	after := &domain.FeedCursor{
		ScoreMicros: domain.ScoreMicros(*first[0].Score),
		CID:         first[0].CID,
	}
	second, err := s.RankedPosts(ctx, 1, after, false)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "zzz", second[0].CID)

	rest, err := s.RankedPosts(ctx, 1, &domain.FeedCursor{
		ScoreMicros: domain.ScoreMicros(*second[0].Score),
		CID:         second[0].CID,
	}, false)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestRankedPostsScoredOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unscored := &domain.Post{URI: "at://p/unscored", CID: "u1", Text: "t", IndexedAt: time.Now().UTC()}
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{unscored, scoredPost("at://p/scored", "s1", 0.4)}))

	all, err := s.RankedPosts(ctx, 10, nil, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	// Unscored posts rank at zero, after every scored post.
	assert.Equal(t, "at://p/unscored", all[1].URI)

	scored, err := s.RankedPosts(ctx, 10, nil, true)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "at://p/scored", scored[0].URI)
}

func TestUpdatePostScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	post := &domain.Post{URI: "at://p/1", CID: "c1", Text: "t", IndexedAt: time.Now().UTC()}
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{post}))

	vec := []float32{0.25, -1, 3}
	require.NoError(t, s.UpdatePostScore(ctx, "at://p/1", vec, 0.8))

	posts, err := s.RankedPosts(ctx, 1, nil, true)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, vec, posts[0].Embedding)
	assert.Equal(t, 0.8, *posts[0].Score)

	// Unknown URI is a no-op, not an error.
	assert.NoError(t, s.UpdatePostScore(ctx, "at://p/missing", vec, 0.1))
}

func TestPostsOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := scoredPost("at://p/old", "c1", 0.1)
	old.IndexedAt = now.Add(-2 * time.Hour)
	fresh := scoredPost("at://p/fresh", "c2", 0.2)
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{old, fresh}))

	uris, err := s.PostsOlderThan(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"at://p/old"}, uris)
}

func TestLikeTrainingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	like := &domain.Like{
		URI: "at://l/1", CID: "c1", PostURI: "at://p/1", PostCID: "pc1",
		Author: "did:plc:x", IndexedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertLikes(ctx, []*domain.Like{like}))

	untrained, err := s.UntrainedLikes(ctx)
	require.NoError(t, err)
	require.Len(t, untrained, 1)

	require.NoError(t, s.MarkLikesTrained(ctx, []string{"at://l/1"}))
	require.NoError(t, s.MarkLikesTrained(ctx, []string{"at://l/1"})) // idempotent

	untrained, err = s.UntrainedLikes(ctx)
	require.NoError(t, err)
	assert.Empty(t, untrained)

	trained, err := s.TrainedLikes(ctx)
	require.NoError(t, err)
	require.Len(t, trained, 1)
	assert.True(t, trained[0].TrainedOn)
}

func TestPostEmbeddingsAndSampling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	embedded := scoredPost("at://p/1", "c1", 0.5)
	embedded.Embedding = []float32{1, 2}
	bare := scoredPost("at://p/2", "c2", 0.5)
	require.NoError(t, s.UpsertPosts(ctx, []*domain.Post{embedded, bare}))

	embs, err := s.PostEmbeddings(ctx, []string{"at://p/1", "at://p/2", "at://p/missing"})
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, []float32{1, 2}, embs["at://p/1"])

	samples, err := s.SamplePosts(ctx, 10, []string{"at://p/1"})
	require.NoError(t, err)
	assert.Empty(t, samples) // the only embedded post is excluded

	samples, err = s.SamplePosts(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "at://p/1", samples[0].URI)
}

func TestCursorMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cursor, err := s.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Zero(t, cursor)

	require.NoError(t, s.SetCursor(ctx, "jetstream", 100))
	require.NoError(t, s.SetCursor(ctx, "jetstream", 50)) // never decreases

	cursor, err = s.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Equal(t, int64(100), cursor)

	require.NoError(t, s.SetCursor(ctx, "jetstream", 200))
	cursor, err = s.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Equal(t, int64(200), cursor)
}
