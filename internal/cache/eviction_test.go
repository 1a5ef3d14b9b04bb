package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewmca/personalized-feedgen/internal/domain"
	"github.com/drewmca/personalized-feedgen/internal/scoring"
	"github.com/drewmca/personalized-feedgen/internal/sqlite"
)

const testTTL = 30 * time.Minute

func newTestCycle(t *testing.T) (*EvictionCycle, *sqlite.Store, *scoring.Model) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	model := scoring.NewModel(scoring.NewHashEmbedder(32))
	cycle := NewEvictionCycle(store, model, testTTL, slog.Default())
	return cycle, store, model
}

func embeddedPost(t *testing.T, model *scoring.Model, uri, cid, text string, indexedAt time.Time) *domain.Post {
	t.Helper()
	vec, err := model.Embed(context.Background(), text)
	require.NoError(t, err)
	return &domain.Post{
		URI:       uri,
		CID:       cid,
		Text:      text,
		Embedding: vec,
		IndexedAt: indexedAt,
	}
}

func TestMaybeCleanupBeforeTTLIsNoop(t *testing.T) {
	cycle, store, model := newTestCycle(t)
	ctx := context.Background()

	old := embeddedPost(t, model, "at://a/p/1", "cid1", "a stale post", time.Now().Add(-2*testTTL))
	require.NoError(t, store.UpsertPosts(ctx, []*domain.Post{old}))

	cycle.MaybeCleanup(ctx, time.Now())

	posts, err := store.RankedPosts(ctx, 10, nil, false)
	require.NoError(t, err)
	assert.Len(t, posts, 1, "no pass should run before the TTL elapses")
}

func TestMaybeCleanupEvictsOnlyStalePosts(t *testing.T) {
	cycle, store, model := newTestCycle(t)
	ctx := context.Background()

	old := embeddedPost(t, model, "at://a/p/old", "cid1", "a stale post", time.Now().Add(-2*testTTL))
	fresh := embeddedPost(t, model, "at://a/p/fresh", "cid2", "a fresh post", time.Now().Add(time.Minute))
	require.NoError(t, store.UpsertPosts(ctx, []*domain.Post{old, fresh}))

	cycle.MaybeCleanup(ctx, time.Now().Add(testTTL))
	cycle.Wait()

	posts, err := store.RankedPosts(ctx, 10, nil, false)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "at://a/p/fresh", posts[0].URI)
}

func TestMaybeCleanupTrainsOnLikesExactlyOnce(t *testing.T) {
	cycle, store, model := newTestCycle(t)
	ctx := context.Background()

	liked := embeddedPost(t, model, "at://a/p/1", "cid1", "databases and indexing", time.Now().Add(time.Minute))
	require.NoError(t, store.UpsertPosts(ctx, []*domain.Post{liked}))
	require.NoError(t, store.UpsertLikes(ctx, []*domain.Like{{
		URI:       "at://b/l/1",
		CID:       "lcid1",
		PostURI:   liked.URI,
		PostCID:   liked.CID,
		Author:    "did:plc:b",
		IndexedAt: time.Now(),
	}}))

	now := time.Now().Add(testTTL + time.Minute)
	cycle.MaybeCleanup(ctx, now)

	// The like flips to trained as part of the pass itself, before the
	// asynchronous weight update finishes.
	untrained, err := store.UntrainedLikes(ctx)
	require.NoError(t, err)
	assert.Empty(t, untrained)

	trained, err := store.TrainedLikes(ctx)
	require.NoError(t, err)
	require.Len(t, trained, 1)
	assert.Equal(t, "at://b/l/1", trained[0].URI)

	cycle.Wait()

	// Only positives were available, so the trained head prefers the liked
	// embedding over the untrained 0.5 prior.
	score, err := model.Score(ctx, liked.Embedding)
	require.NoError(t, err)
	assert.Greater(t, score, 0.5)

	// The next pass purges the consumed like instead of re-training on it.
	cycle.MaybeCleanup(ctx, now.Add(testTTL+time.Minute))
	cycle.Wait()

	trained, err = store.TrainedLikes(ctx)
	require.NoError(t, err)
	assert.Empty(t, trained)
}

func TestMaybeCleanupSkipsLikeWithoutEmbedding(t *testing.T) {
	cycle, store, _ := newTestCycle(t)
	ctx := context.Background()

	// Subject post cached but never embedded.
	require.NoError(t, store.UpsertPosts(ctx, []*domain.Post{{
		URI:       "at://a/p/1",
		CID:       "cid1",
		Text:      "???",
		IndexedAt: time.Now().Add(time.Minute),
	}}))
	require.NoError(t, store.UpsertLikes(ctx, []*domain.Like{{
		URI:       "at://b/l/1",
		CID:       "lcid1",
		PostURI:   "at://a/p/1",
		PostCID:   "cid1",
		Author:    "did:plc:b",
		IndexedAt: time.Now(),
	}}))

	cycle.MaybeCleanup(ctx, time.Now().Add(testTTL+time.Minute))
	cycle.Wait()

	// The like is still consumed: it can never produce an example, so
	// leaving it untrained would retry it forever.
	untrained, err := store.UntrainedLikes(ctx)
	require.NoError(t, err)
	assert.Empty(t, untrained)
}

func TestMaybeCleanupSamplesNegatives(t *testing.T) {
	cycle, store, model := newTestCycle(t)
	ctx := context.Background()

	liked := embeddedPost(t, model, "at://a/p/liked", "cid1", "distributed consensus protocols", time.Now().Add(time.Minute))
	unliked := embeddedPost(t, model, "at://a/p/unliked", "cid2", "celebrity gossip roundup", time.Now().Add(time.Minute))
	require.NoError(t, store.UpsertPosts(ctx, []*domain.Post{liked, unliked}))
	require.NoError(t, store.UpsertLikes(ctx, []*domain.Like{{
		URI:       "at://b/l/1",
		CID:       "lcid1",
		PostURI:   liked.URI,
		PostCID:   liked.CID,
		Author:    "did:plc:b",
		IndexedAt: time.Now(),
	}}))

	cycle.MaybeCleanup(ctx, time.Now().Add(testTTL+time.Minute))
	cycle.Wait()

	likedScore, err := model.Score(ctx, liked.Embedding)
	require.NoError(t, err)
	unlikedScore, err := model.Score(ctx, unliked.Embedding)
	require.NoError(t, err)
	assert.Greater(t, likedScore, unlikedScore)
}
