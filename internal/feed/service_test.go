package feed

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewmca/personalized-feedgen/internal/domain"
	"github.com/drewmca/personalized-feedgen/internal/sqlite"
)

const publisher = "did:example:alice"

func testService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(publisher, store, slog.Default()), store
}

func insertScored(t *testing.T, store *sqlite.Store, uri, cid string, score float64) {
	t.Helper()
	require.NoError(t, store.UpsertPosts(context.Background(), []*domain.Post{{
		URI:       uri,
		CID:       cid,
		Text:      "text",
		IndexedAt: time.Now().UTC(),
		Score:     &score,
	}}))
}

func predictedLikesURI() string {
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/predicted-likes", publisher)
}

func TestGetFeedUnsupportedAlgorithm(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.GetFeed(context.Background(), "at://did:example:alice/app.bsky.feed.generator/whats-alf", 10, "")
	assert.ErrorIs(t, err, domain.ErrUnsupportedAlgorithm)
}

func TestGetFeedRejectsNonPositiveLimit(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.GetFeed(context.Background(), predictedLikesURI(), 0, "")
	assert.Error(t, err)
}

func TestGetFeedMalformedCursor(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	for _, cursor := range []string{"nodelimiter", "::", "abc::cid", "123::", "::cid"} {
		_, err := svc.GetFeed(ctx, predictedLikesURI(), 10, cursor)
		assert.ErrorIs(t, err, domain.ErrMalformedCursor, "cursor %q", cursor)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := encodeCursor(0.731502, "bafycid123")
	decoded, err := decodeCursor(c)
	require.NoError(t, err)
	assert.Equal(t, encodeCursor(float64(decoded.ScoreMicros)/1e6, decoded.CID), c)
}

func TestGetFeedTwoPostScenario(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	insertScored(t, store, "at://p/a", "cidA", 0.9)
	insertScored(t, store, "at://p/b", "cidB", 0.5)

	first, err := svc.GetFeed(ctx, predictedLikesURI(), 1, "")
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "at://p/a", first.Items[0].Post)
	assert.Equal(t, 0.9, first.Items[0].Score)
	require.NotEmpty(t, first.Cursor)

	second, err := svc.GetFeed(ctx, predictedLikesURI(), 1, first.Cursor)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "at://p/b", second.Items[0].Post)

	// The second page is full, so a cursor is returned; the page after it is
	// empty and ends pagination.
	third, err := svc.GetFeed(ctx, predictedLikesURI(), 1, second.Cursor)
	require.NoError(t, err)
	assert.Empty(t, third.Items)
	assert.Empty(t, third.Cursor)
}

func TestGetFeedEnumeratesAllPostsExactlyOnce(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		insertScored(t, store,
			fmt.Sprintf("at://p/%02d", i),
			fmt.Sprintf("cid%02d", i),
			float64(i)/float64(n),
		)
	}

	seen := make(map[string]bool)
	var (
		cursor    string
		lastScore = 2.0
		pages     int
	)
	for {
		page, err := svc.GetFeed(ctx, predictedLikesURI(), 4, cursor)
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.False(t, seen[item.Post], "duplicate %s", item.Post)
			seen[item.Post] = true
			assert.LessOrEqual(t, item.Score, lastScore)
			lastScore = item.Score
		}
		pages++
		require.Less(t, pages, 20, "pagination did not terminate")
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	assert.Len(t, seen, n)
}

func TestPersonalizedFeedExcludesUnscoredPosts(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	insertScored(t, store, "at://p/scored", "c1", 0.4)
	require.NoError(t, store.UpsertPosts(ctx, []*domain.Post{{
		URI: "at://p/unscored", CID: "c2", Text: "t", IndexedAt: time.Now().UTC(),
	}}))

	personalized := fmt.Sprintf("at://%s/app.bsky.feed.generator/personalized", publisher)
	page, err := svc.GetFeed(ctx, personalized, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "at://p/scored", page.Items[0].Post)
}

func TestFeedURIs(t *testing.T) {
	svc, _ := testService(t)
	uris := svc.FeedURIs()
	require.Len(t, uris, 2)
	assert.Contains(t, uris, predictedLikesURI())
}
