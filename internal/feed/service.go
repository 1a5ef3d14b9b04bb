// Package feed answers rank-ordered, cursor-paginated reads against the post
// cache for the feed-serving endpoint.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// algorithm is one registered feed variant.
type algorithm struct {
	// scoredOnly excludes posts that have not been scored yet.
	scoredOnly bool
}

// Service serves ranked feed pages. Feeds are keyed by the AT-URI of their
// generator record.
type Service struct {
	algos  map[string]algorithm
	store  domain.Store
	logger *slog.Logger
}

// NewService registers the feed algorithms published under publisherDID:
// predicted-likes serves every cached post by relevance, personalized serves
// only posts that already carry a score.
func NewService(publisherDID string, store domain.Store, logger *slog.Logger) *Service {
	return &Service{
		algos: map[string]algorithm{
			feedURI(publisherDID, "predicted-likes"): {scoredOnly: false},
			feedURI(publisherDID, "personalized"):    {scoredOnly: true},
		},
		store:  store,
		logger: logger,
	}
}

func feedURI(publisherDID, name string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", publisherDID, name)
}

// FeedURIs returns the AT-URIs of all registered feeds, sorted.
func (s *Service) FeedURIs() []string {
	uris := make([]string, 0, len(s.algos))
	for uri := range s.algos {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Describe reports the generator identity and its feeds, as served by
// describeFeedGenerator.
func (s *Service) Describe(serviceDID string) domain.GeneratorDescription {
	return domain.GeneratorDescription{DID: serviceDID, Feeds: s.FeedURIs()}
}

// GetFeed returns one page of the ranked feed identified by feedURI. The
// cursor, when present, resumes strictly after the previously returned row.
// A full page carries the next cursor; a short page marks the end of data.
func (s *Service) GetFeed(ctx context.Context, feedURI string, limit int, cursor string) (*domain.FeedPage, error) {
	algo, ok := s.algos[feedURI]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedAlgorithm, feedURI)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var after *domain.FeedCursor
	if cursor != "" {
		var err error
		after, err = decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
	}

	posts, err := s.store.RankedPosts(ctx, limit, after, algo.scoredOnly)
	if err != nil {
		return nil, fmt.Errorf("query ranked posts: %w", err)
	}

	page := &domain.FeedPage{Items: make([]domain.FeedItem, len(posts))}
	for i, p := range posts {
		page.Items[i] = domain.FeedItem{
			ID:        p.CID,
			Post:      p.URI,
			Score:     p.EffectiveScore(),
			IndexTime: p.IndexedAt,
		}
	}
	if len(posts) == limit {
		last := posts[len(posts)-1]
		page.Cursor = encodeCursor(last.EffectiveScore(), last.CID)
	}

	s.logger.Debug("served feed page", "feed", feedURI, "items", len(page.Items), "next_cursor", page.Cursor)
	return page, nil
}
