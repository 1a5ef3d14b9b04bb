// Package cache runs the periodic eviction and retraining cycle over the
// post cache.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

const trainTimeout = time.Minute

// EvictionCycle evicts stale posts and consumed training likes and triggers
// retraining. It is driven inline from event processing rather than a timer:
// MaybeCleanup is called after every processed event and is a no-op until the
// TTL has elapsed since the previous pass.
//
// MaybeCleanup is only ever called from the sequential event loop, so the
// last-cleared instant needs no locking; the cycle owns it exclusively.
type EvictionCycle struct {
	store  domain.Store
	scorer domain.Scorer
	ttl    time.Duration
	logger *slog.Logger

	lastCleared time.Time

	// trainMu is the single-flight guard: at most one training run is active,
	// and a pass whose training batch cannot acquire it skips training rather
	// than backpressuring ingestion.
	trainMu sync.Mutex
	trainWG sync.WaitGroup
}

// NewEvictionCycle creates a cycle with the given TTL. The TTL bounds both
// the post cache age and the cleanup cadence.
func NewEvictionCycle(store domain.Store, scorer domain.Scorer, ttl time.Duration, logger *slog.Logger) *EvictionCycle {
	return &EvictionCycle{
		store:       store,
		scorer:      scorer,
		ttl:         ttl,
		logger:      logger,
		lastCleared: time.Now().UTC(),
	}
}

// MaybeCleanup runs a cleanup pass if the TTL has elapsed since the last one.
// Elapsed time is a real duration between instants, not calendar-field
// arithmetic. Failures are logged; the pass never fails event processing.
func (c *EvictionCycle) MaybeCleanup(ctx context.Context, now time.Time) {
	if now.Sub(c.lastCleared) < c.ttl {
		return
	}
	c.logger.Info("running cleanup, clearing cache and training model")

	// Training examples are collected before eviction so subject-post
	// embeddings are still present. A like whose subject was already evicted
	// is skipped with a warning; that race is unavoidable once eviction and
	// training share the cache.
	examples, trainedURIs := c.collectExamples(ctx)

	c.evictOldPosts(ctx, now)
	c.purgeTrainedLikes(ctx)

	if len(trainedURIs) > 0 {
		// trainedOn flips before the weight update completes: the examples
		// are already collected, and marking here keeps the flip exactly-once
		// even if the process dies mid-training.
		if err := c.store.MarkLikesTrained(ctx, trainedURIs); err != nil {
			c.logger.Error("failed to mark likes trained", "error", err)
		} else {
			c.train(examples)
		}
	}

	c.lastCleared = now
}

// Wait blocks until any in-flight training run has finished.
func (c *EvictionCycle) Wait() {
	c.trainWG.Wait()
}

// collectExamples builds the labeled training batch: every untrained like
// whose subject embedding is still cached becomes a positive, and an equal
// number of unliked cached posts are sampled as negatives.
func (c *EvictionCycle) collectExamples(ctx context.Context) ([]domain.TrainingExample, []string) {
	likes, err := c.store.UntrainedLikes(ctx)
	if err != nil {
		c.logger.Error("failed to select untrained likes", "error", err)
		return nil, nil
	}
	if len(likes) == 0 {
		return nil, nil
	}

	subjects := make([]string, len(likes))
	for i, like := range likes {
		subjects[i] = like.PostURI
	}
	embeddings, err := c.store.PostEmbeddings(ctx, subjects)
	if err != nil {
		c.logger.Error("failed to load subject embeddings", "error", err)
		return nil, nil
	}

	var (
		examples []domain.TrainingExample
		trained  []string
	)
	for _, like := range likes {
		trained = append(trained, like.URI)
		vec, ok := embeddings[like.PostURI]
		if !ok {
			c.logger.Warn("subject embedding missing, skipping like", "post", like.PostURI)
			continue
		}
		examples = append(examples, domain.TrainingExample{Vector: vec, Label: 1})
	}

	// Negative sampling: unliked posts balance the all-positive feedback.
	negatives, err := c.store.SamplePosts(ctx, len(examples), subjects)
	if err != nil {
		c.logger.Error("failed to sample negatives", "error", err)
	} else {
		for _, post := range negatives {
			examples = append(examples, domain.TrainingExample{Vector: post.Embedding, Label: 0})
		}
	}

	return examples, trained
}

func (c *EvictionCycle) evictOldPosts(ctx context.Context, now time.Time) {
	cutoff := now.Add(-c.ttl)
	uris, err := c.store.PostsOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to select stale posts", "error", err)
		return
	}
	if len(uris) == 0 {
		return
	}
	if err := c.store.DeletePosts(ctx, uris); err != nil {
		c.logger.Error("failed to evict stale posts", "error", err)
		return
	}
	c.logger.Info("evicted stale posts", "count", len(uris), "cutoff", cutoff)
}

// purgeTrainedLikes deletes likes consumed by the previous cycle's training.
func (c *EvictionCycle) purgeTrainedLikes(ctx context.Context) {
	likes, err := c.store.TrainedLikes(ctx)
	if err != nil {
		c.logger.Error("failed to select trained likes", "error", err)
		return
	}
	if len(likes) == 0 {
		return
	}
	uris := make([]string, len(likes))
	for i, like := range likes {
		uris[i] = like.URI
	}
	if err := c.store.DeleteLikes(ctx, uris); err != nil {
		c.logger.Error("failed to purge trained likes", "error", err)
		return
	}
	c.logger.Info("purged trained likes", "count", len(uris))
}

// train offloads the weight update to a background goroutine so a slow
// training pass does not backpressure ingestion.
func (c *EvictionCycle) train(examples []domain.TrainingExample) {
	if len(examples) == 0 {
		return
	}
	if !c.trainMu.TryLock() {
		c.logger.Warn("training already in flight, skipping batch", "examples", len(examples))
		return
	}
	c.trainWG.Add(1)
	go func() {
		defer c.trainWG.Done()
		defer c.trainMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), trainTimeout)
		defer cancel()

		if err := c.scorer.Train(ctx, examples); err != nil {
			c.logger.Error("training failed", "examples", len(examples), "error", err)
			return
		}
		c.logger.Info("training complete", "examples", len(examples))
	}()
}
