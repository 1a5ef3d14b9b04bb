package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// CursorService is the sub_state key the processor checkpoints under.
const CursorService = "jetstream"

const defaultScoringTimeout = 10 * time.Second

// postCreate is one classified post-create operation.
type postCreate struct {
	uri    string
	cid    string
	record PostRecord
}

// likeCreate is one classified like-create operation.
type likeCreate struct {
	uri    string
	cid    string
	record LikeRecord
}

// ops holds one event's operations split into the four disjoint sets the
// processor applies in order.
type ops struct {
	postCreates []postCreate
	likeCreates []likeCreate
	postDeletes []string
	likeDeletes []string
}

// Processor consumes one commit event at a time: it classifies the event's
// operations, scores and writes new posts, gates likes on subject-post
// existence, applies deletes, and advances the resumable cursor only after
// every write succeeded.
type Processor struct {
	store          domain.Store
	scorer         domain.Scorer
	logger         *slog.Logger
	scoringTimeout time.Duration
}

// NewProcessor creates an event processor.
func NewProcessor(store domain.Store, scorer domain.Scorer, logger *slog.Logger) *Processor {
	return &Processor{
		store:          store,
		scorer:         scorer,
		logger:         logger,
		scoringTimeout: defaultScoringTimeout,
	}
}

// ProcessEvents applies a batch of events atomically with respect to the
// cursor: operations from every commit in the batch are classified into four
// disjoint sets and applied in order, and the cursor advances to the highest
// sequence only after every write succeeded. On error the cursor stays put,
// so the batch is retried on redelivery. Non-commit events are dropped at
// classification; a commit without a usable sequence still applies its
// writes, it just cannot move the checkpoint.
func (p *Processor) ProcessEvents(ctx context.Context, evts ...*Event) error {
	o, commits, maxSeq := classify(evts)
	if commits == 0 {
		return nil
	}

	// Post-creates land before like-creates are gated, so a like whose
	// subject arrived in the same batch is retained. Deletes run last:
	// create-then-delete of one identity within a batch resolves to deleted.
	if err := p.applyPostCreates(ctx, o.postCreates); err != nil {
		return err
	}
	if err := p.applyLikeCreates(ctx, o.likeCreates); err != nil {
		return err
	}
	if err := p.applyDeletes(ctx, o); err != nil {
		return err
	}

	if maxSeq > 0 {
		if err := p.store.SetCursor(ctx, CursorService, maxSeq); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}

func classify(evts []*Event) (ops, int, int64) {
	var (
		o       ops
		commits int
		maxSeq  int64
	)
	for _, evt := range evts {
		if evt.Kind != "commit" || evt.Commit == nil {
			continue
		}
		commits++
		if evt.TimeUS > maxSeq {
			maxSeq = evt.TimeUS
		}
		commit := evt.Commit
		uri := evt.URI()

		switch commit.Collection {
		case postCollection:
			switch commit.Operation {
			case "create":
				if commit.Post != nil {
					o.postCreates = append(o.postCreates, postCreate{uri: uri, cid: commit.CID, record: *commit.Post})
				}
			case "delete":
				o.postDeletes = append(o.postDeletes, uri)
			}
		case likeCollection:
			switch commit.Operation {
			case "create":
				if commit.Like != nil {
					o.likeCreates = append(o.likeCreates, likeCreate{uri: uri, cid: commit.CID, record: *commit.Like})
				}
			case "delete":
				o.likeDeletes = append(o.likeDeletes, uri)
			}
		}
	}
	return o, commits, maxSeq
}

// applyPostCreates embeds, scores, and upserts new posts. Scoring backend
// failures degrade to an unscored row instead of failing the event. When an
// event carries several creates their embeddings are computed concurrently,
// joined before anything is written.
func (p *Processor) applyPostCreates(ctx context.Context, creates []postCreate) error {
	if len(creates) == 0 {
		return nil
	}

	rows := make([]*domain.Post, len(creates))
	var wg sync.WaitGroup
	for i, create := range creates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows[i] = p.buildPost(ctx, create)
		}()
	}
	wg.Wait()

	if err := p.store.UpsertPosts(ctx, rows); err != nil {
		return fmt.Errorf("upsert posts: %w", err)
	}
	return nil
}

func (p *Processor) buildPost(ctx context.Context, create postCreate) *domain.Post {
	post := &domain.Post{
		URI:       create.uri,
		CID:       create.cid,
		Text:      create.record.Text,
		IndexedAt: time.Now().UTC(),
	}
	if create.record.Reply != nil {
		post.ReplyParent = create.record.Reply.Parent.URI
		post.ReplyRoot = create.record.Reply.Root.URI
	}

	sctx, cancel := context.WithTimeout(ctx, p.scoringTimeout)
	defer cancel()

	vec, err := p.scorer.Embed(sctx, create.record.Text)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbedding) {
			err = fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
		}
		p.logger.Warn("embedding failed, storing post unscored", "uri", create.uri, "error", err)
		return post
	}
	post.Embedding = vec

	score, err := p.scorer.Score(sctx, vec)
	if err != nil {
		p.logger.Warn("scoring failed, storing post unscored", "uri", create.uri, "error", err)
		return post
	}
	post.Score = &score
	return post
}

// applyLikeCreates keeps only likes whose subject post is cached and upserts
// them. Likes for unknown posts cannot be used for training and are dropped.
func (p *Processor) applyLikeCreates(ctx context.Context, creates []likeCreate) error {
	if len(creates) == 0 {
		return nil
	}

	subjects := make([]string, len(creates))
	for i, create := range creates {
		subjects[i] = create.record.Subject.URI
	}
	existing, err := p.store.ExistingPostURIs(ctx, subjects)
	if err != nil {
		return fmt.Errorf("check like subjects: %w", err)
	}

	var rows []*domain.Like
	for _, create := range creates {
		if !existing[create.record.Subject.URI] {
			p.logger.Debug("dropping like for uncached post", "subject", create.record.Subject.URI)
			continue
		}
		rows = append(rows, &domain.Like{
			URI:       create.uri,
			CID:       create.cid,
			PostURI:   create.record.Subject.URI,
			PostCID:   create.record.Subject.CID,
			Author:    didFromURI(create.uri),
			IndexedAt: time.Now().UTC(),
		})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := p.store.UpsertLikes(ctx, rows); err != nil {
		return fmt.Errorf("upsert likes: %w", err)
	}
	p.logger.Debug("stored likes to train on", "count", len(rows))
	return nil
}

func (p *Processor) applyDeletes(ctx context.Context, o ops) error {
	if err := p.store.DeletePosts(ctx, o.postDeletes); err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	if err := p.store.DeleteLikes(ctx, o.likeDeletes); err != nil {
		return fmt.Errorf("delete likes: %w", err)
	}
	return nil
}

// didFromURI extracts the authority segment of an AT-URI
// (at://did:plc:abc/collection/rkey -> did:plc:abc).
func didFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ""
	}
	did, _, _ := strings.Cut(rest, "/")
	return did
}
