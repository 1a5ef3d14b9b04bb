package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drewmca/personalized-feedgen/internal/domain"
)

// embeddingEvent is one message from the out-of-band embedding firehose.
type embeddingEvent struct {
	URI       string    `json:"uri"`
	Embedding []float32 `json:"embedding"`
	NumTokens int       `json:"numTokens"`
}

// EmbeddingSubscriber consumes the embedding firehose: precomputed content
// embeddings for posts, arriving out of band. Each valid event re-scores the
// post and patches embedding and score onto the cached row. Posts that are no
// longer cached are a no-op.
type EmbeddingSubscriber struct {
	url    string
	store  domain.Store
	scorer domain.Scorer
	dims   int
	logger *slog.Logger
}

// NewEmbeddingSubscriber creates an embedding-firehose subscriber. dims is
// the expected vector width; events with any other width are dropped.
func NewEmbeddingSubscriber(
	endpoint string,
	store domain.Store,
	scorer domain.Scorer,
	dims int,
	logger *slog.Logger,
) *EmbeddingSubscriber {
	return &EmbeddingSubscriber{
		url:    endpoint,
		store:  store,
		scorer: scorer,
		dims:   dims,
		logger: logger,
	}
}

// Start connects to the embedding firehose and processes events until the
// context is cancelled, reconnecting on transient errors.
func (s *EmbeddingSubscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("embedding firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectBackoff):
				}
			}
		}
	}
}

func (s *EmbeddingSubscriber) subscribe(ctx context.Context) error {
	s.logger.Info("connecting to embedding firehose", "url", s.url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial embedding firehose: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not observe the context; closing the connection on
	// cancellation unblocks it so shutdown can join this loop.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	s.logger.Info("connected to embedding firehose")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var evt embeddingEvent
		if err := json.Unmarshal(message, &evt); err != nil {
			s.logger.Error("failed to decode embedding event", "error", err)
			continue
		}

		if err := s.handleEvent(ctx, &evt); err != nil {
			s.logger.Error("failed to apply embedding event", "uri", evt.URI, "error", err)
		}
	}
}

func (s *EmbeddingSubscriber) handleEvent(ctx context.Context, evt *embeddingEvent) error {
	if evt.URI == "" || len(evt.Embedding) != s.dims {
		return nil
	}

	score, err := s.scorer.Score(ctx, evt.Embedding)
	if err != nil {
		return fmt.Errorf("score embedding: %w", err)
	}

	if err := s.store.UpdatePostScore(ctx, evt.URI, evt.Embedding, score); err != nil {
		return fmt.Errorf("update post score: %w", err)
	}
	s.logger.Debug("patched post score", "uri", evt.URI, "score", score, "tokens", evt.NumTokens)
	return nil
}
