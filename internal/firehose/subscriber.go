package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drewmca/personalized-feedgen/internal/cache"
	"github.com/drewmca/personalized-feedgen/internal/domain"
)

const reconnectBackoff = 5 * time.Second

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream.
var wantedCollections = []string{
	postCollection,
	likeCollection,
}

// Subscriber connects to the Jetstream firehose and feeds events through the
// processor, one at a time, invoking the eviction cycle after each one.
type Subscriber struct {
	url       string
	store     domain.Store
	processor *Processor
	eviction  *cache.EvictionCycle
	logger    *slog.Logger
}

// NewSubscriber creates a firehose subscriber.
func NewSubscriber(
	endpoint string,
	store domain.Store,
	processor *Processor,
	eviction *cache.EvictionCycle,
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:       endpoint,
		store:     store,
		processor: processor,
		eviction:  eviction,
		logger:    logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors, resuming from
// the persisted cursor.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectBackoff):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.store.GetCursor(ctx, CursorService)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
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

	s.logger.Info("connected to firehose")

	var eventsReceived, commitsProcessed, commitsFailed int64
	lastStatsLog := time.Now()

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

		// A malformed message can never become parseable, so it is skipped
		// rather than stalling the stream.
		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to decode event", "error", err)
			continue
		}
		eventsReceived++

		if event.Kind == "commit" && event.Commit != nil {
			// A failed event does not advance the cursor; Jetstream
			// redelivers it after reconnect.
			if err := s.processor.ProcessEvents(ctx, event); err != nil {
				commitsFailed++
				s.logger.Error("failed to process commit", "seq", event.TimeUS, "error", err)
			} else {
				commitsProcessed++
				s.eviction.MaybeCleanup(ctx, time.Now().UTC())
			}
		}

		if time.Since(lastStatsLog) >= 30*time.Second {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"commits_processed", commitsProcessed,
				"commits_failed", commitsFailed,
			)
			lastStatsLog = time.Now()
		}
	}
}
