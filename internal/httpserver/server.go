package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"

	"github.com/drewmca/personalized-feedgen/internal/auth"
	"github.com/drewmca/personalized-feedgen/internal/config"
	"github.com/drewmca/personalized-feedgen/internal/domain"
	"github.com/drewmca/personalized-feedgen/internal/feed"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Server serves the feed generator XRPC endpoints.
type Server struct {
	cfg        *config.Config
	feeds      *feed.Service
	logger     *slog.Logger
	httpServer *http.Server
	decoder    *schema.Decoder
}

// skeletonParams is the getFeedSkeleton query surface.
type skeletonParams struct {
	Feed   string `schema:"feed"`
	Limit  int    `schema:"limit"`
	Cursor string `schema:"cursor"`
}

// NewServer creates the HTTP server over the given feed service.
func NewServer(cfg *config.Config, feeds *feed.Service, logger *slog.Logger) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		cfg:     cfg,
		feeds:   feeds,
		logger:  logger,
		decoder: decoder,
	}

	r := chi.NewRouter()
	r.Use(withLogging(logger))
	r.Get("/.well-known/did.json", s.handleDIDDoc)
	r.Get("/xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
	r.Get("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	r.Get("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       s.cfg.ServiceDID,
		"service": []map[string]any{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": fmt.Sprintf("https://%s", s.cfg.Hostname),
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, _ *http.Request) {
	desc := s.feeds.Describe(s.cfg.ServiceDID)
	feeds := make([]map[string]string, 0, len(desc.Feeds))
	for _, uri := range desc.Feeds {
		feeds = append(feeds, map[string]string{"uri": uri})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"did":   desc.DID,
		"feeds": feeds,
	})
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	params := skeletonParams{Limit: defaultLimit}
	if err := s.decoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid query parameters")
		return
	}
	if params.Feed == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "feed parameter is required")
		return
	}
	if params.Limit < 1 || params.Limit > maxLimit {
		writeError(w, http.StatusBadRequest, "InvalidRequest", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		return
	}

	if requester := auth.RequesterDID(r); requester != "" {
		s.logger.Info("feed request", "requester", requester, "feed", params.Feed)
	}

	page, err := s.feeds.GetFeed(r.Context(), params.Feed, params.Limit, params.Cursor)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedAlgorithm):
			writeError(w, http.StatusBadRequest, "UnsupportedAlgorithm", "unknown feed")
		case errors.Is(err, domain.ErrMalformedCursor):
			writeError(w, http.StatusBadRequest, "MalformedCursor", "malformed cursor")
		default:
			s.logger.Error("failed to get feed skeleton", "feed", params.Feed, "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "failed to get feed")
		}
		return
	}

	// The minimal wire skeleton: post URIs only. Score and index time are
	// internal extensions and must not leak.
	items := make([]map[string]string, len(page.Items))
	for i, item := range page.Items {
		items[i] = map[string]string{"post": item.Post}
	}
	resp := map[string]any{"feed": items}
	if page.Cursor != "" {
		resp["cursor"] = page.Cursor
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
