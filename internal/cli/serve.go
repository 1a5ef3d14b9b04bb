package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drewmca/personalized-feedgen/internal/cache"
	"github.com/drewmca/personalized-feedgen/internal/config"
	"github.com/drewmca/personalized-feedgen/internal/feed"
	"github.com/drewmca/personalized-feedgen/internal/firehose"
	"github.com/drewmca/personalized-feedgen/internal/httpserver"
	"github.com/drewmca/personalized-feedgen/internal/scoring"
	"github.com/drewmca/personalized-feedgen/internal/sqlite"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the firehose subscriber and feed server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.Open(cfg.StorageLocation)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	logger.Info("opened storage", "location", cfg.StorageLocation)

	model, err := scoring.New(cfg.Scoring)
	if err != nil {
		return fmt.Errorf("create scoring model: %w", err)
	}
	logger.Info("scoring model ready", "provider", cfg.Scoring.Provider, "dimensions", model.Dimensions())

	ttl := time.Duration(cfg.CacheTTLMinutes) * time.Minute
	eviction := cache.NewEvictionCycle(store, model, ttl, logger)
	processor := firehose.NewProcessor(store, model, logger)
	feeds := feed.NewService(cfg.PublisherDID, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	subscriberDone := make(chan struct{})
	subscriber := firehose.NewSubscriber(cfg.SubscriptionEndpoint, store, processor, eviction, logger)
	go func() {
		defer close(subscriberDone)
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("firehose subscriber exited with error", "error", err)
		}
	}()

	embeddingDone := make(chan struct{})
	if cfg.EmbeddingSubscriptionEndpoint != "" {
		embedding := firehose.NewEmbeddingSubscriber(
			cfg.EmbeddingSubscriptionEndpoint, store, model, model.Dimensions(), logger)
		go func() {
			defer close(embeddingDone)
			if err := embedding.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("embedding subscriber exited with error", "error", err)
			}
		}()
	} else {
		close(embeddingDone)
	}

	server := httpserver.NewServer(cfg, feeds, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("feed generator started", "port", cfg.Port, "hostname", cfg.Hostname, "ttl_minutes", cfg.CacheTTLMinutes)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	cancel()

	// The store closes on return; both subscribers must be parked first so
	// no in-flight event writes against a closed database.
	<-subscriberDone
	<-embeddingDone
	eviction.Wait()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}
	return nil
}
