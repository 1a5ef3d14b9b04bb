package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the feed generator.
type Config struct {
	// Port is the HTTP server port.
	Port int `yaml:"port"`

	// Hostname is the public hostname where this service is reachable (used
	// for did:web).
	Hostname string `yaml:"hostname"`

	// StorageLocation is the SQLite database path, ":memory:" for ephemeral.
	StorageLocation string `yaml:"storage_location"`

	// SubscriptionEndpoint is the Jetstream WebSocket endpoint.
	SubscriptionEndpoint string `yaml:"subscription_endpoint"`

	// EmbeddingSubscriptionEndpoint is the out-of-band embedding firehose
	// WebSocket endpoint. Empty disables the subscription.
	EmbeddingSubscriptionEndpoint string `yaml:"embedding_subscription_endpoint"`

	// ServiceDID is this generator's identity. Defaults to did:web:<hostname>.
	ServiceDID string `yaml:"service_did"`

	// PublisherDID is the DID of the account that published the feed
	// generator records.
	PublisherDID string `yaml:"publisher_did"`

	// RequesterDID is the expected feed consumer, used for logging only.
	RequesterDID string `yaml:"requester_did"`

	// CacheTTLMinutes bounds both the post cache age and the cleanup cadence.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`

	Scoring ScoringConfig `yaml:"scoring"`
}

// ScoringConfig selects and configures the scoring backend.
type ScoringConfig struct {
	// Provider is "local", "openai", or "ollama".
	Provider string `yaml:"provider"`

	// Model is the embedding model name for remote providers.
	Model string `yaml:"model"`

	// APIKey authenticates remote providers.
	APIKey string `yaml:"api_key"`

	// URL is the base URL for self-hosted providers.
	URL string `yaml:"url"`

	// Dimensions is the embedding width for the local provider.
	Dimensions int `yaml:"dimensions"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Port:                 3000,
		Hostname:             "localhost",
		StorageLocation:      ":memory:",
		SubscriptionEndpoint: "wss://jetstream1.us-east.bsky.network/subscribe",
		CacheTTLMinutes:      30,
		Scoring: ScoringConfig{
			Provider:   "local",
			Dimensions: 256,
		},
	}
}

// Load reads configuration from an optional YAML file and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.ServiceDID == "" {
		cfg.ServiceDID = "did:web:" + cfg.Hostname
	}
	if cfg.CacheTTLMinutes <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %d", cfg.CacheTTLMinutes)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FEEDGEN_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FEEDGEN_PORT: %w", err)
		}
		c.Port = p
	}
	if v := os.Getenv("FEEDGEN_HOSTNAME"); v != "" {
		c.Hostname = v
	}
	if v := os.Getenv("FEEDGEN_SQLITE_LOCATION"); v != "" {
		c.StorageLocation = v
	}
	if v := os.Getenv("FEEDGEN_SUBSCRIPTION_ENDPOINT"); v != "" {
		c.SubscriptionEndpoint = v
	}
	if v := os.Getenv("EMBEDDING_SUBSCRIPTION_ENDPOINT"); v != "" {
		c.EmbeddingSubscriptionEndpoint = v
	}
	if v := os.Getenv("FEEDGEN_SERVICE_DID"); v != "" {
		c.ServiceDID = v
	}
	if v := os.Getenv("FEEDGEN_PUBLISHER_DID"); v != "" {
		c.PublisherDID = v
	}
	if v := os.Getenv("FEEDGEN_REQUESTER_DID"); v != "" {
		c.RequesterDID = v
	}
	if v := os.Getenv("CACHE_TTL_MIN"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_TTL_MIN: %w", err)
		}
		c.CacheTTLMinutes = ttl
	}
	if v := os.Getenv("SCORING_PROVIDER"); v != "" {
		c.Scoring.Provider = v
	}
	if v := os.Getenv("SCORING_MODEL"); v != "" {
		c.Scoring.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Scoring.APIKey = v
	}
	if v := os.Getenv("SCORING_URL"); v != "" {
		c.Scoring.URL = v
	}
	return nil
}
