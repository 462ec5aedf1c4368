package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for facts-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory with golang-migrate SQL files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Qdrant vector store configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Embeddings provider configuration
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Indexer pipeline tuning
	Indexer IndexerConfig `yaml:"indexer"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"factsengine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"facts_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// QdrantConfig holds connection settings for the Qdrant vector store.
type QdrantConfig struct {
	Host   string `yaml:"host" env:"QDRANT_HOST" env-default:"localhost"`
	Port   int    `yaml:"port" env:"QDRANT_PORT" env-default:"6334"`
	APIKey string `yaml:"-" env:"QDRANT_API_KEY"` // Secret - not in YAML
	UseTLS bool   `yaml:"use_tls" env:"QDRANT_USE_TLS" env-default:"false"`
}

// EmbeddingsConfig selects and configures the embedding provider.
// Provider "local_hash" needs no external service and is the default for
// local development; "openai" talks to an OpenAI-compatible embeddings API.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" env:"EMBEDDINGS_PROVIDER" env-default:"local_hash"`
	VectorSize int    `yaml:"vector_size" env:"EMBEDDINGS_VECTOR_SIZE" env-default:"256"`
	BaseURL    string `yaml:"base_url" env:"EMBEDDINGS_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model      string `yaml:"model" env:"EMBEDDINGS_MODEL" env-default:"text-embedding-3-small"`
	APIKey     string `yaml:"-" env:"EMBEDDINGS_API_KEY"` // Secret - not in YAML
}

// IndexerConfig holds knowledge-base indexing pipeline settings.
type IndexerConfig struct {
	// ChunkSizeChars is the character window per chunk.
	ChunkSizeChars int `yaml:"chunk_size_chars" env:"INDEXER_CHUNK_SIZE_CHARS" env-default:"1600"`
	// ChunkOverlapChars is the overlap between consecutive chunks.
	ChunkOverlapChars int `yaml:"chunk_overlap_chars" env:"INDEXER_CHUNK_OVERLAP_CHARS" env-default:"200"`
	// FetchTimeoutSeconds bounds each source fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" env:"INDEXER_FETCH_TIMEOUT_SECONDS" env-default:"30"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Embeddings.Provider != "local_hash" && c.Embeddings.Provider != "openai" {
		return fmt.Errorf("unsupported embeddings provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "openai" && c.Embeddings.APIKey == "" {
		return fmt.Errorf("EMBEDDINGS_API_KEY is required for the openai provider")
	}
	if c.Embeddings.VectorSize <= 0 {
		return fmt.Errorf("embeddings vector_size must be positive")
	}
	if c.Indexer.ChunkSizeChars <= 0 {
		return fmt.Errorf("indexer chunk_size_chars must be positive")
	}
	if c.Indexer.ChunkOverlapChars < 0 || c.Indexer.ChunkOverlapChars >= c.Indexer.ChunkSizeChars {
		return fmt.Errorf("indexer chunk_overlap_chars must be in [0, chunk_size_chars)")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
