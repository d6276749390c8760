// Package config loads startup configuration from the secrets file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	LogDevelopment bool

	DatabaseURL string

	Knowledge KnowledgeConfig
	LLM       LLMConfig
	Agent     AgentConfig
	CosmosDB  CosmosDBConfig

	SessionTTL time.Duration
}

// KnowledgeConfig controls the startup ingestion job.
type KnowledgeConfig struct {
	SeedURL        string
	MaxLinks       int
	MaxDepth       int
	CollectionName string
	Recreate       bool
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
}

// LLMConfig selects the model provider used for answers and embeddings.
type LLMConfig struct {
	Provider string

	GoogleAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	OpenAIEmbeddingModel string
}

type AgentConfig struct {
	TopK       int
	Timeout    time.Duration
	MaxRetries int
}

// CosmosDBConfig enables the transcript archive when EndpointURL is set.
type CosmosDBConfig struct {
	EndpointURL   string
	DatabaseName  string
	ContainerName string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_DEVELOPMENT", false)

	v.SetDefault("PG_USER", "postgres")
	v.SetDefault("PG_HOST", "localhost")
	v.SetDefault("PG_PORT", "5432")
	v.SetDefault("PG_DATABASE", "ai")
	v.SetDefault("PG_SSLMODE", "prefer")

	v.SetDefault("SEED_URL", "https://www.tsaw.tech")
	v.SetDefault("MAX_LINKS", 700)
	v.SetDefault("MAX_DEPTH", 3)
	v.SetDefault("COLLECTION_NAME", "tsaw_kb")
	v.SetDefault("RECREATE", true)
	v.SetDefault("CHUNK_SIZE", 1000)
	v.SetDefault("CHUNK_OVERLAP", 100)
	v.SetDefault("EMBED_BATCH_SIZE", 50)

	v.SetDefault("LLM_PROVIDER", ProviderGoogleAI)
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("GEMINI_EMBEDDING_MODEL", "text-embedding-004")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small")

	v.SetDefault("TOP_K", 5)
	v.SetDefault("AGENT_TIMEOUT", 60*time.Second)
	v.SetDefault("AGENT_MAX_RETRIES", 2)

	v.SetDefault("SESSION_TTL", 60*time.Minute)

	v.SetDefault("SECRETS_FILE", "secrets.toml")
}

// Load reads .env, then the secrets file named by SECRETS_FILE (if present),
// then the environment, which takes precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("SECRETS_FILE"); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read secrets file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat secrets file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("PORT"),
		LogDevelopment: v.GetBool("LOG_DEVELOPMENT"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		Knowledge: KnowledgeConfig{
			SeedURL:        v.GetString("SEED_URL"),
			MaxLinks:       v.GetInt("MAX_LINKS"),
			MaxDepth:       v.GetInt("MAX_DEPTH"),
			CollectionName: v.GetString("COLLECTION_NAME"),
			Recreate:       v.GetBool("RECREATE"),
			ChunkSize:      v.GetInt("CHUNK_SIZE"),
			ChunkOverlap:   v.GetInt("CHUNK_OVERLAP"),
			EmbedBatchSize: v.GetInt("EMBED_BATCH_SIZE"),
		},
		LLM: LLMConfig{
			Provider:             strings.ToLower(v.GetString("LLM_PROVIDER")),
			GoogleAPIKey:         v.GetString("GOOGLE_API_KEY"),
			GeminiModel:          v.GetString("GEMINI_MODEL"),
			GeminiEmbeddingModel: v.GetString("GEMINI_EMBEDDING_MODEL"),
			OpenAIAPIKey:         v.GetString("OPENAI_API_KEY"),
			OpenAIBaseURL:        v.GetString("OPENAI_BASE_URL"),
			OpenAIModel:          v.GetString("OPENAI_MODEL"),
			OpenAIEmbeddingModel: v.GetString("OPENAI_EMBEDDING_MODEL"),
		},
		Agent: AgentConfig{
			TopK:       v.GetInt("TOP_K"),
			Timeout:    v.GetDuration("AGENT_TIMEOUT"),
			MaxRetries: v.GetInt("AGENT_MAX_RETRIES"),
		},
		CosmosDB: CosmosDBConfig{
			EndpointURL:   v.GetString("COSMOSDB_ENDPOINT_URL"),
			DatabaseName:  v.GetString("COSMOSDB_DATABASE_NAME"),
			ContainerName: v.GetString("COSMOSDB_CONTAINER_NAME"),
		},
		SessionTTL: v.GetDuration("SESSION_TTL"),
	}

	if cfg.DatabaseURL == "" && v.GetString("PG_PASS") != "" {
		cfg.DatabaseURL = postgresURL(
			v.GetString("PG_USER"),
			v.GetString("PG_PASS"),
			v.GetString("PG_HOST"),
			v.GetString("PG_PORT"),
			v.GetString("PG_DATABASE"),
			v.GetString("PG_SSLMODE"),
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func postgresURL(user, password, host, port, database, sslmode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + database,
	}
	if sslmode != "" {
		u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	}
	return u.String()
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("PG_PASS or DATABASE_URL must be set")
	}
	if c.Knowledge.SeedURL == "" {
		return fmt.Errorf("SEED_URL cannot be empty")
	}
	if c.Knowledge.MaxLinks <= 0 {
		return fmt.Errorf("MAX_LINKS must be > 0")
	}
	if c.Knowledge.CollectionName == "" {
		return fmt.Errorf("COLLECTION_NAME cannot be empty")
	}
	switch c.LLM.Provider {
	case ProviderGoogleAI:
		if c.LLM.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY must be set for provider %s", ProviderGoogleAI)
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" && c.LLM.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL must be set for provider %s", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be > 0")
	}
	if c.CosmosDB.EndpointURL != "" && (c.CosmosDB.DatabaseName == "" || c.CosmosDB.ContainerName == "") {
		return fmt.Errorf("COSMOSDB_DATABASE_NAME and COSMOSDB_CONTAINER_NAME are required with COSMOSDB_ENDPOINT_URL")
	}
	return nil
}

// ArchiveEnabled reports whether transcripts are archived in Cosmos DB.
func (c *Config) ArchiveEnabled() bool {
	return c.CosmosDB.EndpointURL != ""
}
