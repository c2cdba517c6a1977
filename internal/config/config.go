package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all personalens configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (classification, summarization, perspective)
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Search-provider discovery
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Platform scraping
	Scrape ScrapeConfig `yaml:"scrape"`

	// Content store
	Storage StorageConfig `yaml:"storage"`

	// Image generation
	Generation GenerationConfig `yaml:"generation"`

	// HTTP API surface
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation-model collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// DiscoveryConfig configures the search-provider client.
type DiscoveryConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	TopN     int    `yaml:"top_n"`    // Candidate URLs to keep per platform
	Articles int    `yaml:"articles"` // Article URLs to keep
	Timeout  string `yaml:"timeout"`
}

// ScrapeConfig configures the scrape collaborators.
type ScrapeConfig struct {
	TwitterBearerToken string `yaml:"twitter_bearer_token"`
	TwitterBaseURL     string `yaml:"twitter_base_url"`
	MaxTweets          int    `yaml:"max_tweets"`
	MaxPosts           int    `yaml:"max_posts"`
	MaxPhotos          int    `yaml:"max_photos"`
	Headless           bool   `yaml:"headless"`
	Timeout            string `yaml:"timeout"`
}

// StorageConfig configures the SQLite content store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ImageDir     string `yaml:"image_dir"`
}

// GenerationConfig configures the image-generation provider.
type GenerationConfig struct {
	APIToken    string `yaml:"api_token"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	AspectRatio string `yaml:"aspect_ratio"`
	Timeout     string `yaml:"timeout"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "personalens",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Discovery: DiscoveryConfig{
			BaseURL:  "https://serpapi.com/search",
			TopN:     2,
			Articles: 5,
			Timeout:  "30s",
		},

		Scrape: ScrapeConfig{
			TwitterBaseURL: "https://api.twitter.com/2",
			MaxTweets:      5,
			MaxPosts:       20,
			MaxPhotos:      20,
			Headless:       true,
			Timeout:        "120s",
		},

		Storage: StorageConfig{
			DatabasePath: "data/personalens.db",
			ImageDir:     "data/images",
		},

		Generation: GenerationConfig{
			BaseURL:     "https://api.replicate.com/v1",
			Model:       "minimax/image-01",
			AspectRatio: "3:4",
			Timeout:     "120s",
		},

		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  "30s",
			WriteTimeout: "300s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "personalens.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.Provider == "gemini" || c.LLM.Provider == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("SERP_API_KEY"); key != "" {
		c.Discovery.APIKey = key
	}
	if key := os.Getenv("TWITTER_BEARER_TOKEN"); key != "" {
		c.Scrape.TwitterBearerToken = key
	}
	if key := os.Getenv("REPLICATE_API_TOKEN"); key != "" {
		c.Generation.APIToken = key
	}
	if path := os.Getenv("PERSONALENS_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if addr := os.Getenv("PERSONALENS_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.LLM.Provider != "gemini" && c.LLM.Provider != "openai" {
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	if c.Embedding.Provider != "ollama" && c.Embedding.Provider != "genai" {
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if _, err := c.ParseTimeout(c.LLM.Timeout, 0); err != nil {
		return fmt.Errorf("invalid llm.timeout: %w", err)
	}
	if _, err := c.ParseTimeout(c.Scrape.Timeout, 0); err != nil {
		return fmt.Errorf("invalid scrape.timeout: %w", err)
	}
	return nil
}

// ParseTimeout parses a duration string, falling back to def when empty.
func (c *Config) ParseTimeout(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// LLMTimeout returns the parsed LLM call timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// ScrapeTimeout returns the parsed per-platform scrape timeout.
func (c *Config) ScrapeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Scrape.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// DiscoveryTimeout returns the parsed discovery call timeout.
func (c *Config) DiscoveryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Discovery.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GenerationTimeout returns the parsed image-generation call timeout.
func (c *Config) GenerationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
