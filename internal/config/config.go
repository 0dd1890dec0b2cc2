// Package config holds the engine configuration: store locations, model
// handles, attention keywords, chunking geometry, and the nightly schedule.
// Configuration is YAML over defaults; secrets come from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	// DataRoot is the filesystem root for brain.db, vectors.db, uploads and logs.
	DataRoot string `yaml:"data_root"`

	// Embedding configures the local/remote sentence embedder.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// LLM configures the structured extractor.
	LLM LLMConfig `yaml:"llm"`

	// CoreKeywords are the strategic terms the attention filter accepts.
	CoreKeywords []string `yaml:"core_keywords"`

	// GraphSearchKeywords switch retrieval into structured graph recall.
	GraphSearchKeywords []string `yaml:"graph_search_keywords"`

	// Chunking geometry for file ingestion.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// NightlyCycleHour is the local hour [0,23] the reflection cycle runs.
	NightlyCycleHour int `yaml:"nightly_cycle_hour"`

	// ConcurrentExtractors bounds the per-batch extraction fan-out.
	ConcurrentExtractors int `yaml:"concurrent_extractors"`

	// WatchInbox, when set, is a directory watched for files to auto-ingest.
	WatchInbox string `yaml:"watch_inbox"`

	// WatchUserID is the owner of auto-ingested files.
	WatchUserID string `yaml:"watch_user_id"`

	// Logging configures the categorized file logger.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig configures the sentence embedder.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // ollama, genai, openai
	Model     string `yaml:"model"`
	Endpoint  string `yaml:"endpoint"` // ollama or openai-compatible base URL
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
}

// LLMConfig configures the structured extractor.
type LLMConfig struct {
	Provider           string `yaml:"provider"` // gemini, openai, anthropic
	Model              string `yaml:"model"`
	BulkModel          string `yaml:"bulk_model"` // high-throughput model for file ingestion
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	ExtractionTimeoutS int    `yaml:"extraction_timeout_s"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, text
	Dir        string          `yaml:"dir"`    // empty means <data_root>/logs
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataRoot: "data",

		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "mxbai-embed-large",
			Endpoint:  "http://localhost:11434",
			Dimension: 1024,
		},

		LLM: LLMConfig{
			Provider:           "gemini",
			Model:              "gemini-2.0-flash",
			BulkModel:          "gemini-2.0-flash",
			ExtractionTimeoutS: 30,
		},

		CoreKeywords: []string{
			"goal", "project", "task", "plan", "vision", "strategy",
			"milestone", "deadline", "decision",
			"目标", "项目", "任务", "计划", "愿景", "战略", "复盘", "决定",
		},

		GraphSearchKeywords: []string{
			"project", "task", "goal", "plan", "vision",
			"项目", "任务", "目标", "计划", "愿景",
		},

		ChunkSize:            4000,
		ChunkOverlap:         400,
		NightlyCycleHour:     3,
		ConcurrentExtractors: 10,

		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Format:  "text",
		},
	}
}

// Load loads configuration from a YAML file, returning defaults when the
// file does not exist. Environment variables override secrets afterwards.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// Save writes the configuration to a YAML file.
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

// applyEnvOverrides applies environment variable overrides. Provider keys
// are checked in priority order so an exported key also selects its backend.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("ENDGAME_DATA_ROOT"); root != "" {
		c.DataRoot = root
	}
	if key := os.Getenv("ENDGAME_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("ENDGAME_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("data_root must not be empty")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}
	if c.NightlyCycleHour < 0 || c.NightlyCycleHour > 23 {
		return fmt.Errorf("nightly_cycle_hour must be in [0,23], got %d", c.NightlyCycleHour)
	}
	if c.ConcurrentExtractors < 1 {
		return fmt.Errorf("concurrent_extractors must be at least 1, got %d", c.ConcurrentExtractors)
	}
	return nil
}

// BrainDBPath returns the location of the relational graph database.
func (c *Config) BrainDBPath() string {
	return filepath.Join(c.DataRoot, "brain.db")
}

// VectorDBPath returns the location of the vector index database.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.DataRoot, "vectors.db")
}

// UploadsDir returns the root of raw uploaded artifacts.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataRoot, "uploads")
}

// LogDir returns the logging directory, defaulting under the data root.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(c.DataRoot, "logs")
}

// ExtractionTimeout returns the timeout applied to extraction calls.
func (c *Config) ExtractionTimeout() time.Duration {
	if c.LLM.ExtractionTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LLM.ExtractionTimeoutS) * time.Second
}

// ShortLLMTimeout returns the timeout for arbitration, summary and alignment
// calls: half the extraction timeout, capped at 15s.
func (c *Config) ShortLLMTimeout() time.Duration {
	t := c.ExtractionTimeout() / 2
	if t > 15*time.Second {
		return 15 * time.Second
	}
	return t
}
