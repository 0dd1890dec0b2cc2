package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENDGAME_DATA_ROOT", "ENDGAME_LLM_API_KEY", "ENDGAME_EMBEDDING_API_KEY",
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "data", cfg.DataRoot)
	assert.Equal(t, 4000, cfg.ChunkSize)
	assert.Equal(t, 400, cfg.ChunkOverlap)
	assert.Equal(t, 10, cfg.ConcurrentExtractors)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.NotEmpty(t, cfg.CoreKeywords)
	assert.NotEmpty(t, cfg.GraphSearchKeywords)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearLLMEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ChunkSize, cfg.ChunkSize)
}

func TestLoad_FileMergesOverDefaults(t *testing.T) {
	clearLLMEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
data_root: /tmp/endgame-test
chunk_size: 2000
llm:
  provider: openai
  model: gpt-4o-mini
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/endgame-test", cfg.DataRoot)
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	// Untouched keys keep defaults.
	assert.Equal(t, 400, cfg.ChunkOverlap)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("ENDGAME_LLM_API_KEY wins", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("ENDGAME_LLM_API_KEY", "engine-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "engine-key", cfg.LLM.APIKey)
	})

	t.Run("provider key selects its backend when unset", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")

		cfg := DefaultConfig()
		cfg.LLM.APIKey = ""
		cfg.applyEnvOverrides()
		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("gemini precedes openai and anthropic", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")

		cfg := DefaultConfig()
		cfg.LLM.APIKey = ""
		cfg.applyEnvOverrides()
		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("embedding key", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("ENDGAME_EMBEDDING_API_KEY", "emb-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "emb-key", cfg.Embedding.APIKey)
	})

	t.Run("data root", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("ENDGAME_DATA_ROOT", "/data/elsewhere")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/data/elsewhere", cfg.DataRoot)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults pass", func(c *Config) {}, true},
		{"empty data root", func(c *Config) { c.DataRoot = "" }, false},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, false},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, false},
		{"overlap >= chunk size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, false},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, false},
		{"bad nightly hour", func(c *Config) { c.NightlyCycleHour = 24 }, false},
		{"zero extractors", func(c *Config) { c.ConcurrentExtractors = 0 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearLLMEnv(t)

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.ChunkSize = 1234
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.ChunkSize)
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataRoot = "/var/endgame"

	assert.Equal(t, filepath.Join("/var/endgame", "brain.db"), cfg.BrainDBPath())
	assert.Equal(t, filepath.Join("/var/endgame", "vectors.db"), cfg.VectorDBPath())
	assert.Equal(t, filepath.Join("/var/endgame", "uploads"), cfg.UploadsDir())
	assert.Equal(t, filepath.Join("/var/endgame", "logs"), cfg.LogDir())

	cfg.Logging.Dir = "/explicit/logs"
	assert.Equal(t, "/explicit/logs", cfg.LogDir())
}

func TestTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "30s", cfg.ExtractionTimeout().String())
	assert.Equal(t, "15s", cfg.ShortLLMTimeout().String())

	cfg.LLM.ExtractionTimeoutS = 10
	assert.Equal(t, "10s", cfg.ExtractionTimeout().String())
	assert.Equal(t, "5s", cfg.ShortLLMTimeout().String())
}
