package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Gateway.SharedSecret = "secret"
	cfg.AI.Profiles = []AIProfile{
		{ID: "main", Provider: "anthropic", APIKey: "sk-test", Priority: 1},
	}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept a complete config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should require at least one AI profile", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles = nil
		assert.ErrorContains(t, cfg.Validate(), "no AI credentials configured")
	})

	t.Run("should reject an unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].Provider = "mystery"
		assert.ErrorContains(t, cfg.Validate(), "invalid provider")
	})

	t.Run("should require an api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "api_key is required")
	})

	t.Run("should require a shared secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.SharedSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "shared_secret")
	})

	t.Run("should reject an out-of-range port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.Port = 70000
		assert.ErrorContains(t, cfg.Validate(), "invalid gateway port")
	})

	t.Run("should reject an out-of-range temperature", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.Temperature = 3.5
		assert.ErrorContains(t, cfg.Validate(), "temperature")
	})

	t.Run("should require a positive retention keep when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Store.Retention.Keep = 0
		assert.ErrorContains(t, cfg.Validate(), "retention keep")
	})
}

func TestLoader(t *testing.T) {
	t.Run("should fall back to defaults when the file is missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Gateway.Port)
		assert.Equal(t, "claude-sonnet-4", cfg.Engine.Model)
		assert.NotEmpty(t, cfg.Store.Path)
	})

	t.Run("should round trip through save and load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.DataDir = t.TempDir()
		cfg.Engine.Model = "claude-opus-4"
		cfg.Store.Retention.Keep = 42
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "claude-opus-4", loaded.Engine.Model)
		assert.Equal(t, 42, loaded.Store.Retention.Keep)
		assert.Equal(t, "secret", loaded.Gateway.SharedSecret)
	})

	t.Run("should overlay file values onto defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"gateway":{"port":9999}}`), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9999, cfg.Gateway.Port)
		assert.Equal(t, "0.0.0.0", cfg.Gateway.Host, "untouched fields keep defaults")
	})

	t.Run("should derive paths from the data dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":"/var/lib/parley"}`), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/var/lib/parley", "checkpoints.db"), cfg.Store.Path)
		assert.Equal(t, filepath.Join("/var/lib/parley", "prompts"), cfg.Prompts.Dir)
	})
}
