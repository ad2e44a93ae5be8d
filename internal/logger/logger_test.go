package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should build a console-only logger", func(t *testing.T) {
		lg, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		defer lg.Close()

		assert.Equal(t, zerolog.InfoLevel, lg.GetZerolog().GetLevel())
	})

	t.Run("should write events to the configured file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.log")
		lg, err := New(Config{Level: "debug", File: path})
		require.NoError(t, err)

		lg.Info().Str("session_id", "s1").Msg("checkpoint written")
		require.NoError(t, lg.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "checkpoint written")
		assert.Contains(t, string(content), "s1")
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		lg, err := New(Config{Level: "shouting", Console: true})
		require.NoError(t, err)
		defer lg.Close()

		assert.Equal(t, zerolog.InfoLevel, lg.GetZerolog().GetLevel())
	})

	t.Run("should scrub credentials before they reach the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "parley.log")
		lg, err := New(Config{Level: "info", File: path, Redaction: true})
		require.NoError(t, err)

		lg.Info().Str("api_key", "sk-ant-REDACTED").Msg("profile loaded")
		require.NoError(t, lg.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(content), "sk-ant-api03")
		assert.Contains(t, string(content), "[REDACTED:")
	})
}

func TestLoggerEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")
	lg, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)
	defer lg.Close()

	for name, event := range map[string]*zerolog.Event{
		"debug": lg.Debug(),
		"info":  lg.Info(),
		"warn":  lg.Warn(),
		"error": lg.Error(),
	} {
		require.NotNil(t, event, name)
		event.Msg(name + " message")
	}

	child := lg.With().Str("component", "gateway").Logger()
	child.Info().Msg("child logger message")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
