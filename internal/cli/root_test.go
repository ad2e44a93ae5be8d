package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/config"
)

func TestRootCommand(t *testing.T) {
	t.Run("should expose the serve subcommand", func(t *testing.T) {
		root := GetRootCmd()
		names := make([]string, 0)
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		assert.Contains(t, names, "serve")
	})

	t.Run("should report a version", func(t *testing.T) {
		assert.NotEmpty(t, GetVersion())
		assert.Equal(t, GetVersion(), GetRootCmd().Version)
	})

	t.Run("should register global flags", func(t *testing.T) {
		root := GetRootCmd()
		assert.NotNil(t, root.PersistentFlags().Lookup("config"))
		assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	})
}

func TestBuildProvider(t *testing.T) {
	t.Run("should pick the lowest priority number first", func(t *testing.T) {
		p, err := buildProvider([]config.AIProfile{
			{ID: "backup", Provider: "openai", APIKey: "sk-o", Priority: 2},
			{ID: "main", Provider: "anthropic", APIKey: "sk-a", Priority: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("should skip unusable profiles", func(t *testing.T) {
		p, err := buildProvider([]config.AIProfile{
			{ID: "broken", Provider: "mystery", APIKey: "x", Priority: 1},
			{ID: "good", Provider: "openai", APIKey: "sk-o", Priority: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("should fail with no usable profile", func(t *testing.T) {
		_, err := buildProvider([]config.AIProfile{
			{ID: "broken", Provider: "mystery", APIKey: "x", Priority: 1},
		})
		assert.Error(t, err)

		_, err = buildProvider(nil)
		assert.Error(t, err)
	})
}
