package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create an anthropic provider", func(t *testing.T) {
		p, err := New(Profile{Provider: "anthropic", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("should create an openai provider", func(t *testing.T) {
		p, err := New(Profile{Provider: "openai", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := New(Profile{Provider: "carrier-pigeon"})
		assert.Error(t, err)
	})
}

func TestIsRetryableError(t *testing.T) {
	t.Run("should retry rate limits and server errors", func(t *testing.T) {
		assert.True(t, IsRetryableError(errors.New("429 Too Many Requests")))
		assert.True(t, IsRetryableError(errors.New("503 Service Unavailable")))
		assert.True(t, IsRetryableError(errors.New("read: connection reset by peer")))
		assert.True(t, IsRetryableError(errors.New("api overloaded")))
	})

	t.Run("should not retry client errors", func(t *testing.T) {
		assert.False(t, IsRetryableError(errors.New("401 invalid api key")))
		assert.False(t, IsRetryableError(nil))
	})
}

func TestAnthropicStreamerUpgrade(t *testing.T) {
	t.Run("should expose the streaming capability", func(t *testing.T) {
		var p Provider = NewAnthropic("k")
		_, ok := p.(Streamer)
		assert.True(t, ok)
	})

	t.Run("should not stream from the openai adapter", func(t *testing.T) {
		var p Provider = NewOpenAI("k")
		_, ok := p.(Streamer)
		assert.False(t, ok)
	})
}
