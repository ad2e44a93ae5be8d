package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchange(human, ai string) []Message {
	return []Message{NewHuman(human), NewAI(ai)}
}

func TestTrimToBudget(t *testing.T) {
	t.Run("should keep everything under budget", func(t *testing.T) {
		log := Log(append(exchange("hi", "hello"), exchange("more", "sure")...))
		trimmed := TrimToBudget(log, 1000)
		assert.Len(t, trimmed, 4)
	})

	t.Run("should start the window at a human message", func(t *testing.T) {
		big := strings.Repeat("x", 400)
		log := Log{NewHuman(big), NewAI(big), NewHuman("short"), NewAI("ok")}

		trimmed := TrimToBudget(log, 50)
		require.NotEmpty(t, trimmed)
		assert.Equal(t, RoleHuman, trimmed[0].Role)
		assert.Equal(t, "short", trimmed[0].Content)
	})

	t.Run("should never split a tool exchange", func(t *testing.T) {
		big := strings.Repeat("x", 400)
		log := Log{
			NewHuman(big),
			NewHuman("run it"),
			NewAI("", ToolCall{ID: "c1", Name: "exec"}),
			NewTool("c1", "done"),
		}

		trimmed := TrimToBudget(log, 20)
		require.NotEmpty(t, trimmed)
		assert.Equal(t, RoleHuman, trimmed[0].Role)
		// The AI call and its tool result stay together in the suffix.
		for i, m := range trimmed {
			if m.HasToolCalls() {
				require.Less(t, i+1, len(trimmed))
				assert.Equal(t, RoleTool, trimmed[i+1].Role)
			}
		}
	})

	t.Run("should keep the latest exchange even over budget", func(t *testing.T) {
		big := strings.Repeat("x", 4000)
		log := Log(exchange(big, "ok"))
		trimmed := TrimToBudget(log, 10)
		require.NotEmpty(t, trimmed)
		assert.Equal(t, RoleHuman, trimmed[0].Role)
	})

	t.Run("should drop system messages from the window", func(t *testing.T) {
		log := Log{NewSystem("old prompt"), NewHuman("hi"), NewAI("hello")}
		trimmed := TrimToBudget(log, 1000)
		require.Len(t, trimmed, 2)
		assert.Equal(t, RoleHuman, trimmed[0].Role)
	})

	t.Run("should return empty for a log with no human message", func(t *testing.T) {
		log := Log{NewSystem("prompt"), NewAI("hello")}
		assert.Empty(t, TrimToBudget(log, 1000))
	})
}
