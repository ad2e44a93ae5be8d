package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppend(t *testing.T) {
	t.Run("should not mutate the original log", func(t *testing.T) {
		base := Log{NewHuman("hi")}
		grown := base.Append(NewAI("hello"))

		assert.Len(t, base, 1)
		assert.Len(t, grown, 2)
		assert.Equal(t, RoleAI, grown[1].Role)
	})
}

func TestLogRemoveAt(t *testing.T) {
	log := Log{NewHuman("a"), NewAI("b"), NewHuman("c")}

	t.Run("should remove the message at the index", func(t *testing.T) {
		out := log.RemoveAt(1)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].Content)
		assert.Equal(t, "c", out[1].Content)
	})

	t.Run("should ignore out of range indexes", func(t *testing.T) {
		assert.Equal(t, log, log.RemoveAt(-1))
		assert.Equal(t, log, log.RemoveAt(3))
		assert.Equal(t, log, log.RemoveAt(100))
	})
}

func TestLogClone(t *testing.T) {
	t.Run("should deep copy tool call args", func(t *testing.T) {
		call := ToolCall{ID: "1", Name: "write_file", Args: map[string]interface{}{"path": "a.txt"}}
		log := Log{NewAI("", call)}

		copied := log.Clone()
		copied[0].ToolCalls[0].Args["path"] = "b.txt"

		assert.Equal(t, "a.txt", log[0].ToolCalls[0].Args["path"])
	})
}

func TestLogValidate(t *testing.T) {
	t.Run("should accept a tool message matching an earlier call", func(t *testing.T) {
		log := Log{
			NewHuman("hi"),
			NewAI("", ToolCall{ID: "c1", Name: "read_file"}),
			NewTool("c1", "contents"),
		}
		assert.NoError(t, log.Validate())
	})

	t.Run("should reject a tool message without a matching call", func(t *testing.T) {
		log := Log{NewHuman("hi"), NewTool("missing", "x")}
		assert.Error(t, log.Validate())
	})

	t.Run("should reject tool_calls on non-AI messages", func(t *testing.T) {
		m := NewHuman("hi")
		m.ToolCalls = []ToolCall{{ID: "c1", Name: "x"}}
		log := Log{m}
		assert.Error(t, log.Validate())
	})
}

func TestEstimateTokens(t *testing.T) {
	t.Run("should approximate one token per four characters", func(t *testing.T) {
		log := Log{NewHuman("aaaabbbb")}
		assert.Equal(t, 2, EstimateTokens(log))
	})

	t.Run("should count tool call overhead", func(t *testing.T) {
		withCall := Log{NewAI("", ToolCall{ID: "1", Name: "exec"})}
		assert.Greater(t, EstimateTokens(withCall), 0)
	})
}
