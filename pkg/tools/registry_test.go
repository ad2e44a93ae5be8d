package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echo the input back.",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Run("should register a valid tool", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoTool()))

		def, ok := r.Get("echo")
		require.True(t, ok)
		assert.Equal(t, KindAction, def.Kind)
		assert.Equal(t, "echo", def.DisplayName)
	})

	t.Run("should reject a tool without a handler", func(t *testing.T) {
		r := NewRegistry()
		err := r.Register(Definition{Name: "broken", Description: "no handler"})
		assert.Error(t, err)
	})

	t.Run("should reject invalid parameter types", func(t *testing.T) {
		r := NewRegistry()
		def := echoTool()
		def.Parameters[0].Type = "tuple"
		assert.Error(t, r.Register(def))
	})
}

func TestRegistryDeclarations(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	t.Run("should build declarations for known tools", func(t *testing.T) {
		decls, err := r.Declarations([]string{"echo"})
		require.NoError(t, err)
		require.Len(t, decls, 1)
		assert.Equal(t, "echo", decls[0].Name)
		assert.Contains(t, decls[0].InputSchema, "properties")
		assert.Equal(t, []string{"text"}, decls[0].InputSchema["required"])
	})

	t.Run("should fail on unknown tool names", func(t *testing.T) {
		_, err := r.Declarations([]string{"echo", "ghost"})
		assert.Error(t, err)
	})
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	require.NoError(t, r.Register(Definition{
		Name:        "fail",
		Description: "Always fails.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("boom")
		},
	}))
	require.NoError(t, r.Register(Definition{
		Name:        "slow",
		Description: "Sleeps past the deadline.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))

	ctx := context.Background()

	t.Run("should run the handler", func(t *testing.T) {
		out, err := r.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	})

	t.Run("should surface handler errors", func(t *testing.T) {
		_, err := r.Execute(ctx, "fail", nil, time.Second)
		assert.EqualError(t, err, "boom")
	})

	t.Run("should reject missing required arguments", func(t *testing.T) {
		_, err := r.Execute(ctx, "echo", map[string]interface{}{}, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation")
	})

	t.Run("should reject unexpected arguments", func(t *testing.T) {
		_, err := r.Execute(ctx, "echo", map[string]interface{}{"text": "hi", "extra": 1}, time.Second)
		assert.Error(t, err)
	})

	t.Run("should time out slow handlers", func(t *testing.T) {
		_, err := r.Execute(ctx, "slow", nil, 50*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("should fail on unknown tools", func(t *testing.T) {
		_, err := r.Execute(ctx, "ghost", nil, time.Second)
		assert.Error(t, err)
	})
}

func TestBuiltins(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinOptions{WorkspaceRoot: dir}))

	ctx := context.Background()

	t.Run("should write and read back a file", func(t *testing.T) {
		_, err := r.Execute(ctx, "write_file", map[string]interface{}{
			"path":    "notes/a.txt",
			"content": "hello",
		}, time.Second)
		require.NoError(t, err)

		out, err := r.Execute(ctx, "read_file", map[string]interface{}{"path": "notes/a.txt"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("should refuse paths escaping the workspace", func(t *testing.T) {
		_, err := r.Execute(ctx, "read_file", map[string]interface{}{"path": "../../etc/passwd"}, time.Second)
		assert.Error(t, err)
	})

	t.Run("should mark ask_user as a user input tool", func(t *testing.T) {
		def, ok := r.Get("ask_user")
		require.True(t, ok)
		assert.Equal(t, KindUserInput, def.Kind)
	})

	t.Run("should write through nested directories", func(t *testing.T) {
		_, err := r.Execute(ctx, "write_file", map[string]interface{}{
			"path":    "deep/nested/dir/file.txt",
			"content": "x",
		}, time.Second)
		require.NoError(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "deep/nested/dir/file.txt"))
		assert.NoError(t, statErr)
	})
}
