package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/commandqueue"
	"github.com/parleyhq/parley/pkg/engine"
	"github.com/parleyhq/parley/pkg/message"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/tools"
)

const testSecret = "test-secret"

type scriptedProvider struct {
	mu     sync.Mutex
	script []*provider.Response
}

func (p *scriptedProvider) Call(_ context.Context, _ provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.script) == 0 {
		return &provider.Response{Content: "ok", FinishReason: "stop"}, nil
	}
	next := p.script[0]
	p.script = p.script[1:]
	return next, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func setupGateway(t *testing.T) (*httptest.Server, *scriptedProvider) {
	t.Helper()

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"), zerolog.Nop())
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "echo",
		Description: "Echoes text",
		Parameters: []tools.Parameter{
			{Name: "text", Type: "string", Description: "Text", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			return args["text"].(string), nil
		},
	}))

	queue := commandqueue.New()
	scripted := &scriptedProvider{}
	eng := engine.New(store, queue, registry, scripted, zerolog.Nop(), engine.Options{
		Model:       "test-model",
		ToolNames:   []string{"echo"},
		ToolTimeout: 5 * time.Second,
	})

	server, err := NewServer(Config{
		Port:         18080,
		SharedSecret: testSecret,
		Engine:       eng,
		Registry:     registry,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = queue.Close()
		_ = store.Close()
	})
	return ts, scripted
}

func rpcCall(t *testing.T, ts *httptest.Server, id, method string, params map[string]interface{}) RPCResponse {
	t.Helper()

	body, err := json.Marshal(RPCRequest{ID: id, Method: method, Params: params, JSONRPC: "2.0"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Parley-Secret", testSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rpcResp RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return rpcResp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "rpc error: %v", resp.Error)
	out, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	return out
}

func TestServerRPC(t *testing.T) {
	t.Run("should reject requests without the shared secret", func(t *testing.T) {
		ts, _ := setupGateway(t)

		resp, err := http.Post(ts.URL+"/rpc", "application/json", bytes.NewReader([]byte(`{}`)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should serve the health endpoint", func(t *testing.T) {
		ts, _ := setupGateway(t)

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should drive a conversation over rpc", func(t *testing.T) {
		ts, scripted := setupGateway(t)
		scripted.script = []*provider.Response{
			{Content: "hello back", FinishReason: "stop"},
		}

		created := resultMap(t, rpcCall(t, ts, "1", "session.create", nil))
		sessionID := created["sessionId"].(string)
		require.NotEmpty(t, sessionID)

		sent := resultMap(t, rpcCall(t, ts, "2", "session.send", map[string]interface{}{
			"sessionId": sessionID,
			"message":   "hello",
		}))
		assert.Equal(t, "hello back", sent["reply"])

		state := resultMap(t, rpcCall(t, ts, "3", "session.state", map[string]interface{}{
			"sessionId": sessionID,
		}))
		messages := state["messages"].([]interface{})
		assert.Len(t, messages, 2)

		history := resultMap(t, rpcCall(t, ts, "4", "session.history", map[string]interface{}{
			"sessionId": sessionID,
		}))
		checkpoints := history["checkpoints"].([]interface{})
		assert.Len(t, checkpoints, 2)

		deleted := resultMap(t, rpcCall(t, ts, "5", "session.delete", map[string]interface{}{
			"sessionId": sessionID,
		}))
		assert.Equal(t, true, deleted["success"])
	})

	t.Run("should surface an interrupt and resolve it through resume", func(t *testing.T) {
		ts, scripted := setupGateway(t)
		scripted.script = []*provider.Response{
			{
				ToolCalls: []message.ToolCall{
					{ID: "call-1", Name: "echo", Args: map[string]interface{}{"text": "hi"}},
				},
				FinishReason: "tool_use",
			},
			{Content: "tool finished", FinishReason: "stop"},
		}

		sent := resultMap(t, rpcCall(t, ts, "1", "session.send", map[string]interface{}{
			"sessionId": "s1",
			"message":   "run echo",
		}))
		intr := sent["interrupt"].(map[string]interface{})
		assert.Equal(t, "echo", intr["tool_name"])

		blocked := rpcCall(t, ts, "2", "session.send", map[string]interface{}{
			"sessionId": "s1",
			"message":   "too soon",
		})
		require.NotNil(t, blocked.Error)
		assert.Equal(t, InterruptPending, blocked.Error.Code)

		resumed := resultMap(t, rpcCall(t, ts, "3", "session.resume", map[string]interface{}{
			"sessionId": "s1",
			"choice":    "approve",
		}))
		assert.Equal(t, "tool finished", resumed["reply"])
	})

	t.Run("should reject resume with nothing pending", func(t *testing.T) {
		ts, _ := setupGateway(t)

		_ = resultMap(t, rpcCall(t, ts, "1", "session.send", map[string]interface{}{
			"sessionId": "s1",
			"message":   "hi",
		}))

		resp := rpcCall(t, ts, "2", "session.resume", map[string]interface{}{
			"sessionId": "s1",
			"choice":    "approve",
		})
		require.NotNil(t, resp.Error)
		assert.Equal(t, NoInterruptPending, resp.Error.Code)
	})

	t.Run("should list sessions and tools", func(t *testing.T) {
		ts, _ := setupGateway(t)

		_ = resultMap(t, rpcCall(t, ts, "1", "session.send", map[string]interface{}{
			"sessionId": "s1",
			"message":   "hi",
		}))

		listed := resultMap(t, rpcCall(t, ts, "2", "sessions.list", nil))
		sessions := listed["sessions"].([]interface{})
		assert.Contains(t, sessions, "s1")

		toolList := resultMap(t, rpcCall(t, ts, "3", "tools.list", nil))
		toolDefs := toolList["tools"].([]interface{})
		require.Len(t, toolDefs, 1)
	})

	t.Run("should validate params", func(t *testing.T) {
		ts, _ := setupGateway(t)

		resp := rpcCall(t, ts, "1", "session.send", map[string]interface{}{
			"sessionId": "s1",
		})
		require.NotNil(t, resp.Error)
		assert.Contains(t, resp.Error.Message, "message parameter is required")
	})
}
