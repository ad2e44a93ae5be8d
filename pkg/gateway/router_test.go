package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/engine"
)

func TestRPCRouter(t *testing.T) {
	t.Run("should parse a valid request", func(t *testing.T) {
		router := NewRPCRouter()
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"system.status","jsonrpc":"2.0"}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "system.status", req.Method)
	})

	t.Run("should reject malformed json", func(t *testing.T) {
		router := NewRPCRouter()
		_, err := router.ParseRequest([]byte(`{not json`))
		require.Error(t, err)
		rpcErr, ok := err.(*RPCError)
		require.True(t, ok)
		assert.Equal(t, ParseError, rpcErr.Code)
	})

	t.Run("should reject a request without id or method", func(t *testing.T) {
		router := NewRPCRouter()

		_, err := router.ParseRequest([]byte(`{"method":"x"}`))
		require.Error(t, err)
		assert.Equal(t, InvalidRequest, err.(*RPCError).Code)

		_, err = router.ParseRequest([]byte(`{"id":"1"}`))
		require.Error(t, err)
		assert.Equal(t, InvalidRequest, err.(*RPCError).Code)
	})

	t.Run("should default the jsonrpc version", func(t *testing.T) {
		router := NewRPCRouter()
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, "2.0", req.JSONRPC)
	})

	t.Run("should route to a registered handler", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("echo", func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			return params["value"], nil
		}))

		resp := router.RouteRequest(context.Background(), &RPCRequest{
			ID:     "1",
			Method: "echo",
			Params: map[string]interface{}{"value": "hello"},
		})
		require.Nil(t, resp.Error)
		assert.Equal(t, "hello", resp.Result)
	})

	t.Run("should return method not found for an unknown method", func(t *testing.T) {
		router := NewRPCRouter()
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("should reject registering a nil handler", func(t *testing.T) {
		router := NewRPCRouter()
		assert.Error(t, router.RegisterMethod("bad", nil))
	})

	t.Run("should map engine errors to stable codes", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("pending", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return nil, engine.ErrInterruptPending
		}))
		require.NoError(t, router.RegisterMethod("nothing", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return nil, engine.ErrNoPendingInterrupt
		}))

		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "pending"})
		assert.Equal(t, InterruptPending, resp.Error.Code)

		resp = router.RouteRequest(context.Background(), &RPCRequest{ID: "2", Method: "nothing"})
		assert.Equal(t, NoInterruptPending, resp.Error.Code)
	})

	t.Run("should replay a cached response for the same idempotency key", func(t *testing.T) {
		router := NewRPCRouter()
		calls := 0
		require.NoError(t, router.RegisterMethod("counter", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			calls++
			return fmt.Sprintf("call %d", calls), nil
		}))

		first := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "counter", IdempotencyKey: "k1"})
		second := router.RouteRequest(context.Background(), &RPCRequest{ID: "2", Method: "counter", IdempotencyKey: "k1"})

		assert.Equal(t, 1, calls)
		assert.Equal(t, first.Result, second.Result)
		assert.Equal(t, "2", second.ID, "replay must echo the new request id")
	})

	t.Run("should not share cache across methods", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("a", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return "from a", nil
		}))
		require.NoError(t, router.RegisterMethod("b", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return "from b", nil
		}))

		respA := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "a", IdempotencyKey: "k1"})
		respB := router.RouteRequest(context.Background(), &RPCRequest{ID: "2", Method: "b", IdempotencyKey: "k1"})
		assert.Equal(t, "from a", respA.Result)
		assert.Equal(t, "from b", respB.Result)
	})
}
