// Package provider is the model-inference boundary: a request/response
// capability over the Anthropic and OpenAI chat APIs, with an optional
// streaming upgrade.
package provider

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/pkg/message"
)

// ToolDeclaration describes a callable tool to the model.
type ToolDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request contains the parameters for a model invocation. Messages is the
// trimmed window; SystemPrompt is passed separately and never embedded in
// Messages.
type Request struct {
	Model        string
	Messages     message.Log
	SystemPrompt string
	Tools        []ToolDeclaration
	Temperature  float64
	MaxTokens    int
}

// TokenUsage tracks token consumption for one invocation.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's reply: text content and any requested tool calls.
type Response struct {
	Content      string
	ToolCalls    []message.ToolCall
	Usage        *TokenUsage
	FinishReason string
}

// Provider is an LLM API adapter.
type Provider interface {
	Call(ctx context.Context, request Request) (*Response, error)
	Name() string
}

// StreamEvent is one pulled element of a streaming invocation: either a
// content delta, or the final accumulated response (Done set).
type StreamEvent struct {
	Delta    string
	Done     bool
	Response *Response
}

// Streamer is implemented by providers that can stream content deltas. The
// consumer pulls events from the channel; the producer blocks until each
// event is consumed, so cancellation of ctx stops generation.
type Streamer interface {
	Stream(ctx context.Context, request Request) (<-chan StreamEvent, <-chan error)
}

// Profile selects a provider implementation and its credentials.
type Profile struct {
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// New creates a provider for the given profile.
func New(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropic(profile.APIKey), nil
	case "openai":
		return NewOpenAI(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
