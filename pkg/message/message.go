package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// ToolCall is a single tool invocation requested by an AI message.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Message is one entry in a conversation log. ToolCalls is populated only on
// AI messages; ToolCallID only on Tool messages, referencing the originating
// call on an earlier AI message.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewSystem creates a system message.
func NewSystem(content string) Message {
	return newMessage(RoleSystem, content)
}

// NewHuman creates a human message.
func NewHuman(content string) Message {
	return newMessage(RoleHuman, content)
}

// NewAI creates an AI message, optionally carrying tool calls.
func NewAI(content string, calls ...ToolCall) Message {
	m := newMessage(RoleAI, content)
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCall{}, calls...)
	}
	return m
}

// NewTool creates a tool result message tagged with the originating call id.
func NewTool(toolCallID, content string) Message {
	m := newMessage(RoleTool, content)
	m.ToolCallID = toolCallID
	return m
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// HasToolCalls reports whether the message is an AI message requesting tool
// execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAI && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the tool call.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Args != nil {
		out.Args = make(map[string]interface{}, len(tc.Args))
		for k, v := range tc.Args {
			out.Args[k] = v
		}
	}
	return out
}

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleHuman, RoleAI, RoleTool:
	default:
		return fmt.Errorf("invalid role: %q", m.Role)
	}
	if m.Role != RoleAI && len(m.ToolCalls) > 0 {
		return fmt.Errorf("tool_calls present on %s message", m.Role)
	}
	if m.Role != RoleTool && m.ToolCallID != "" {
		return fmt.Errorf("tool_call_id present on %s message", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("tool message missing tool_call_id")
	}
	return nil
}
