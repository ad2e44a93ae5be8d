package engine

import (
	"errors"
	"fmt"

	"github.com/parleyhq/parley/pkg/message"
)

// CancelNotice is the fixed prefix of a Tool message produced by a cancelled
// call. Scenario-compatible with the original runtime's wire format.
const CancelNotice = "用户拒绝了工具请求"

var (
	// ErrInterruptPending is returned when a session cannot accept new
	// messages because a tool call is awaiting a resume decision.
	ErrInterruptPending = errors.New("a pending interrupt must be resumed first")
	// ErrNoPendingInterrupt is returned by Resume when nothing is suspended.
	ErrNoPendingInterrupt = errors.New("no pending interrupt for session")
)

// Choice is the user's decision on a pending interrupt.
type Choice string

const (
	ChoiceApprove Choice = "approve"
	ChoiceCancel  Choice = "cancel"
)

// ParseChoice accepts the symbolic names and the numeric wire values used by
// clients ("1" approve, "2" cancel).
func ParseChoice(raw string) (Choice, error) {
	switch raw {
	case string(ChoiceApprove), "1":
		return ChoiceApprove, nil
	case string(ChoiceCancel), "2":
		return ChoiceCancel, nil
	default:
		return "", fmt.Errorf("invalid resume choice: %q", raw)
	}
}

// Interrupt describes one tool call suspended at the approval gate. It is
// transient: it lives between the moment the tool stage requests approval and
// the moment a resume decision arrives.
type Interrupt struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	ToolCallID  string                 `json:"tool_call_id"`
	ToolName    string                 `json:"tool_name"`
	DisplayName string                 `json:"display_name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ResumeDecision resolves a pending interrupt. ExtraData carries the user's
// free-form input: the cancellation reason on cancel, or the answer itself
// for user-input tools.
type ResumeDecision struct {
	Choice    Choice `json:"choice"`
	ExtraData string `json:"extra_data"`
}

// pendingState tracks a suspended tool stage: the working log (AI tool-call
// message and any already-resolved Tool results included) plus the cursor
// into the call batch.
type pendingState struct {
	interrupt Interrupt
	log       message.Log
	calls     []message.ToolCall
	next      int
}
