package checkpoint

import (
	"time"

	"github.com/parleyhq/parley/pkg/message"
)

// Stage is the engine's next-step pointer persisted with every checkpoint.
type Stage string

const (
	StageTurn          Stage = "run_turn"
	StageTool          Stage = "run_tool"
	StageDeletion      Stage = "run_deletion"
	StageSummarization Stage = "run_summarization"
)

// Checkpoint is an immutable snapshot of a session's log after a successful
// stage execution. Seq increases monotonically per session.
type Checkpoint struct {
	SessionID string      `json:"session_id"`
	Seq       int64       `json:"seq"`
	Log       message.Log `json:"log"`
	NextStage Stage       `json:"next_stage"`
	CreatedAt time.Time   `json:"created_at"`
}
