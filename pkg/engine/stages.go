package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/message"
	"github.com/parleyhq/parley/pkg/provider"
)

const (
	summarizerSystemPrompt = "You are a conversation summarizer. Condense the dialogue faithfully, " +
		"preserving decisions, facts, open questions, and pending tasks. Reply with the summary only."
	summarizeInstruction = "Summarize the conversation above."
	summaryRequestText   = "Please summarize our conversation so far, preserving the key points."
)

// runDeletion removes the directive message itself, then clears the whole log
// or removes exactly one message at the given index. An out-of-range index is
// silently ignored; a malformed index is rejected without mutating anything.
func runDeletion(log message.Log) (message.Log, error) {
	directiveIdx := -1
	var target deletionTarget
	for i, m := range log {
		if m.Role != message.RoleHuman || !strings.HasPrefix(strings.TrimSpace(m.Content), directiveDelete) {
			continue
		}
		parsed, err := parseDeletion(m.Content)
		if err != nil {
			return nil, err
		}
		directiveIdx = i
		target = parsed
		break
	}
	if directiveIdx == -1 {
		return nil, fmt.Errorf("no deletion directive in log")
	}

	if target.all {
		return message.Log{}, nil
	}
	return log.RemoveAt(directiveIdx).RemoveAt(target.index), nil
}

// runSummarization invokes the model once over an ephemeral prompt (fixed
// summarizer instruction + full log + trailing instruction, never bound to
// tools) and appends a synthetic Human/AI pair to the persisted log. The
// ephemeral prompt is discarded; earlier messages are kept, so the raw
// history stays recoverable through checkpoints.
func (e *Engine) runSummarization(ctx context.Context, log message.Log) (message.Log, string, error) {
	ephemeral := log.Append(message.NewHuman(summarizeInstruction))

	response, err := provider.CallWithRetry(ctx, e.provider, provider.Request{
		Model:        e.opts.Model,
		Messages:     ephemeral,
		SystemPrompt: summarizerSystemPrompt,
		Temperature:  e.opts.Temperature,
		MaxTokens:    e.opts.MaxTokens,
	}, e.opts.MaxRetries, e.logger)
	if err != nil {
		return nil, "", fmt.Errorf("summarization failed: %w", err)
	}

	out := log.Append(
		message.NewHuman(summaryRequestText),
		message.NewAI(response.Content),
	)
	return out, response.Content, nil
}
