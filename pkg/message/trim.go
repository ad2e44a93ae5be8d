package message

// TrimToBudget returns the suffix of the log that fits maxTokens, aligned so
// the kept window starts at a Human message. System messages are dropped from
// the window; the caller prepends a fresh one per turn. The window is a
// suffix, so an AI message carrying tool calls is never separated from the
// Tool results that follow it.
//
// If even the most recent exchange exceeds the budget it is kept anyway: a
// turn always sends at least the latest Human-rooted exchange. A log with no
// Human message yields an empty window.
func TrimToBudget(l Log, maxTokens int) Log {
	conversation := make(Log, 0, len(l))
	for _, m := range l {
		if m.Role == RoleSystem {
			continue
		}
		conversation = append(conversation, m)
	}
	if len(conversation) == 0 {
		return nil
	}

	if maxTokens <= 0 {
		maxTokens = 4096
	}

	// Candidate windows start at Human messages only. Pick the longest
	// suffix that fits; fall back to the shortest Human-rooted suffix.
	best := -1
	last := -1
	for i, m := range conversation {
		if m.Role != RoleHuman {
			continue
		}
		last = i
		if best == -1 && EstimateTokens(conversation[i:]) <= maxTokens {
			best = i
		}
	}
	if best == -1 {
		best = last
	}
	if best == -1 {
		return nil
	}
	return conversation[best:]
}
