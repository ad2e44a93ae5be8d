package message

import "fmt"

// Log is an ordered conversation record. Insertion order is conversation
// order. A log is never mutated in place for an existing message: callers
// append, truncate, or replace wholesale.
type Log []Message

// Clone returns a deep copy of the log.
func (l Log) Clone() Log {
	if l == nil {
		return nil
	}
	out := make(Log, len(l))
	for i, m := range l {
		out[i] = m.Clone()
	}
	return out
}

// Append returns a new log with msgs added at the end.
func (l Log) Append(msgs ...Message) Log {
	out := make(Log, 0, len(l)+len(msgs))
	out = append(out, l...)
	out = append(out, msgs...)
	return out
}

// RemoveAt returns a new log with the message at index i removed. An
// out-of-range index leaves the log unchanged.
func (l Log) RemoveAt(i int) Log {
	if i < 0 || i >= len(l) {
		return l
	}
	out := make(Log, 0, len(l)-1)
	out = append(out, l[:i]...)
	out = append(out, l[i+1:]...)
	return out
}

// Last returns the final message, if any.
func (l Log) Last() (Message, bool) {
	if len(l) == 0 {
		return Message{}, false
	}
	return l[len(l)-1], true
}

// Validate checks per-message invariants and that every Tool message
// references a call on an earlier AI message.
func (l Log) Validate() error {
	calls := make(map[string]bool)
	ids := make(map[string]bool)
	for i, m := range l {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if m.ID != "" {
			if ids[m.ID] {
				return fmt.Errorf("message %d: duplicate id %s", i, m.ID)
			}
			ids[m.ID] = true
		}
		if m.Role == RoleTool && !calls[m.ToolCallID] {
			return fmt.Errorf("message %d: tool_call_id %s has no earlier AI call", i, m.ToolCallID)
		}
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = true
		}
	}
	return nil
}

// EstimateTokens returns an approximate token count for the log. Roughly one
// token per four characters of content.
func EstimateTokens(l Log) int {
	total := 0
	for _, m := range l {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + 16
		}
	}
	return (total + 3) / 4
}
