package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/message"
)

// Directive prefixes. Directives are ordinary Human messages recognized by
// content prefix; the caller injects them into the log like any other
// message.
const (
	directiveDelete    = "/delete"
	directiveSummarize = "/summarize"
)

// Route inspects the log and picks the next stage. The first directive found
// wins; a log without directives always resolves to the turn stage. Route
// never fails.
func Route(log message.Log) checkpoint.Stage {
	for _, m := range log {
		if m.Role != message.RoleHuman {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if strings.HasPrefix(content, directiveDelete) {
			return checkpoint.StageDeletion
		}
		if strings.HasPrefix(content, directiveSummarize) {
			return checkpoint.StageSummarization
		}
	}
	return checkpoint.StageTurn
}

// IsDirective reports whether a message is a control instruction rather than
// conversational content. Directive messages are filtered out of the visible
// log.
func IsDirective(m message.Message) bool {
	if m.Role != message.RoleHuman {
		return false
	}
	content := strings.TrimSpace(m.Content)
	return strings.HasPrefix(content, directiveDelete) || strings.HasPrefix(content, directiveSummarize)
}

type deletionTarget struct {
	all   bool
	index int
}

// parseDeletion parses a deletion directive body. "/delete all" clears the
// log; "/delete index N" removes one message. Anything else is a malformed
// directive.
func parseDeletion(content string) (deletionTarget, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content), directiveDelete))
	if rest == "all" {
		return deletionTarget{all: true}, nil
	}
	if idx, ok := strings.CutPrefix(rest, "index"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return deletionTarget{}, fmt.Errorf("malformed deletion index: %q", strings.TrimSpace(idx))
		}
		return deletionTarget{index: n}, nil
	}
	return deletionTarget{}, fmt.Errorf("malformed deletion directive: %q", content)
}
