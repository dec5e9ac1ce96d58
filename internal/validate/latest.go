package validate

import (
	"encoding/json"
	"strings"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// latestByKey is an insertion-ordered map where a repeated key overwrites the
// stored value in place. It makes the "last invocation per target wins"
// semantics of the failure scan explicit and testable.
type latestByKey struct {
	order []string
	byKey map[string]*domain.ToolCall
}

func newLatestByKey() *latestByKey {
	return &latestByKey{byKey: make(map[string]*domain.ToolCall)}
}

func (l *latestByKey) put(key string, call *domain.ToolCall) {
	if _, seen := l.byKey[key]; !seen {
		l.order = append(l.order, key)
	}
	l.byKey[key] = call
}

func (l *latestByKey) values() []*domain.ToolCall {
	out := make([]*domain.ToolCall, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.byKey[key])
	}
	return out
}

// filePathFromInput extracts the target path from a file tool's JSON input
func filePathFromInput(input string) string {
	var parsed struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal([]byte(input), &parsed); err != nil {
		return ""
	}
	if parsed.FilePath != "" {
		return parsed.FilePath
	}
	return parsed.Path
}

// errorFromOutput pulls a human-readable error message from a tool's JSON
// output, if one is present.
func errorFromOutput(output string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Stderr  string `json:"stderr"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return ""
	}
	for _, msg := range []string{parsed.Error, parsed.Message, parsed.Stderr} {
		if strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return ""
}
