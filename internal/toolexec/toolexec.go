// Package toolexec executes single named actions and step instructions
// through registered tools, returning structured results the workflow
// engine can classify.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is the structured outcome of executing one action or step.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// WaitSignal reports whether the result asks the caller to suspend the task.
// Tools signal a wait by setting data.waiting_for plus descriptor fields
// (thread_id, recipient, ...). The caller validates the descriptor.
func (r *Result) WaitSignal() (kind string, descriptor map[string]string, ok bool) {
	if r == nil || !r.Success || r.Data == nil {
		return "", nil, false
	}
	kind, _ = r.Data["waiting_for"].(string)
	if kind == "" {
		return "", nil, false
	}
	descriptor = make(map[string]string)
	for k, v := range r.Data {
		if k == "waiting_for" {
			continue
		}
		if s, isStr := v.(string); isStr && s != "" {
			descriptor[k] = s
		}
	}
	return kind, descriptor, true
}

// Executor runs one instruction on behalf of a user.
type Executor interface {
	Execute(ctx context.Context, userID, instruction string) (*Result, error)
}

// ToolExecutionError wraps a failure from tool execution with the tool or
// step that produced it.
type ToolExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %q: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Message)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ErrUnclassifiedResult marks executor output that is neither a positive
// completion nor a recognized suspension. Callers fail the task on it
// instead of assuming success.
var ErrUnclassifiedResult = errors.New("executor result could not be classified")

type resultWire struct {
	Success *bool          `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// ParseResult extracts a Result from raw executor output. The output must
// contain a JSON object with an explicit success flag; anything else is an
// ErrUnclassifiedResult, never an implicit success.
func ParseResult(output string) (*Result, error) {
	content := extractJSON(output)
	if content == "" {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrUnclassifiedResult)
	}

	var wire resultWire
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnclassifiedResult, err)
	}
	if wire.Success == nil {
		return nil, fmt.Errorf("%w: missing success flag", ErrUnclassifiedResult)
	}

	return &Result{Success: *wire.Success, Message: wire.Message, Data: wire.Data}, nil
}

// extractJSON pulls the JSON object out of the output, stripping markdown
// code fences when present and otherwise scanning for the outermost braces.
func extractJSON(output string) string {
	content := strings.TrimSpace(output)

	if strings.Contains(content, "```") {
		lines := strings.Split(content, "\n")
		var jsonLines []string
		inBlock := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		content = strings.TrimSpace(strings.Join(jsonLines, "\n"))
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return content[start : end+1]
}
