// Package session keeps conversation threads: the ordered, append-only
// message history replayed to the model on every reasoning step.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/meetly/internal/llm"
)

// Store is the conversation history backend. Load of an unknown thread
// returns an empty slice. Messages are never modified after Append.
type Store interface {
	Load(ctx context.Context, threadID string) ([]llm.Message, error)
	Append(ctx context.Context, threadID string, msgs ...llm.Message) error
	Threads(ctx context.Context) ([]ThreadInfo, error)
	Clear(ctx context.Context, threadID string) error
}

// ThreadInfo summarizes one stored thread.
type ThreadInfo struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrEmptyThreadID is returned for operations without a thread ID.
var ErrEmptyThreadID = errors.New("thread id is empty")

// StoreError wraps a backend failure. It is fatal to the turn that
// hit it.
type StoreError struct {
	Op       string // load, append, threads, clear
	ThreadID string
	Err      error
}

func (e *StoreError) Error() string {
	if e.ThreadID == "" {
		return fmt.Sprintf("session %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session %s %q: %v", e.Op, e.ThreadID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// cloneMessage deep-copies the slices and maps a caller could mutate.
func cloneMessage(m llm.Message) llm.Message {
	if len(m.ToolCalls) == 0 {
		return m
	}
	calls := make([]llm.ToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		calls[i] = tc
		calls[i].Function.Arguments = cloneMap(tc.Function.Arguments)
	}
	m.ToolCalls = calls
	return m
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
