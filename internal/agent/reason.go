package agent

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nugget/meetly/internal/llm"
)

// reason sends the full history to the model and returns its single
// assistant message, normalized so every tool call has a unique ID.
func (l *Loop) reason(ctx context.Context, model string, iter int, msgs []llm.Message, defs []llm.ToolDefinition) (*llm.ChatResponse, error) {
	resp, err := l.llm.Chat(ctx, model, msgs, defs)
	if err != nil {
		return nil, &ProviderError{Model: model, Iter: iter, Err: err}
	}
	if resp == nil {
		return nil, &ProviderError{Model: model, Iter: iter, Err: errors.New("provider returned no response")}
	}
	resp.Message = normalizeAssistant(resp.Message)
	return resp, nil
}

// normalizeAssistant forces the assistant role and gives every tool
// call a non-empty ID unique within the message. Providers such as
// Ollama send no IDs at all; tool results are matched by ID, so a
// missing or repeated one would orphan a result.
func normalizeAssistant(m llm.Message) llm.Message {
	m.Role = llm.RoleAssistant
	if len(m.ToolCalls) == 0 {
		m.ToolCalls = nil
		return m
	}

	calls := make([]llm.ToolCall, len(m.ToolCalls))
	seen := make(map[string]bool, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = "call_" + uuid.NewString()
		}
		seen[tc.ID] = true
		if tc.Function.Arguments == nil {
			tc.Function.Arguments = map[string]any{}
		}
		calls[i] = tc
	}
	m.ToolCalls = calls
	return m
}
