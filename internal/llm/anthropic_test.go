package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are Meetly."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "Any meetings today?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are Meetly." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropic_FoldsToolResults(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Book it and check tomorrow."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: FunctionCall{Name: "createGoogleCalendarEvents", Arguments: map[string]any{"summary": "Sync"}}},
				{ID: "toolu_2", Function: FunctionCall{Name: "getGoogleCalendarEvents"}},
			},
		},
		{Role: RoleTool, ToolCallID: "toolu_1", Content: "The meeting has been created."},
		{Role: RoleTool, ToolCallID: "toolu_2", Content: "Error occurred fetching events", IsError: true},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 { // user, assistant with tool_use, user with both tool_results
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	assistant, ok := result[1].Content.([]anthropicContent)
	if !ok || len(assistant) != 2 {
		t.Fatalf("assistant content = %#v, want 2 tool_use blocks", result[1].Content)
	}
	if assistant[1].Input == nil {
		t.Error("nil arguments should be sent as an empty object")
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || len(results) != 2 {
		t.Fatalf("tool result content = %#v, want 2 blocks", result[2].Content)
	}
	if results[0].ToolUseID != "toolu_1" || results[1].ToolUseID != "toolu_2" {
		t.Errorf("tool_result order = %s, %s", results[0].ToolUseID, results[1].ToolUseID)
	}
	if results[0].IsError || !results[1].IsError {
		t.Errorf("is_error flags = %v, %v; want false, true", results[0].IsError, results[1].IsError)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "getGoogleCalendarEvents" {
			t.Errorf("tools = %+v", req.Tools)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "role": "assistant", "model": "claude-test", "stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_9", "name": "getGoogleCalendarEvents",
				 "input": {"timeMin": "2026-10-17T00:00:00Z", "timeMax": "2026-10-17T23:59:59Z"}}
			],
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, 0, nil)
	resp, err := c.Chat(context.Background(), "claude-test", []Message{{Role: RoleUser, Content: "meetings?"}},
		[]ToolDefinition{{Name: "getGoogleCalendarEvents", Description: "list"}})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Message.Content != "Let me check." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].ID != "toolu_9" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if got := resp.Message.ToolCalls[0].Function.Arguments["timeMin"]; got != "2026-10-17T00:00:00Z" {
		t.Errorf("timeMin = %v", got)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, 0, nil)
	if _, err := c.Chat(context.Background(), "claude-test", nil, nil); err == nil {
		t.Fatal("expected error for 503 response")
	}
}
