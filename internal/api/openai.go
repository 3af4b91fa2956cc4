package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/llm"
)

// ThreadHeader selects the thread for OpenAI-compatible requests when
// the body has no "user".
const ThreadHeader = "X-Meetly-Thread"

const defaultCompletionThread = "openai"

// ChatCompletionRequest is the OpenAI-compatible request format. Only
// the last user message is used; earlier ones are already part of the
// server-side thread.
type ChatCompletionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	User string `json:"user,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var content string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			content = req.Messages[i].Content
			break
		}
	}

	thread := req.User
	if thread == "" {
		thread = r.Header.Get(ThreadHeader)
	}
	if thread == "" {
		thread = defaultCompletionThread
	}

	resp, err := s.loop.Run(r.Context(), agent.Request{
		ThreadID: thread,
		Content:  content,
		System:   s.systemPrompt(),
		Model:    req.Model,
	})
	if err != nil {
		code, msg := turnStatus(err)
		s.logger.Warn("completion failed", "thread", thread, "status", code, "error", err)
		s.errorResponse(w, code, msg)
		return
	}

	finish := "stop"
	if resp.FinishReason == agent.FinishIterationLimit {
		finish = "length"
	}
	writeJSON(w, ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%s", resp.TurnID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			FinishReason: finish,
		}},
		Usage: Usage{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		},
	}, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       s.loop.Model(),
			"object":   "model",
			"owned_by": "meetly",
		}},
	}, s.logger)
}
