package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/events"
	"github.com/nugget/meetly/internal/llm"
)

// MessageRequest is the body of POST /v1/threads/{id}/messages.
type MessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// MessageResponse is the reply to one user message.
type MessageResponse struct {
	ThreadID     string `json:"thread_id"`
	TurnID       string `json:"turn_id"`
	Content      string `json:"content"`
	ContentHTML  string `json:"content_html,omitempty"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Iterations   int    `json:"iterations"`
	ToolCalls    int    `json:"tool_calls"`
}

func newMessageResponse(resp *agent.Response) MessageResponse {
	return MessageResponse{
		ThreadID:     resp.ThreadID,
		TurnID:       resp.TurnID,
		Content:      resp.Content,
		ContentHTML:  renderMarkdown(resp.Content),
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
		Iterations:   resp.Iterations,
		ToolCalls:    resp.ToolCalls,
	}
}

// ThreadResponse is the stored history of one thread.
type ThreadResponse struct {
	ThreadID string        `json:"thread_id"`
	Messages []llm.Message `json:"messages"`
}

func (s *Server) handleThreadMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.loop.Run(r.Context(), agent.Request{
		ThreadID: r.PathValue("id"),
		Content:  req.Content,
		System:   s.systemPrompt(),
		Model:    req.Model,
	})
	if err != nil {
		code, msg := turnStatus(err)
		s.logger.Warn("turn failed", "thread", r.PathValue("id"), "status", code, "error", err)
		s.errorResponse(w, code, msg)
		return
	}
	writeJSON(w, newMessageResponse(resp), s.logger)
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.store.Load(r.Context(), id)
	if err != nil {
		s.logger.Error("load thread failed", "thread", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "conversation store failed")
		return
	}
	if msgs == nil {
		msgs = []llm.Message{}
	}
	writeJSON(w, ThreadResponse{ThreadID: id, Messages: msgs}, s.logger)
}

func (s *Server) handleThreadList(w http.ResponseWriter, r *http.Request) {
	threads, err := s.store.Threads(r.Context())
	if err != nil {
		s.logger.Error("list threads failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "conversation store failed")
		return
	}
	writeJSON(w, map[string]any{"threads": threads, "count": len(threads)}, s.logger)
}

func (s *Server) handleThreadDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.loop.Clear(r.Context(), id); err != nil {
		s.logger.Error("clear thread failed", "thread", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "conversation store failed")
		return
	}
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindThreadCleared,
		Data:      map[string]any{"thread_id": id},
	})
	s.logger.Info("thread cleared", "thread", id)
	w.WriteHeader(http.StatusNoContent)
}
