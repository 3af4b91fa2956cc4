package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/events"
	"github.com/nugget/meetly/internal/llm"
	"github.com/nugget/meetly/internal/session"
)

// mockLLM answers every call with the next scripted reply and records
// the messages it was sent.
type mockLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, _ []llm.ToolDefinition) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llm.Message(nil), msgs...))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", len(m.calls)-1)
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return &llm.ChatResponse{
		Model:        model,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: reply},
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

type testEnv struct {
	server *Server
	http   *httptest.Server
	store  *session.MemoryStore
	bus    *events.Bus
	llm    *mockLLM
}

func newTestEnv(t *testing.T, replies ...string) *testEnv {
	t.Helper()
	mock := &mockLLM{replies: replies}
	store := session.NewMemoryStore()
	bus := events.New()
	loop := agent.NewLoop(nil, mock, store, nil, agent.Config{Model: "test-model"})
	loop.SetEventBus(bus)

	srv := NewServer("", 0, loop, nil)
	srv.SetEventBus(bus)
	srv.SetSystemPrompt(func() string { return "You are Meetly." })

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{server: srv, http: hs, store: store, bus: bus, llm: mock}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["status"] != "healthy" {
		t.Errorf("body = %v", got)
	}
}

func TestRoot_ReportsEventSubscribers(t *testing.T) {
	env := newTestEnv(t)
	ch := env.bus.Subscribe(1)
	defer env.bus.Unsubscribe(ch)

	resp := env.do(t, http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[map[string]any](t, resp)
	if got["name"] != "Meetly" || got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
	if n, ok := got["event_subscribers"].(float64); !ok || n != 1 {
		t.Errorf("event_subscribers = %v, want 1", got["event_subscribers"])
	}
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t, "You have **two** meetings today.")

	resp := env.do(t, http.MethodPost, "/v1/threads/web-1/messages", `{"content":"What's on today?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[MessageResponse](t, resp)
	if got.ThreadID != "web-1" {
		t.Errorf("ThreadID = %q", got.ThreadID)
	}
	if got.Content != "You have **two** meetings today." {
		t.Errorf("Content = %q", got.Content)
	}
	if !strings.Contains(got.ContentHTML, "<strong>two</strong>") {
		t.Errorf("ContentHTML = %q", got.ContentHTML)
	}
	if got.FinishReason != agent.FinishStop || got.Iterations != 1 {
		t.Errorf("FinishReason = %q, Iterations = %d", got.FinishReason, got.Iterations)
	}

	// The system prompt goes to the model but not into the thread.
	if first := env.llm.calls[0][0]; first.Role != llm.RoleSystem || first.Content != "You are Meetly." {
		t.Errorf("first message to model = %+v", first)
	}
	msgs, _ := env.store.Load(context.Background(), "web-1")
	if len(msgs) != 2 {
		t.Errorf("stored %d messages, want 2", len(msgs))
	}
}

func TestPostMessage_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"content":`},
		{"empty content", `{"content":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/threads/t1/messages", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPostMessage_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	env.llm.err = errors.New("upstream 503")

	resp := env.do(t, http.MethodPost, "/v1/threads/t1/messages", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decode[map[string]map[string]string](t, resp)
	if strings.Contains(body["error"]["message"], "upstream") {
		t.Errorf("provider detail leaked: %q", body["error"]["message"])
	}
	if msgs, _ := env.store.Load(context.Background(), "t1"); len(msgs) != 0 {
		t.Errorf("failed turn stored %d messages", len(msgs))
	}
}

func TestThreadHistoryListAndClear(t *testing.T) {
	env := newTestEnv(t, "first", "second")
	env.do(t, http.MethodPost, "/v1/threads/a/messages", `{"content":"one"}`)
	env.do(t, http.MethodPost, "/v1/threads/b/messages", `{"content":"two"}`)

	hist := decode[ThreadResponse](t, env.do(t, http.MethodGet, "/v1/threads/a", ""))
	if len(hist.Messages) != 2 || hist.Messages[1].Content != "first" {
		t.Errorf("history = %+v", hist.Messages)
	}

	list := decode[struct {
		Threads []session.ThreadInfo `json:"threads"`
		Count   int                  `json:"count"`
	}](t, env.do(t, http.MethodGet, "/v1/threads", ""))
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	ch := env.bus.Subscribe(8)
	defer env.bus.Unsubscribe(ch)

	resp := env.do(t, http.MethodDelete, "/v1/threads/a", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	e := <-ch
	if e.Kind != events.KindThreadCleared || e.Data["thread_id"] != "a" {
		t.Errorf("event = %+v", e)
	}

	hist = decode[ThreadResponse](t, env.do(t, http.MethodGet, "/v1/threads/a", ""))
	if hist.Messages == nil || len(hist.Messages) != 0 {
		t.Errorf("cleared thread = %#v, want empty list", hist.Messages)
	}
}

func TestChatCompletions(t *testing.T) {
	env := newTestEnv(t, "Booked.")

	body := `{"model":"m","user":"owui","messages":[{"role":"user","content":"old"},{"role":"assistant","content":"x"},{"role":"user","content":"book it"}]}`
	resp := env.do(t, http.MethodPost, "/v1/chat/completions", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[ChatCompletionResponse](t, resp)
	if got.Object != "chat.completion" || len(got.Choices) != 1 {
		t.Fatalf("response = %+v", got)
	}
	if got.Choices[0].Message.Content != "Booked." || got.Choices[0].FinishReason != "stop" {
		t.Errorf("choice = %+v", got.Choices[0])
	}
	if got.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", got.Usage.TotalTokens)
	}

	msgs, _ := env.store.Load(context.Background(), "owui")
	if len(msgs) != 2 || msgs[0].Content != "book it" {
		t.Errorf("thread owui = %+v", msgs)
	}
}

func TestTurnStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{agent.ErrEmptyMessage, http.StatusBadRequest},
		{&agent.ProviderError{Err: errors.New("x")}, http.StatusBadGateway},
		{&session.StoreError{Op: "append", Err: errors.New("x")}, http.StatusInternalServerError},
		{fmt.Errorf("wait: %w", context.Canceled), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := turnStatus(tt.err); got != tt.want {
			t.Errorf("turnStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRenderMarkdown_EscapesHTML(t *testing.T) {
	got := renderMarkdown("hi <script>alert(1)</script>")
	if strings.Contains(got, "<script>") {
		t.Errorf("raw HTML passed through: %q", got)
	}
}
