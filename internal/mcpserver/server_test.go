package mcpserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/llm"
	"github.com/nugget/meetly/internal/session"
	"github.com/nugget/meetly/internal/tools"
)

type mockLLM struct {
	mu      sync.Mutex
	replies []string
}

func (m *mockLLM) Chat(_ context.Context, model string, _ []llm.Message, _ []llm.ToolDefinition) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, errors.New("mockLLM: no more responses")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return &llm.ChatResponse{Model: model, Message: llm.Message{Role: llm.RoleAssistant, Content: reply}}, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func connect(t *testing.T, replies ...string) (*mcp.ClientSession, session.Store) {
	t.Helper()

	reg := tools.NewRegistry()
	reg.MustRegister(
		tools.NewTool("greet", "Greets someone", nil, func(_ context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			return "hello " + name, nil
		}),
		tools.NewTool("broken", "Always fails", nil, func(context.Context, map[string]any) (string, error) {
			return "", tools.Fail("Broken tool failed.", errors.New("boom"))
		}),
	)
	store := session.NewMemoryStore()
	loop := agent.NewLoop(nil, &mockLLM{replies: replies}, store, reg, agent.Config{Model: "test"})
	srv := New(loop, func() string { return "system" }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs, store
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestListTools(t *testing.T) {
	cs, _ := connect(t)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{AskToolName, "broken", "greet"}
	if len(names) != len(want) {
		t.Fatalf("tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tools = %v, want %v", names, want)
			break
		}
	}
}

func TestCallCapability(t *testing.T) {
	cs, _ := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Errorf("IsError = true")
	}
	if got := textOf(t, res); got != "hello Ada" {
		t.Errorf("text = %q", got)
	}
}

func TestCallCapability_FailureIsContained(t *testing.T) {
	cs, _ := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "broken", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
	if got := textOf(t, res); got != "Broken tool failed." {
		t.Errorf("text = %q", got)
	}
}

func TestAsk(t *testing.T) {
	cs, store := connect(t, "You are free all afternoon.")

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      AskToolName,
		Arguments: map[string]any{"message": "Am I free this afternoon?", "thread": "desk"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := textOf(t, res); got != "You are free all afternoon." {
		t.Errorf("text = %q", got)
	}
	msgs, _ := store.Load(context.Background(), "desk")
	if len(msgs) != 2 {
		t.Errorf("thread has %d messages, want 2", len(msgs))
	}
}

func TestAsk_TurnFailure(t *testing.T) {
	cs, _ := connect(t) // no scripted replies: the provider fails

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      AskToolName,
		Arguments: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
}
