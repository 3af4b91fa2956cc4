// Package mcpserver exposes Meetly over the Model Context Protocol.
// Every registered capability becomes an MCP tool executed through the
// same validating executor the agent uses, and an extra "ask" tool
// runs a full conversational turn.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/buildinfo"
	"github.com/nugget/meetly/internal/llm"
)

// AskToolName is the MCP tool that runs an agent turn.
const AskToolName = "ask"

const defaultThread = "mcp"

// Server wraps an MCP server bound to an agent loop.
type Server struct {
	loop   *agent.Loop
	system func() string
	server *mcp.Server
	logger *slog.Logger
}

// New builds the MCP server and registers its tools. system renders the
// system prompt for ask turns and may be nil.
func New(loop *agent.Loop, system func() string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		loop:   loop,
		system: system,
		logger: logger,
		server: mcp.NewServer(&mcp.Implementation{Name: "meetly", Version: buildinfo.Version}, nil),
	}
	s.registerCapabilities()
	s.registerAsk()
	return s
}

// Run serves on transport until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server running", "tools", s.loop.Registry().Len()+1)
	return s.server.Run(ctx, transport)
}

// Connect starts a session on transport without blocking.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

func (s *Server) registerCapabilities() {
	for _, def := range s.loop.Registry().Definitions() {
		s.server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, s.capabilityHandler(def.Name))
	}
}

// capabilityHandler runs one tool call through the executor, so MCP
// callers get the same validation and failure containment as the
// model does.
func (s *Server) capabilityHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
		}
		call := llm.ToolCall{
			ID:       "mcp_" + uuid.NewString(),
			Function: llm.FunctionCall{Name: name, Arguments: args},
		}
		res := s.loop.Executor().Run(ctx, []llm.ToolCall{call})[0]
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

type askArgs struct {
	Message string `json:"message"`
	Thread  string `json:"thread,omitempty"`
}

func askSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"message": {Type: "string", Description: "What to ask Meetly, in natural language."},
			"thread":  {Type: "string", Description: "Conversation to continue. Defaults to \"mcp\"."},
		},
		Required: []string{"message"},
	}
}

func (s *Server) registerAsk() {
	s.server.AddTool(&mcp.Tool{
		Name:        AskToolName,
		Description: "Ask Meetly a question about your calendar or have it schedule a meeting. Returns Meetly's reply.",
		InputSchema: askSchema(),
	}, s.handleAsk)
}

func (s *Server) handleAsk(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in askArgs
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return errorResult("invalid arguments: " + err.Error()), nil
		}
	}
	if in.Thread == "" {
		in.Thread = defaultThread
	}

	var system string
	if s.system != nil {
		system = s.system()
	}
	resp, err := s.loop.Run(ctx, agent.Request{ThreadID: in.Thread, Content: in.Message, System: system})
	if err != nil {
		s.logger.Warn("mcp ask failed", "thread", in.Thread, "error", err)
		return errorResult("Meetly could not answer: " + err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: resp.Content}},
	}, nil
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
