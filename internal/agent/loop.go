// Package agent drives one conversation turn: the model reasons over
// the thread history, tool calls it requests are executed, and their
// results are fed back until the model produces a final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/meetly/internal/events"
	"github.com/nugget/meetly/internal/llm"
	"github.com/nugget/meetly/internal/prompts"
	"github.com/nugget/meetly/internal/session"
	"github.com/nugget/meetly/internal/tools"
)

// DefaultMaxIterations bounds reason/act cycles when none is configured.
const DefaultMaxIterations = 10

// Finish reasons.
const (
	FinishStop           = "stop"
	FinishIterationLimit = "iteration_limit"
)

// state is a step of the turn state machine.
type state int

const (
	stateReason state = iota
	stateAct
	stateDone
)

// Config tunes a Loop.
type Config struct {
	Model            string
	MaxIterations    int
	MaxParallelTools int
}

// Request is one user message for a thread.
type Request struct {
	ThreadID string
	Content  string

	// System is sent ahead of the history on every reasoning step of
	// this turn. It is not stored with the thread.
	System string

	// Model overrides the configured model for this turn.
	Model string
}

// Response is the outcome of a completed turn.
type Response struct {
	ThreadID     string        `json:"thread_id"`
	TurnID       string        `json:"turn_id"`
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Iterations   int           `json:"iterations"`
	ToolCalls    int           `json:"tool_calls"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Messages     []llm.Message `json:"-"` // messages appended by this turn
}

// Loop runs turns against a model, a tool registry and a session store.
type Loop struct {
	llm           llm.Client
	model         string
	registry      *tools.Registry
	executor      *tools.Executor
	store         session.Store
	maxIterations int
	locks         *threadLocks
	bus           *events.Bus
	logger        *slog.Logger
}

// NewLoop creates an agent loop. registry may be nil or empty, in which
// case the model is offered no tools.
func NewLoop(logger *slog.Logger, client llm.Client, store session.Store, registry *tools.Registry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Loop{
		llm:           client,
		model:         cfg.Model,
		registry:      registry,
		executor:      tools.NewExecutor(registry, cfg.MaxParallelTools, logger.With("component", "tools")),
		store:         store,
		maxIterations: cfg.MaxIterations,
		locks:         newThreadLocks(),
		logger:        logger,
	}
}

// SetEventBus publishes turn lifecycle events, and those of the tool
// executor, to bus.
func (l *Loop) SetEventBus(bus *events.Bus) {
	l.bus = bus
	l.executor.SetEventBus(bus)
}

// Registry returns the loop's tool registry.
func (l *Loop) Registry() *tools.Registry { return l.registry }

// Executor returns the loop's tool executor.
func (l *Loop) Executor() *tools.Executor { return l.executor }

// Store returns the loop's session store.
func (l *Loop) Store() session.Store { return l.store }

// Model returns the configured default model.
func (l *Loop) Model() string { return l.model }

// Run executes one turn. Turns on the same thread are serialized;
// turns on different threads run in parallel. On error nothing from
// the turn is stored, though tool side effects that already happened
// stand.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	if req.ThreadID == "" {
		return nil, ErrNoThread
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyMessage
	}

	turnID, _ := uuid.NewV7()
	log := l.logger.With("thread", req.ThreadID, "turn", turnID.String())

	release, err := l.locks.acquire(ctx, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("wait for thread %s: %w", req.ThreadID, err)
	}
	defer release()

	resp, err := l.run(tools.WithThreadID(ctx, req.ThreadID), req, turnID.String(), log)
	if err != nil {
		log.Error("turn failed", "error", err)
		l.bus.Emit(events.SourceAgent, events.KindTurnFailed, map[string]any{
			"thread_id": req.ThreadID,
			"turn_id":   turnID.String(),
			"error":     err.Error(),
		})
		return nil, err
	}
	return resp, nil
}

// Clear deletes a thread's history. It waits for any turn running on
// the thread so the turn's messages cannot land after the delete.
func (l *Loop) Clear(ctx context.Context, threadID string) error {
	if threadID == "" {
		return ErrNoThread
	}
	release, err := l.locks.acquire(ctx, threadID)
	if err != nil {
		return fmt.Errorf("wait for thread %s: %w", threadID, err)
	}
	defer release()

	if err := l.store.Clear(ctx, threadID); err != nil {
		return asStoreError("clear", threadID, err)
	}
	l.logger.Debug("thread cleared", "thread", threadID)
	return nil
}

func (l *Loop) run(ctx context.Context, req Request, turnID string, log *slog.Logger) (*Response, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = l.model
	}

	history, err := l.store.Load(ctx, req.ThreadID)
	if err != nil {
		return nil, asStoreError("load", req.ThreadID, err)
	}

	l.bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{
		"thread_id": req.ThreadID,
		"turn_id":   turnID,
		"history":   len(history),
	})
	log.Info("turn started", "history", len(history), "model", model)

	resp := &Response{ThreadID: req.ThreadID, TurnID: turnID, Model: model, FinishReason: FinishStop}
	turn := []llm.Message{{Role: llm.RoleUser, Content: req.Content}}
	defs := l.registry.Definitions()

	st := stateReason
	for st != stateDone {
		switch st {
		case stateReason:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if resp.Iterations >= l.maxIterations {
				log.Warn("iteration limit reached", "iterations", resp.Iterations)
				turn = append(turn, llm.Message{Role: llm.RoleAssistant, Content: prompts.IterationLimitReply})
				resp.FinishReason = FinishIterationLimit
				st = stateDone
				continue
			}
			resp.Iterations++

			msgs := l.prompt(req.System, history, turn)
			l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
				"thread_id": req.ThreadID,
				"turn_id":   turnID,
				"iter":      resp.Iterations,
				"model":     model,
				"messages":  len(msgs),
			})
			log.Debug("reasoning", "iter", resp.Iterations, "messages", len(msgs), "tools", len(defs))

			out, err := l.reason(ctx, model, resp.Iterations, msgs, defs)
			if err != nil {
				return nil, err
			}
			if out.Model != "" {
				resp.Model = out.Model
			}
			resp.InputTokens += out.InputTokens
			resp.OutputTokens += out.OutputTokens

			l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
				"thread_id":  req.ThreadID,
				"turn_id":    turnID,
				"iter":       resp.Iterations,
				"model":      resp.Model,
				"tokens_in":  out.InputTokens,
				"tokens_out": out.OutputTokens,
				"tool_calls": len(out.Message.ToolCalls),
			})

			msg := out.Message
			if msg.HasToolCalls() {
				st = stateAct
			} else {
				if strings.TrimSpace(msg.Content) == "" {
					log.Warn("model returned an empty answer", "iter", resp.Iterations)
					msg.Content = prompts.EmptyResponseFallback
				}
				st = stateDone
			}
			turn = append(turn, msg)

		case stateAct:
			calls := turn[len(turn)-1].ToolCalls
			log.Debug("executing tools", "iter", resp.Iterations, "count", len(calls))
			for _, r := range l.executor.Run(ctx, calls) {
				turn = append(turn, r.Message())
			}
			resp.ToolCalls += len(calls)
			st = stateReason
		}
	}

	if err := l.store.Append(ctx, req.ThreadID, turn...); err != nil {
		return nil, asStoreError("append", req.ThreadID, err)
	}

	resp.Content = turn[len(turn)-1].Content
	resp.Messages = turn

	elapsed := time.Since(start)
	l.bus.Emit(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"thread_id":     req.ThreadID,
		"turn_id":       turnID,
		"finish_reason": resp.FinishReason,
		"iterations":    resp.Iterations,
		"tool_calls":    resp.ToolCalls,
		"elapsed_ms":    elapsed.Milliseconds(),
	})
	log.Info("turn complete",
		"finish_reason", resp.FinishReason,
		"iterations", resp.Iterations,
		"tool_calls", resp.ToolCalls,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return resp, nil
}

// prompt assembles what the model sees: the system prompt, the stored
// history, then the messages of the turn in progress.
func (l *Loop) prompt(system string, history, turn []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+len(turn)+1)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return append(msgs, turn...)
}

func asStoreError(op, threadID string, err error) error {
	var se *session.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &session.StoreError{Op: op, ThreadID: threadID, Err: err}
}
