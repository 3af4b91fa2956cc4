package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/meetly/internal/events"
	"github.com/nugget/meetly/internal/llm"
)

// Result is the outcome of one tool call. Content is what the model
// reads; IsError marks failures of any kind.
type Result struct {
	CallID   string
	ToolName string
	Content  string
	IsError  bool
	Err      error // cause, for logs; nil on success
	Duration time.Duration
}

// Message renders r as the tool-role message answering its call.
func (r Result) Message() llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    r.Content,
		ToolCallID: r.CallID,
		ToolName:   r.ToolName,
		IsError:    r.IsError,
	}
}

// Executor runs batches of tool calls against a Registry.
type Executor struct {
	registry    *Registry
	maxParallel int
	bus         *events.Bus
	logger      *slog.Logger
}

// NewExecutor returns an executor running at most maxParallel calls of
// one batch at a time. maxParallel <= 0 means one at a time.
func NewExecutor(registry *Registry, maxParallel int, logger *slog.Logger) *Executor {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, maxParallel: maxParallel, logger: logger}
}

// SetEventBus publishes tool_call and tool_done events to bus.
func (e *Executor) SetEventBus(bus *events.Bus) {
	e.bus = bus
}

// Run executes calls concurrently and returns one Result per call, in
// the order of calls regardless of completion order. It never fails:
// unknown tools, invalid arguments, errors and panics all become
// error results.
func (e *Executor) Run(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 1 || e.maxParallel == 1 {
		for i, call := range calls {
			results[i] = e.runOne(ctx, call, nil)
		}
		return results
	}

	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.runOne(ctx, call, sem)
		}()
	}
	wg.Wait()
	return results
}

// acquire takes a slot of sem, or gives up when ctx is done. A nil sem
// never blocks.
func acquire(ctx context.Context, sem chan struct{}) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runOne executes call once a slot of sem is free. Every call, including
// one abandoned while waiting for a slot, is logged and publishes
// tool_call and tool_done.
func (e *Executor) runOne(ctx context.Context, call llm.ToolCall, sem chan struct{}) Result {
	name := call.Function.Name
	log := e.logger.With("tool", name, "call_id", call.ID)
	data := map[string]any{"tool": name, "call_id": call.ID, "thread_id": ThreadIDFromContext(ctx)}
	e.bus.Emit(events.SourceTools, events.KindToolCall, data)

	start := time.Now()
	var res Result
	if release, err := acquire(ctx, sem); err != nil {
		res = e.failed(call, &ExecutionError{ToolName: name, Err: err})
	} else {
		res = e.execute(WithCallID(ctx, call.ID), call)
		release()
	}
	res.Duration = time.Since(start)

	done := map[string]any{
		"tool":        name,
		"call_id":     call.ID,
		"thread_id":   data["thread_id"],
		"ok":          !res.IsError,
		"duration_ms": res.Duration.Milliseconds(),
	}
	e.bus.Emit(events.SourceTools, events.KindToolDone, done)

	if res.IsError {
		log.Warn("tool failed", "duration", res.Duration, "error", res.Err)
	} else {
		log.Info("tool executed", "duration", res.Duration, "result_len", len(res.Content))
	}
	return res
}

func (e *Executor) execute(ctx context.Context, call llm.ToolCall) (res Result) {
	name := call.Function.Name

	c, err := e.registry.Get(name)
	if err != nil {
		return e.failed(call, err)
	}
	if err := e.registry.Validate(name, call.Function.Arguments); err != nil {
		return e.failed(call, err)
	}
	if err := ctx.Err(); err != nil {
		return e.failed(call, &ExecutionError{ToolName: name, Err: err})
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panicked", "tool", name, "call_id", call.ID, "panic", p)
			res = e.failed(call, &ExecutionError{ToolName: name, Err: fmt.Errorf("%v", p), Panicked: true})
		}
	}()

	args := call.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := c.Execute(ctx, args)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			if execErr.ToolName == "" {
				execErr.ToolName = name
			}
			return e.failed(call, execErr)
		}
		return e.failed(call, &ExecutionError{ToolName: name, Err: err})
	}
	return Result{CallID: call.ID, ToolName: name, Content: out}
}

func (e *Executor) failed(call llm.ToolCall, err error) Result {
	return Result{
		CallID:   call.ID,
		ToolName: call.Function.Name,
		Content:  err.Error(),
		IsError:  true,
		Err:      err,
	}
}
