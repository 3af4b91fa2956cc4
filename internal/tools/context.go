package tools

import "context"

type contextKey string

const (
	threadIDKey contextKey = "thread_id"
	callIDKey   contextKey = "call_id"
)

// WithThreadID tags ctx with the conversation thread a tool runs for.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ThreadIDFromContext returns the thread ID, or "" if none was set.
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}

// WithCallID tags ctx with the tool call being executed.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext returns the tool call ID, or "" if none was set.
func CallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey).(string)
	return id
}
