package tools

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if got := ThreadIDFromContext(ctx); got != "" {
		t.Errorf("ThreadIDFromContext(empty) = %q", got)
	}
	if got := CallIDFromContext(ctx); got != "" {
		t.Errorf("CallIDFromContext(empty) = %q", got)
	}

	ctx = WithCallID(WithThreadID(ctx, "thread-1"), "call_1")
	if got := ThreadIDFromContext(ctx); got != "thread-1" {
		t.Errorf("ThreadIDFromContext() = %q, want thread-1", got)
	}
	if got := CallIDFromContext(ctx); got != "call_1" {
		t.Errorf("CallIDFromContext() = %q, want call_1", got)
	}
}
