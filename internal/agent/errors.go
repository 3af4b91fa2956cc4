package agent

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when a turn has no user content.
var ErrEmptyMessage = errors.New("message content is empty")

// ErrNoThread is returned when a turn names no thread.
var ErrNoThread = errors.New("thread id is required")

// ProviderError is a failed call to the reasoning provider. It ends the
// turn; nothing from the turn is persisted and the call is not retried.
type ProviderError struct {
	Model string
	Iter  int
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider (model %s, iteration %d): %v", e.Model, e.Iter, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
