// Package events carries turn progress from the agent loop to whoever
// is watching: the websocket stream in the HTTP API and the MQTT
// publisher. A nil *Bus is valid and drops everything, so producers
// never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent = "agent"
	SourceTools = "tools"
	SourceAPI   = "api"
)

// Kinds published during a turn. Every event carries thread_id.
const (
	// KindTurnStart: thread_id, turn_id.
	KindTurnStart = "turn_start"
	// KindLLMCall: thread_id, turn_id, iter, model, messages.
	KindLLMCall = "llm_call"
	// KindLLMResponse: thread_id, turn_id, iter, model, tokens_in,
	// tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall: thread_id, turn_id, tool, call_id.
	KindToolCall = "tool_call"
	// KindToolDone: thread_id, turn_id, tool, call_id, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete: thread_id, turn_id, finish_reason, iterations,
	// tool_calls, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnFailed: thread_id, turn_id, error.
	KindTurnFailed = "turn_failed"
	// KindThreadCleared: thread_id.
	KindThreadCleared = "thread_cleared"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers get buffered
// channels; a full subscriber misses events instead of stalling the
// publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recv maps the receive-only view handed to callers back to the
	// channel we own, so Unsubscribe can close it.
	recv map[<-chan Event]chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
		recv: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber that has room. No-op on a nil
// bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for Publish with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. Callers
// must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recv[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// or already-removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.recv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.recv, ch)
	close(send)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
