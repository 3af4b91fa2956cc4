package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nugget/meetly/internal/llm"
)

type thread struct {
	mu        sync.RWMutex
	messages  []llm.Message
	updatedAt time.Time
}

// MemoryStore keeps threads for the life of the process. Each thread
// has its own lock, so appends to different threads never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*thread
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*thread)}
}

func (s *MemoryStore) get(id string, create bool) *thread {
	s.mu.RLock()
	t, ok := s.threads[id]
	s.mu.RUnlock()
	if ok || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.threads[id]; !ok {
		t = &thread{}
		s.threads[id] = t
	}
	return t
}

// Load returns a copy of the thread's messages.
func (s *MemoryStore) Load(_ context.Context, threadID string) ([]llm.Message, error) {
	if threadID == "" {
		return nil, &StoreError{Op: "load", Err: ErrEmptyThreadID}
	}
	t := s.get(threadID, false)
	if t == nil {
		return []llm.Message{}, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]llm.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

// Append adds msgs to the end of the thread, creating it if needed.
func (s *MemoryStore) Append(ctx context.Context, threadID string, msgs ...llm.Message) error {
	if threadID == "" {
		return &StoreError{Op: "append", Err: ErrEmptyThreadID}
	}
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "append", ThreadID: threadID, Err: err}
	}
	if len(msgs) == 0 {
		return nil
	}
	t := s.get(threadID, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.messages = append(t.messages, cloneMessage(m))
	}
	t.updatedAt = time.Now()
	return nil
}

// Threads lists threads, most recently updated first.
func (s *MemoryStore) Threads(_ context.Context) ([]ThreadInfo, error) {
	s.mu.RLock()
	out := make([]ThreadInfo, 0, len(s.threads))
	for id, t := range s.threads {
		t.mu.RLock()
		out = append(out, ThreadInfo{ID: id, Messages: len(t.messages), UpdatedAt: t.updatedAt})
		t.mu.RUnlock()
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Clear forgets a thread. Clearing an unknown thread is not an error.
func (s *MemoryStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
