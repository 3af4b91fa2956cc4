package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Source: SourceAgent, Kind: KindTurnStart})
	b.Emit(SourceTools, KindToolCall, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmitDelivers(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	b.Emit(SourceAgent, KindTurnComplete, map[string]any{"thread_id": "t1", "iterations": 2})

	select {
	case got := <-ch:
		if got.Kind != KindTurnComplete || got.Source != SourceAgent {
			t.Errorf("got %s/%s", got.Source, got.Kind)
		}
		if got.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
		if got.Data["thread_id"] != "t1" {
			t.Errorf("thread_id = %v", got.Data["thread_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishStampsMissingTimestamp(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: KindToolDone})
	if got := <-ch; got.Timestamp.IsZero() {
		t.Error("Publish should stamp a zero timestamp")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 4
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	b.Emit(SourceAPI, KindThreadCleared, nil)

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Kind != KindThreadCleared {
				t.Errorf("subscriber %d: kind = %q", i, got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestDropOnFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := <-ch; got.Kind != "first" {
		t.Errorf("got kind %q, want %q", got.Kind, "first")
	}
	select {
	case evt := <-ch:
		t.Errorf("expected empty channel, got %v", evt)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	b.Unsubscribe(ch) // second call is a no-op
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
	b.Emit(SourceAgent, KindTurnFailed, nil)
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(64)

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				b.Emit(SourceTools, KindToolDone, map[string]any{"publisher": i, "seq": j})
			}
		}()
	}
	wg.Wait()
	b.Unsubscribe(ch)
	drained.Wait()
}
