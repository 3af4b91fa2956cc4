package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/meetly/internal/events"
)

// DailyUsage counts turns and model tokens for the current local day.
// Counters reset when the date changes. Safe for concurrent use.
type DailyUsage struct {
	mu     sync.Mutex
	input  int64
	output int64
	turns  int64
	day    string // YYYY-MM-DD the counters belong to
	loc    *time.Location
	now    func() time.Time
}

// NewDailyUsage creates a counter that rolls over at midnight in loc.
// A nil loc means [time.Local].
func NewDailyUsage(loc *time.Location) *DailyUsage {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyUsage{loc: loc, now: time.Now}
	d.day = d.today()
	return d
}

// Observe updates the counters from an agent event. Only llm_response
// and turn_complete events count; everything else is ignored.
func (d *DailyUsage) Observe(e events.Event) {
	switch e.Kind {
	case events.KindLLMResponse:
		d.add(intField(e.Data, "tokens_in"), intField(e.Data, "tokens_out"), 0)
	case events.KindTurnComplete:
		d.add(0, 0, 1)
	}
}

func (d *DailyUsage) add(input, output, turns int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.input += input
	d.output += output
	d.turns += turns
}

// Snapshot returns today's input tokens, output tokens and completed
// turns.
func (d *DailyUsage) Snapshot() (input, output, turns int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.input, d.output, d.turns
}

func (d *DailyUsage) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// maybeReset must be called with d.mu held.
func (d *DailyUsage) maybeReset() {
	if today := d.today(); today != d.day {
		d.input, d.output, d.turns = 0, 0, 0
		d.day = today
	}
}

// intField reads a numeric event field. Events built in-process carry
// ints; ones that went through JSON carry float64.
func intField(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
