package notify

import (
	"context"
	"sync"
)

// Recorder keeps sent events in memory, deduplicated by idempotency key.
// It backs development runs and tests.
type Recorder struct {
	mu     sync.Mutex
	seen   map[string]bool
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]bool)}
}

func (r *Recorder) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[ev.IdempotencyKey] {
		return nil
	}
	r.seen[ev.IdempotencyKey] = true
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded events, optionally filtered by kind.
func (r *Recorder) Events(kinds ...Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Event(nil), r.events...)
	}
	var out []Event
	for _, ev := range r.events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
			}
		}
	}
	return out
}
