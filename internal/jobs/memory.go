package jobs

import (
	"context"
	"slices"
	"sync"
	"time"
)

type delayedTask struct {
	task Task
	at   time.Time
}

// MemoryQueue is the single-process Queue used when Redis is not configured.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []Task
	inflight map[string]Task
	delayed  []delayedTask
	signal   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inflight: map[string]Task{}, signal: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	q.ready = append(q.ready, t)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) EnqueueAt(_ context.Context, t Task, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, delayedTask{task: t, at: at})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		if t, ok := q.pop(); ok {
			return &t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, t.ID)
	return nil
}

func (q *MemoryQueue) PromoteDue(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	var keep []delayedTask
	n := 0
	for _, d := range q.delayed {
		if d.at.After(now) {
			keep = append(keep, d)
			continue
		}
		q.ready = append(q.ready, d.task)
		n++
	}
	q.delayed = keep
	q.mu.Unlock()
	if n > 0 {
		q.wake()
	}
	return n, nil
}

func (q *MemoryQueue) RecoverInflight(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.inflight)
	for id, t := range q.inflight {
		q.ready = append(q.ready, t)
		delete(q.inflight, id)
	}
	return n, nil
}

// Pending returns the ready tasks without removing them.
func (q *MemoryQueue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.ready)
}

// Delayed returns the scheduled tasks and their due times.
func (q *MemoryQueue) Delayed() map[string]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]time.Time, len(q.delayed))
	for _, d := range q.delayed {
		out[d.task.ID] = d.at
	}
	return out
}

func (q *MemoryQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return Task{}, false
	}
	t := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[t.ID] = t
	return t, true
}

func (q *MemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
