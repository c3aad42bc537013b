package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type WorkerSuite struct {
	suite.Suite
	queue  *MemoryQueue
	worker *Worker
	now    time.Time
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.queue = NewMemoryQueue()
	s.worker = NewWorker(s.queue,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMaxAttempts(3),
		WithBackoff(time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *WorkerSuite) dequeue() Task {
	t, err := s.queue.Dequeue(context.Background(), time.Millisecond)
	s.Require().NoError(err)
	s.Require().NotNil(t)
	return *t
}

func (s *WorkerSuite) TestProcess() {
	ctx := context.Background()

	s.Run("success acks the task", func() {
		s.SetupTest()
		var got Task
		s.worker.Handle(KindReconcile, func(_ context.Context, t Task) error {
			got = t
			return nil
		})
		s.Require().NoError(Enqueue(ctx, s.queue, KindReconcile, map[string]string{"profile_id": "p1"}))

		s.Require().NoError(s.worker.Process(ctx, s.dequeue()))
		var payload map[string]string
		s.Require().NoError(got.Decode(&payload))
		s.Equal("p1", payload["profile_id"])

		n, err := s.queue.RecoverInflight(ctx)
		s.Require().NoError(err)
		s.Zero(n, "acked task must not be in flight")
	})

	s.Run("transient failure schedules a retry with backoff", func() {
		s.SetupTest()
		s.worker.Handle(KindReconcile, func(context.Context, Task) error { return errors.New("drive down") })
		s.Require().NoError(Enqueue(ctx, s.queue, KindReconcile, nil))
		task := s.dequeue()

		s.Error(s.worker.Process(ctx, task))
		due := s.queue.Delayed()
		s.Require().Len(due, 1)
		s.Equal(s.now.Add(time.Second), due[task.ID])

		n, err := s.queue.PromoteDue(ctx, s.now.Add(time.Second))
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(1, s.dequeue().Attempt)
	})

	s.Run("rate-limited failure waits longer", func() {
		s.SetupTest()
		s.worker.Handle(KindProvisionRole, func(context.Context, Task) error {
			return Patient(errors.New("rate limited"))
		})
		s.Require().NoError(Enqueue(ctx, s.queue, KindProvisionRole, nil))
		task := s.dequeue()

		s.Error(s.worker.Process(ctx, task))
		s.Equal(s.now.Add(4*time.Second), s.queue.Delayed()[task.ID])
	})

	s.Run("permanent failure drops the task", func() {
		s.SetupTest()
		s.worker.Handle(KindExecuteDelete, func(context.Context, Task) error {
			return Permanent(errors.New("request not approved"))
		})
		s.Require().NoError(Enqueue(ctx, s.queue, KindExecuteDelete, nil))

		s.Error(s.worker.Process(ctx, s.dequeue()))
		s.Empty(s.queue.Delayed())
		s.Empty(s.queue.Pending())
	})

	s.Run("exhausted attempts drop the task", func() {
		s.SetupTest()
		s.worker.Handle(KindReconcile, func(context.Context, Task) error { return errors.New("still down") })
		task, err := NewTask(KindReconcile, nil)
		s.Require().NoError(err)
		task.Attempt = 2
		s.Require().NoError(s.queue.Enqueue(ctx, task))

		s.Error(s.worker.Process(ctx, s.dequeue()))
		s.Empty(s.queue.Delayed())
	})

	s.Run("unknown kind is permanent", func() {
		s.SetupTest()
		s.Require().NoError(Enqueue(ctx, s.queue, Kind("nope"), nil))
		err := s.worker.Process(ctx, s.dequeue())
		s.Error(err)
		s.True(IsPermanent(err))
		s.Empty(s.queue.Delayed())
	})

	s.Run("panicking handler is contained", func() {
		s.SetupTest()
		s.worker.Handle(KindReconcile, func(context.Context, Task) error { panic("boom") })
		s.Require().NoError(Enqueue(ctx, s.queue, KindReconcile, nil))
		err := s.worker.Process(ctx, s.dequeue())
		s.ErrorContains(err, "boom")
	})
}

func (s *WorkerSuite) TestRunNow() {
	var calls int
	s.worker.Handle(KindExpirySweep, func(context.Context, Task) error {
		calls++
		return nil
	})
	s.Require().NoError(s.worker.RunNow(context.Background(), KindExpirySweep, nil))
	s.Equal(1, calls)
	s.Error(s.worker.RunNow(context.Background(), KindCleanupExports, nil))
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	q := NewMemoryQueue()
	var done atomic.Int32
	w := NewWorker(q, WithConcurrency(2), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	w.pollWait = 10 * time.Millisecond
	w.Handle(KindReconcile, func(context.Context, Task) error {
		done.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for range 5 {
		require.NoError(t, Enqueue(ctx, q, KindReconcile, nil))
	}
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return done.Load() == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-errCh)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		patient bool
		want    time.Duration
	}{
		{"first retry", 1, false, time.Second},
		{"doubles", 3, false, 4 * time.Second},
		{"patient", 2, true, 8 * time.Second},
		{"capped", 20, false, time.Minute},
		{"zero attempt treated as first", 0, false, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(time.Second, time.Minute, tt.attempt, tt.patient))
		})
	}
}
