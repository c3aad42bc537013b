package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"membership/pkg/requestcontext"
)

// Handler runs one task. Returning an error schedules a retry unless the
// error is Permanent or the attempts are used up.
type Handler func(ctx context.Context, t Task) error

// patienceFactor stretches the backoff of rate-limited tasks.
const patienceFactor = 4

type Worker struct {
	queue       Queue
	handlers    map[Kind]Handler
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	concurrency int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	pollWait    time.Duration
	now         func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

func WithBackoff(base time.Duration) Option {
	return func(w *Worker) {
		if base > 0 {
			w.baseBackoff = base
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func NewWorker(queue Queue, opts ...Option) *Worker {
	w := &Worker{
		queue:       queue,
		handlers:    map[Kind]Handler{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("membership/jobs"),
		concurrency: 4,
		maxAttempts: 5,
		baseBackoff: 5 * time.Second,
		maxBackoff:  30 * time.Minute,
		pollWait:    2 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers h for kind, replacing any earlier handler.
func (w *Worker) Handle(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Kinds lists the registered task kinds.
func (w *Worker) Kinds() []Kind {
	out := make([]Kind, 0, len(w.handlers))
	for k := range w.handlers {
		out = append(out, k)
	}
	return out
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.RecoverInflight(ctx); err != nil {
		w.logger.WarnContext(ctx, "recover in-flight tasks failed", "error", err)
	} else if n > 0 {
		w.logger.InfoContext(ctx, "recovered in-flight tasks", "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.promote(ctx) })
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error { return w.consume(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) promote(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.queue.PromoteDue(ctx, w.now()); err != nil && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "promote delayed tasks failed", "error", err)
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t, err := w.queue.Dequeue(ctx, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.WarnContext(ctx, "dequeue failed", "error", err)
			time.Sleep(w.pollWait)
			continue
		}
		if t == nil {
			continue
		}
		_ = w.Process(ctx, *t)
	}
}

// Process runs one dequeued task, then acks it or schedules a retry. It
// returns the handler's error.
func (w *Worker) Process(ctx context.Context, t Task) error {
	start := w.now()
	ctx, span := w.tracer.Start(ctx, "job "+string(t.Kind), trace.WithAttributes(
		attribute.String("job.kind", string(t.Kind)),
		attribute.String("job.id", t.ID),
		attribute.Int("job.attempt", t.Attempt),
	))
	defer span.End()

	err := w.run(requestcontext.WithTime(ctx, start), t)
	w.metrics.observe(t.Kind, w.now().Sub(start))

	if err == nil {
		w.metrics.inc(t.Kind, "succeeded")
		w.ack(ctx, t)
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	next := t
	next.Attempt++
	next.raw = ""
	if IsPermanent(err) || next.Attempt >= w.maxAttempts {
		w.metrics.inc(t.Kind, "failed")
		w.logger.ErrorContext(ctx, "task failed permanently",
			"kind", t.Kind, "task_id", t.ID, "attempt", next.Attempt, "error", err)
		w.ack(ctx, t)
		return err
	}

	delay := Backoff(w.baseBackoff, w.maxBackoff, next.Attempt, IsPatient(err))
	if qerr := w.queue.EnqueueAt(ctx, next, w.now().Add(delay)); qerr != nil {
		// Leave it in flight; RecoverInflight picks it up on restart.
		w.logger.ErrorContext(ctx, "schedule retry failed", "kind", t.Kind, "task_id", t.ID, "error", qerr)
		return err
	}
	w.metrics.inc(t.Kind, "retried")
	w.logger.WarnContext(ctx, "task failed, retrying",
		"kind", t.Kind, "task_id", t.ID, "attempt", next.Attempt, "delay", delay, "error", err)
	w.ack(ctx, t)
	return err
}

// RunNow dispatches a task directly, bypassing the queue.
func (w *Worker) RunNow(ctx context.Context, kind Kind, payload any) error {
	t, err := NewTask(kind, payload)
	if err != nil {
		return err
	}
	return w.run(requestcontext.WithTime(ctx, w.now()), t)
}

func (w *Worker) run(ctx context.Context, t Task) (err error) {
	h, ok := w.handlers[t.Kind]
	if !ok {
		return Permanent(fmt.Errorf("no handler for task kind %q", t.Kind))
	}
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("task %s panicked: %v", t.Kind, r))
		}
	}()
	return h(ctx, t)
}

func (w *Worker) ack(ctx context.Context, t Task) {
	if err := w.queue.Ack(ctx, t); err != nil {
		w.logger.WarnContext(ctx, "ack failed", "kind", t.Kind, "task_id", t.ID, "error", err)
	}
}

// Backoff is base doubled per attempt, stretched for rate limits and capped.
func Backoff(base, ceiling time.Duration, attempt int, patient bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if patient {
		d *= patienceFactor
	}
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}
