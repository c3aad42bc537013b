package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Producer publishes a batch of messages synchronously.
type Producer interface {
	Publish(ctx context.Context, msgs []Message) error
}

// Relay drains unpublished outbox messages into a Producer.
type Relay struct {
	store     Store
	producer  Producer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayOption func(*Relay)

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(store Store, producer Producer, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		producer:  producer,
		logger:    slog.Default(),
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.WarnContext(ctx, "outbox relay flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many messages were relayed.
// Messages are marked published only after the producer acknowledged them.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := r.producer.Publish(ctx, msgs); err != nil {
		return 0, err
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := r.store.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Router sends each topic to its own producer and everything else to a
// fallback. Batches are split per producer, preserving order within each.
type Router struct {
	routes   map[string]Producer
	fallback Producer
}

func NewRouter(fallback Producer) *Router {
	return &Router{routes: map[string]Producer{}, fallback: fallback}
}

// Route registers p for topic.
func (r *Router) Route(topic string, p Producer) *Router {
	r.routes[topic] = p
	return r
}

func (r *Router) Publish(ctx context.Context, msgs []Message) error {
	var rest []Message
	byTopic := map[string][]Message{}
	var order []string
	for _, m := range msgs {
		if _, ok := r.routes[m.Topic]; !ok {
			rest = append(rest, m)
			continue
		}
		if _, seen := byTopic[m.Topic]; !seen {
			order = append(order, m.Topic)
		}
		byTopic[m.Topic] = append(byTopic[m.Topic], m)
	}
	for _, topic := range order {
		if err := r.routes[topic].Publish(ctx, byTopic[topic]); err != nil {
			return err
		}
	}
	if len(rest) == 0 || r.fallback == nil {
		return nil
	}
	return r.fallback.Publish(ctx, rest)
}
