package jobs

import (
	"context"
	"fmt"

	"membership/pkg/platform/outbox"
)

// Topic is the outbox topic that carries tasks.
const Topic = "membership.tasks"

// OutboxEnqueuer writes tasks to the transactional outbox so a task only
// becomes visible to workers once the change that produced it commits.
type OutboxEnqueuer struct {
	writer outbox.Writer
}

func NewOutboxEnqueuer(writer outbox.Writer) *OutboxEnqueuer {
	return &OutboxEnqueuer{writer: writer}
}

func (e *OutboxEnqueuer) Enqueue(ctx context.Context, t Task) error {
	raw, err := t.encode()
	if err != nil {
		return err
	}
	return e.writer.Append(ctx, outbox.Message{
		Topic:          Topic,
		Key:            string(t.Kind),
		IdempotencyKey: "task:" + t.ID,
		Payload:        []byte(raw),
		CreatedAt:      t.EnqueuedAt,
	})
}

// QueueProducer is the relay side: it moves task messages from the outbox
// into the queue.
type QueueProducer struct {
	queue Enqueuer
}

func NewQueueProducer(queue Enqueuer) *QueueProducer {
	return &QueueProducer{queue: queue}
}

func (p *QueueProducer) Publish(ctx context.Context, msgs []outbox.Message) error {
	for _, m := range msgs {
		t, err := decodeTask(string(m.Payload))
		if err != nil {
			return fmt.Errorf("relay task %d: %w", m.ID, err)
		}
		t.raw = ""
		if err := p.queue.Enqueue(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
