// Package outbox implements the transactional outbox: messages are written in
// the same transaction as the state change that produced them and relayed to
// the broker afterwards, giving at-least-once delivery that never publishes
// uncommitted state.
package outbox

import (
	"context"
	"time"
)

// Message is one pending broker record.
type Message struct {
	ID             int64
	Topic          string
	Key            string
	IdempotencyKey string
	Payload        []byte
	CreatedAt      time.Time
	PublishedAt    *time.Time
}

// Writer appends messages. A message whose IdempotencyKey was already
// written is silently ignored.
type Writer interface {
	Append(ctx context.Context, msg Message) error
}

// Store is the relay's view of the outbox table.
type Store interface {
	Writer
	ListUnpublished(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}
