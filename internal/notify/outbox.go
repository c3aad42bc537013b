package notify

import (
	"context"
	"errors"

	"membership/pkg/platform/outbox"
	"membership/pkg/requestcontext"
)

// Topic receives every notification event.
const Topic = "membership.notifications"

// OutboxNotifier writes events to the transactional outbox. Called with a
// transactional context, the event commits or rolls back with the change
// that produced it.
type OutboxNotifier struct {
	writer outbox.Writer
}

func NewOutboxNotifier(writer outbox.Writer) *OutboxNotifier {
	return &OutboxNotifier{writer: writer}
}

func (n *OutboxNotifier) Send(ctx context.Context, ev Event) error {
	if ev.IdempotencyKey == "" {
		return errors.New("notification requires an idempotency key")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = requestcontext.Now(ctx)
	}
	payload, err := ev.marshal()
	if err != nil {
		return err
	}
	key := ev.AccountID.String()
	if !ev.ProfileID.IsNil() {
		key = ev.ProfileID.String()
	}
	return n.writer.Append(ctx, outbox.Message{
		Topic:          Topic,
		Key:            key,
		IdempotencyKey: ev.IdempotencyKey,
		Payload:        payload,
		CreatedAt:      ev.OccurredAt,
	})
}
