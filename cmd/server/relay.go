package main

import (
	"context"
	"log/slog"

	"membership/pkg/platform/outbox"
)

// logProducer stands in for the broker in development.
type logProducer struct {
	logger *slog.Logger
}

func (p logProducer) Publish(ctx context.Context, msgs []outbox.Message) error {
	for _, m := range msgs {
		p.logger.InfoContext(ctx, "outbox message",
			"topic", m.Topic,
			"key", m.Key,
			"idempotency_key", m.IdempotencyKey,
			"payload", string(m.Payload),
		)
	}
	return nil
}
