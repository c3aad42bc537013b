package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	id "membership/pkg/domain"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/outbox"
)

const auditTopic = "membership.audit"

// AuditStore appends audit entries and mirrors them to the outbox in the same
// transaction.
type AuditStore struct{ db *DB }

func (s *AuditStore) Append(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return s.db.with(ctx, func(t *tables) error {
		t.audit = append(t.audit, entry)
		appendOutbox(t, outbox.Message{
			Topic:          auditTopic,
			Key:            entry.ProfileID.String(),
			IdempotencyKey: "audit:" + entry.ID.String(),
			Payload:        payload,
			CreatedAt:      entry.Timestamp,
		})
		return nil
	})
}

func (s *AuditStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]audit.Entry, error) {
	return query(s.db, ctx, func(t *tables) ([]audit.Entry, error) {
		var out []audit.Entry
		for _, e := range t.audit {
			if e.ProfileID == profileID {
				out = append(out, e)
			}
		}
		return out, nil
	})
}

// All returns every entry in append order.
func (s *AuditStore) All(ctx context.Context) ([]audit.Entry, error) {
	return query(s.db, ctx, func(t *tables) ([]audit.Entry, error) {
		return append([]audit.Entry(nil), t.audit...), nil
	})
}

type OutboxStore struct{ db *DB }

func (s *OutboxStore) Append(ctx context.Context, msg outbox.Message) error {
	return s.db.with(ctx, func(t *tables) error {
		appendOutbox(t, msg)
		return nil
	})
}

func appendOutbox(t *tables, msg outbox.Message) {
	if t.outboxKeys[msg.IdempotencyKey] {
		return
	}
	t.outboxKeys[msg.IdempotencyKey] = true
	msg.ID = t.nextSeq()
	t.outbox = append(t.outbox, msg)
}

func (s *OutboxStore) ListUnpublished(ctx context.Context, limit int) ([]outbox.Message, error) {
	return query(s.db, ctx, func(t *tables) ([]outbox.Message, error) {
		var out []outbox.Message
		for _, m := range t.outbox {
			if m.PublishedAt == nil {
				out = append(out, m)
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return out, nil
	})
}

func (s *OutboxStore) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	marked := make(map[int64]bool, len(ids))
	for _, i := range ids {
		marked[i] = true
	}
	return s.db.with(ctx, func(t *tables) error {
		for i := range t.outbox {
			if marked[t.outbox[i].ID] && t.outbox[i].PublishedAt == nil {
				t.outbox[i].PublishedAt = &at
			}
		}
		return nil
	})
}

// Topic returns every message written to topic, published or not.
func (s *OutboxStore) Topic(ctx context.Context, topic string) ([]outbox.Message, error) {
	return query(s.db, ctx, func(t *tables) ([]outbox.Message, error) {
		var out []outbox.Message
		for _, m := range t.outbox {
			if m.Topic == topic {
				out = append(out, m)
			}
		}
		return out, nil
	})
}
