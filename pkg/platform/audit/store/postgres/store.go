package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	id "membership/pkg/domain"
	audit "membership/pkg/platform/audit"
	"membership/pkg/platform/outbox"
	txcontext "membership/pkg/platform/tx"
)

// TopicAudit is the outbox topic that mirrors every audit entry.
const TopicAudit = "membership.audit"

// Store implements audit.Store on the append-only audit_log table and mirrors
// each entry into the outbox for downstream consumers.
type Store struct {
	db     *sql.DB
	outbox outbox.Writer
}

// New creates a PostgreSQL audit store. A nil writer disables mirroring.
func New(db *sql.DB, writer outbox.Writer) *Store {
	return &Store{db: db, outbox: writer}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the entry and its outbox message.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	extra, err := json.Marshal(entry.Extra)
	if err != nil {
		return fmt.Errorf("marshal audit extra: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			id, timestamp, category, action, description, actor_id, profile_id,
			entity_kind, entity_id, ip_address, user_agent, request_id, extra
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		string(entry.Category),
		string(entry.Action),
		entry.Description,
		entry.ActorID,
		entry.ProfileID,
		string(entry.EntityKind),
		entry.EntityID,
		entry.IPAddress,
		entry.UserAgent,
		entry.RequestID,
		extra,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	return s.outbox.Append(ctx, outbox.Message{
		Topic:          TopicAudit,
		Key:            entry.ProfileID.String(),
		IdempotencyKey: "audit:" + entry.ID.String(),
		Payload:        payload,
		CreatedAt:      entry.Timestamp,
	})
}

// ListByProfile returns entries for a profile, newest first.
func (s *Store) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]audit.Entry, error) {
	query := `
		SELECT id, timestamp, category, action, description, actor_id, profile_id,
			   entity_kind, entity_id, ip_address, user_agent, request_id, extra
		FROM audit_log
		WHERE profile_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry    audit.Entry
			category string
			action   string
			kind     string
			extra    []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&category,
			&action,
			&entry.Description,
			&entry.ActorID,
			&entry.ProfileID,
			&kind,
			&entry.EntityID,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.RequestID,
			&extra,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Category = audit.Category(category)
		entry.Action = audit.Action(action)
		entry.EntityKind = audit.EntityKind(kind)
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &entry.Extra); err != nil {
				return nil, fmt.Errorf("decode audit extra: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
