package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	dm "membership/internal/deletion/models"
	em "membership/internal/export/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type DeletionStore struct{ base }

const deletionColumns = `id, profile_id, reason, status, snapshot, confirmation_token, confirmed_at, reviewed_by,
	reviewed_at, review_notes, denial_reason, execution_started, executed_at, error_message, anonymization_log,
	requested_by, requested_at, updated_at`

const openDeletionStatuses = `('requested', 'pending_confirmation', 'under_review', 'approved', 'executing')`

func scanDeletion(row interface{ Scan(...any) error }) (dm.Request, error) {
	var (
		r              dm.Request
		status         string
		snapshot, alog []byte
	)
	err := row.Scan(&r.ID, &r.ProfileID, &r.Reason, &status, &snapshot, &r.ConfirmationToken, &r.ConfirmedAt, &r.ReviewedBy,
		&r.ReviewedAt, &r.ReviewNotes, &r.DenialReason, &r.ExecutionStarted, &r.ExecutedAt, &r.ErrorMessage, &alog,
		&r.RequestedBy, &r.RequestedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.Status = dm.Status(status)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &r.Snapshot); err != nil {
			return r, err
		}
	}
	if len(alog) > 0 {
		r.AnonymizationLog = &dm.AnonymizationLog{}
		if err := json.Unmarshal(alog, r.AnonymizationLog); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (s *DeletionStore) findOne(ctx context.Context, op, where string, arg any) (*dm.Request, error) {
	r, err := scanDeletion(s.execer(ctx).QueryRowContext(ctx, `SELECT `+deletionColumns+` FROM deletion_requests WHERE `+where, arg))
	if err != nil {
		return nil, translate(err, op)
	}
	return &r, nil
}

func (s *DeletionStore) FindByID(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error) {
	return s.findOne(ctx, "find deletion request", `id = $1`, reqID)
}

func (s *DeletionStore) FindByToken(ctx context.Context, token string) (*dm.Request, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, "find deletion request by token", `confirmation_token = $1`, token)
}

func (s *DeletionStore) FindOpenByProfile(ctx context.Context, profileID id.ProfileID) (*dm.Request, error) {
	return s.findOne(ctx, "find open deletion request", `profile_id = $1 AND status IN `+openDeletionStatuses, profileID)
}

func (s *DeletionStore) Save(ctx context.Context, r *dm.Request) error {
	snapshot := []byte(`{}`)
	if r.Snapshot != nil {
		var err error
		if snapshot, err = json.Marshal(r.Snapshot); err != nil {
			return err
		}
	}
	var alog []byte
	if r.AnonymizationLog != nil {
		var err error
		if alog, err = json.Marshal(r.AnonymizationLog); err != nil {
			return err
		}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO deletion_requests (`+deletionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			confirmed_at = EXCLUDED.confirmed_at,
			reviewed_by = EXCLUDED.reviewed_by,
			reviewed_at = EXCLUDED.reviewed_at,
			review_notes = EXCLUDED.review_notes,
			denial_reason = EXCLUDED.denial_reason,
			execution_started = EXCLUDED.execution_started,
			executed_at = EXCLUDED.executed_at,
			error_message = EXCLUDED.error_message,
			anonymization_log = EXCLUDED.anonymization_log,
			updated_at = EXCLUDED.updated_at
	`, r.ID, r.ProfileID, r.Reason, string(r.Status), snapshot, r.ConfirmationToken, r.ConfirmedAt, r.ReviewedBy,
		r.ReviewedAt, r.ReviewNotes, r.DenialReason, r.ExecutionStarted, r.ExecutedAt, r.ErrorMessage, alog,
		r.RequestedBy, r.RequestedAt, r.UpdatedAt)
	return translate(err, "save deletion request")
}

func (s *DeletionStore) ListByStatus(ctx context.Context, status dm.Status) ([]dm.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+deletionColumns+` FROM deletion_requests WHERE status = $1 ORDER BY requested_at`, string(status))
	return collect(rows, err, "list deletion requests", func(rows *sql.Rows) (dm.Request, error) { return scanDeletion(rows) })
}

type ExportStore struct{ base }

const exportColumns = `id, profile_id, status, archive_key, checksum, size_bytes, error_message, requested_by,
	requested_at, completed_at, expires_at`

func scanExport(row interface{ Scan(...any) error }) (em.Request, error) {
	var (
		r      em.Request
		status string
	)
	err := row.Scan(&r.ID, &r.ProfileID, &status, &r.ArchiveKey, &r.Checksum, &r.SizeBytes, &r.ErrorMessage, &r.RequestedBy,
		&r.RequestedAt, &r.CompletedAt, &r.ExpiresAt)
	r.Status = em.Status(status)
	return r, err
}

func scanExportRows(rows *sql.Rows) (em.Request, error) { return scanExport(rows) }

func (s *ExportStore) FindByID(ctx context.Context, reqID id.ExportRequestID) (*em.Request, error) {
	r, err := scanExport(s.execer(ctx).QueryRowContext(ctx, `SELECT `+exportColumns+` FROM export_requests WHERE id = $1`, reqID))
	if err != nil {
		return nil, translate(err, "find export request")
	}
	return &r, nil
}

func (s *ExportStore) Save(ctx context.Context, r *em.Request) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO export_requests (`+exportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			archive_key = EXCLUDED.archive_key,
			checksum = EXCLUDED.checksum,
			size_bytes = EXCLUDED.size_bytes,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at
	`, r.ID, r.ProfileID, string(r.Status), r.ArchiveKey, r.Checksum, r.SizeBytes, r.ErrorMessage, r.RequestedBy,
		r.RequestedAt, r.CompletedAt, r.ExpiresAt)
	return translate(err, "save export request")
}

func (s *ExportStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]em.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+exportColumns+` FROM export_requests WHERE profile_id = $1 ORDER BY requested_at`, profileID)
	return collect(rows, err, "list export requests", scanExportRows)
}

func (s *ExportStore) ListExpired(ctx context.Context, now time.Time) ([]em.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+exportColumns+` FROM export_requests
		WHERE status = 'completed' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY requested_at
	`, now)
	return collect(rows, err, "list expired exports", scanExportRows)
}
