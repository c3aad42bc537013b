package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	apm "membership/internal/application/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
)

type ApplicationStore struct{ base }

const applicationColumns = `id, account_id, batch_id, status, legal_name, preferred_name, preferred_language,
	country_of_residence, requested_role, how_heard, motivation, attended_before, years_attended, skills,
	data_processing_consent, consented_at, consent_ip, submitted_at, reviewed_at, reviewed_by, review_notes,
	redacted_at, updated_at`

const openStatuses = `('submitted', 'under_review')`

func scanApplication(row interface{ Scan(...any) error }) (apm.Application, error) {
	var (
		a      apm.Application
		status string
		role   string
		years  pq.Int64Array
	)
	err := row.Scan(&a.ID, &a.AccountID, &a.BatchID, &status, &a.LegalName, &a.PreferredName, &a.PreferredLanguage,
		&a.CountryOfResidence, &role, &a.HowHeard, &a.Motivation, &a.AttendedBefore, &years, pq.Array(&a.Skills),
		&a.DataProcessingConsent, &a.ConsentedAt, &a.ConsentIP, &a.SubmittedAt, &a.ReviewedAt, &a.ReviewedBy, &a.ReviewNotes,
		&a.RedactedAt, &a.UpdatedAt)
	a.Status = apm.Status(status)
	a.RequestedRole = mm.Role(role)
	for _, y := range years {
		a.YearsAttended = append(a.YearsAttended, int(y))
	}
	return a, err
}

func scanApplicationRows(rows *sql.Rows) (apm.Application, error) { return scanApplication(rows) }

func (s *ApplicationStore) findOne(ctx context.Context, op, where string, arg any) (*apm.Application, error) {
	a, err := scanApplication(s.execer(ctx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE `+where, arg))
	if err != nil {
		return nil, translate(err, op)
	}
	return &a, nil
}

func (s *ApplicationStore) FindByID(ctx context.Context, appID id.ApplicationID) (*apm.Application, error) {
	return s.findOne(ctx, "find application", `id = $1`, appID)
}

func (s *ApplicationStore) FindOpenByAccount(ctx context.Context, accountID id.AccountID) (*apm.Application, error) {
	return s.findOne(ctx, "find open application", `account_id = $1 AND status IN `+openStatuses, accountID)
}

// Save upserts an application. The partial unique index on open
// applications turns a second open one into ErrConflict.
func (s *ApplicationStore) Save(ctx context.Context, a *apm.Application) error {
	years := make(pq.Int64Array, 0, len(a.YearsAttended))
	for _, y := range a.YearsAttended {
		years = append(years, int64(y))
	}
	skills := a.Skills
	if skills == nil {
		skills = []string{}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			status = EXCLUDED.status,
			legal_name = EXCLUDED.legal_name,
			preferred_name = EXCLUDED.preferred_name,
			how_heard = EXCLUDED.how_heard,
			motivation = EXCLUDED.motivation,
			skills = EXCLUDED.skills,
			consent_ip = EXCLUDED.consent_ip,
			reviewed_at = EXCLUDED.reviewed_at,
			reviewed_by = EXCLUDED.reviewed_by,
			review_notes = EXCLUDED.review_notes,
			redacted_at = EXCLUDED.redacted_at,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.AccountID, a.BatchID, string(a.Status), a.LegalName, a.PreferredName, a.PreferredLanguage,
		a.CountryOfResidence, string(a.RequestedRole), a.HowHeard, a.Motivation, a.AttendedBefore, years, pq.Array(skills),
		a.DataProcessingConsent, a.ConsentedAt, a.ConsentIP, a.SubmittedAt, a.ReviewedAt, a.ReviewedBy, a.ReviewNotes,
		a.RedactedAt, a.UpdatedAt)
	return translate(err, "save application")
}

func (s *ApplicationStore) ListByAccount(ctx context.Context, accountID id.AccountID) ([]apm.Application, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE account_id = $1 ORDER BY submitted_at, id`, accountID)
	return collect(rows, err, "list applications", scanApplicationRows)
}

func (s *ApplicationStore) ListByBatch(ctx context.Context, batchID id.BatchID) ([]apm.Application, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE batch_id = $1 ORDER BY submitted_at, id`, batchID)
	return collect(rows, err, "list batch applications", scanApplicationRows)
}

// redactSet mirrors Application.ApplyRedaction.
const redactSet = `legal_name = '[REDACTED]', preferred_name = '', motivation = '[REDACTED]', how_heard = '[REDACTED]',
	review_notes = '[REDACTED]', skills = '{}', redacted_at = $1, updated_at = $1`

func (s *ApplicationStore) RedactRejectedBefore(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE applications SET `+redactSet+`
		WHERE status = 'rejected' AND redacted_at IS NULL AND reviewed_at < $2
	`, now, cutoff)
	return affected(res, err, "redact rejected applications")
}

func (s *ApplicationStore) RedactByAccount(ctx context.Context, accountID id.AccountID, now time.Time) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE applications SET `+redactSet+`
		WHERE account_id = $2 AND redacted_at IS NULL
	`, now, accountID)
	return affected(res, err, "redact account applications")
}

func (s *ApplicationStore) FindBatch(ctx context.Context, batchID id.BatchID) (*apm.Batch, error) {
	var (
		b      apm.Batch
		status string
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, name, status, created_by, created_at, closed_at FROM application_batches WHERE id = $1`, batchID).
		Scan(&b.ID, &b.Name, &status, &b.CreatedBy, &b.CreatedAt, &b.ClosedAt)
	if err != nil {
		return nil, translate(err, "find batch")
	}
	b.Status = apm.BatchStatus(status)
	return &b, nil
}

func (s *ApplicationStore) SaveBatch(ctx context.Context, b *apm.Batch) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO application_batches (id, name, status, created_by, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status, closed_at = EXCLUDED.closed_at
	`, b.ID, b.Name, string(b.Status), b.CreatedBy, b.CreatedAt, b.ClosedAt)
	return translate(err, "save batch")
}
