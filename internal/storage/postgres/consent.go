package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type DocumentStore struct{ base }

const documentColumns = `id, slug, title, type, is_required_for_activation, required_for_roles, display_order, is_active, created_at`

func scanDocument(row interface{ Scan(...any) error }) (cm.LegalDocument, error) {
	var (
		d     cm.LegalDocument
		typ   string
		roles []string
	)
	err := row.Scan(&d.ID, &d.Slug, &d.Title, &typ, &d.IsRequiredForActivation, pq.Array(&roles), &d.DisplayOrder, &d.IsActive, &d.CreatedAt)
	d.Type = cm.DocumentType(typ)
	for _, r := range roles {
		d.RequiredForRoles = append(d.RequiredForRoles, mm.Role(r))
	}
	return d, err
}

func (s *DocumentStore) ListDocuments(ctx context.Context) ([]cm.LegalDocument, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+documentColumns+` FROM legal_documents ORDER BY display_order, slug`)
	return collect(rows, err, "list documents", func(rows *sql.Rows) (cm.LegalDocument, error) { return scanDocument(rows) })
}

func (s *DocumentStore) FindDocument(ctx context.Context, docID id.DocumentID) (*cm.LegalDocument, error) {
	d, err := scanDocument(s.execer(ctx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM legal_documents WHERE id = $1`, docID))
	if err != nil {
		return nil, translate(err, "find document")
	}
	return &d, nil
}

func (s *DocumentStore) FindDocumentBySlug(ctx context.Context, slug string) (*cm.LegalDocument, error) {
	d, err := scanDocument(s.execer(ctx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM legal_documents WHERE slug = $1`, slug))
	if err != nil {
		return nil, translate(err, "find document by slug")
	}
	return &d, nil
}

func (s *DocumentStore) SaveDocument(ctx context.Context, d *cm.LegalDocument) error {
	roles := make([]string, 0, len(d.RequiredForRoles))
	for _, r := range d.RequiredForRoles {
		roles = append(roles, string(r))
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO legal_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			is_required_for_activation = EXCLUDED.is_required_for_activation,
			required_for_roles = EXCLUDED.required_for_roles,
			display_order = EXCLUDED.display_order,
			is_active = EXCLUDED.is_active
	`, d.ID, d.Slug, d.Title, string(d.Type), d.IsRequiredForActivation, pq.Array(roles), d.DisplayOrder, d.IsActive, d.CreatedAt)
	return translate(err, "save document")
}

const versionColumns = `id, document_id, version_number, effective_date, content, content_hash, git_commit_sha,
	git_file_path, synced_at, translations, changelog, is_current, requires_re_consent, re_consent_deadline, created_at`

func scanVersion(row interface{ Scan(...any) error }) (cm.DocumentVersion, error) {
	var (
		v            cm.DocumentVersion
		translations []byte
	)
	err := row.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.EffectiveDate, &v.Content, &v.ContentHash, &v.GitCommitSHA,
		&v.GitFilePath, &v.SyncedAt, &translations, &v.Changelog, &v.IsCurrent, &v.RequiresReConsent, &v.ReConsentDeadline, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	if len(translations) > 0 {
		err = json.Unmarshal(translations, &v.Translations)
	}
	return v, err
}

func (s *DocumentStore) findVersion(ctx context.Context, op, where string, args ...any) (*cm.DocumentVersion, error) {
	v, err := scanVersion(s.execer(ctx).QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE `+where, args...))
	if err != nil {
		return nil, translate(err, op)
	}
	return &v, nil
}

func (s *DocumentStore) FindVersion(ctx context.Context, versionID id.VersionID) (*cm.DocumentVersion, error) {
	return s.findVersion(ctx, "find version", `id = $1`, versionID)
}

func (s *DocumentStore) FindVersionByNumber(ctx context.Context, docID id.DocumentID, number string) (*cm.DocumentVersion, error) {
	return s.findVersion(ctx, "find version by number", `document_id = $1 AND version_number = $2`, docID, number)
}

func (s *DocumentStore) CurrentVersion(ctx context.Context, docID id.DocumentID) (*cm.DocumentVersion, error) {
	return s.findVersion(ctx, "find current version", `document_id = $1 AND is_current`, docID)
}

// SaveVersion upserts a version. is_current is only written by MarkCurrent.
func (s *DocumentStore) SaveVersion(ctx context.Context, v *cm.DocumentVersion) error {
	translations, err := json.Marshal(v.Translations)
	if err != nil {
		return err
	}
	if v.Translations == nil {
		translations = []byte(`{}`)
	}
	err = s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO document_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			effective_date = EXCLUDED.effective_date,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			git_commit_sha = EXCLUDED.git_commit_sha,
			git_file_path = EXCLUDED.git_file_path,
			synced_at = EXCLUDED.synced_at,
			translations = EXCLUDED.translations,
			changelog = EXCLUDED.changelog,
			requires_re_consent = EXCLUDED.requires_re_consent,
			re_consent_deadline = EXCLUDED.re_consent_deadline
		RETURNING is_current
	`, v.ID, v.DocumentID, v.VersionNumber, v.EffectiveDate, v.Content, v.ContentHash, v.GitCommitSHA,
		v.GitFilePath, v.SyncedAt, translations, v.Changelog, v.RequiresReConsent, v.ReConsentDeadline, v.CreatedAt).
		Scan(&v.IsCurrent)
	return translate(err, "save version")
}

// MarkCurrent clears the old current version before setting the new one so
// the partial unique index never sees two.
func (s *DocumentStore) MarkCurrent(ctx context.Context, versionID id.VersionID) error {
	var docID id.DocumentID
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT document_id FROM document_versions WHERE id = $1`, versionID).Scan(&docID)
	if err != nil {
		return translate(err, "mark current version")
	}
	if _, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE document_versions SET is_current = FALSE WHERE document_id = $1 AND is_current AND id <> $2`, docID, versionID); err != nil {
		return translate(err, "mark current version")
	}
	res, err := s.execer(ctx).ExecContext(ctx, `UPDATE document_versions SET is_current = TRUE WHERE id = $1`, versionID)
	return exactlyOne(res, err, "mark current version")
}

func (s *DocumentStore) Requirements(ctx context.Context) ([]cm.Requirement, error) {
	docs, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+documentColumns+` FROM legal_documents WHERE is_active ORDER BY display_order, slug`)
	reqs, err := collect(docs, err, "list requirements", func(rows *sql.Rows) (cm.Requirement, error) {
		d, err := scanDocument(rows)
		return cm.Requirement{Document: d}, err
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE is_current`)
	current, err := collect(rows, err, "list current versions", func(rows *sql.Rows) (cm.DocumentVersion, error) { return scanVersion(rows) })
	if err != nil {
		return nil, err
	}
	byDoc := make(map[id.DocumentID]*cm.DocumentVersion, len(current))
	for i := range current {
		byDoc[current[i].DocumentID] = &current[i]
	}
	for i := range reqs {
		reqs[i].Current = byDoc[reqs[i].Document.ID]
	}
	return reqs, nil
}

type ConsentStore struct{ base }

const consentColumns = `id, profile_id, document_id, version_id, consented_at, ip_address, user_agent, language,
	consent_text, is_active, deactivated_at, deactivation_reason`

func scanConsent(row interface{ Scan(...any) error }) (cm.ConsentRecord, error) {
	var (
		c      cm.ConsentRecord
		reason string
	)
	err := row.Scan(&c.ID, &c.ProfileID, &c.DocumentID, &c.VersionID, &c.ConsentedAt, &c.IPAddress, &c.UserAgent, &c.Language,
		&c.ConsentText, &c.IsActive, &c.DeactivatedAt, &reason)
	c.DeactivationReason = cm.DeactivationReason(reason)
	return c, err
}

func scanConsentRows(rows *sql.Rows) (cm.ConsentRecord, error) { return scanConsent(rows) }

// Insert appends a record. A reused ID is ErrImmutable; a second active
// record for the same version is ErrConflict via the partial unique index.
func (s *ConsentStore) Insert(ctx context.Context, c *cm.ConsentRecord) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO consent_records (`+consentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.ProfileID, c.DocumentID, c.VersionID, c.ConsentedAt, c.IPAddress, c.UserAgent, c.Language,
		c.ConsentText, c.IsActive, c.DeactivatedAt, string(c.DeactivationReason))
	n, err := affected(res, err, "insert consent")
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrImmutable
	}
	return nil
}

func (s *ConsentStore) FindByID(ctx context.Context, consentID id.ConsentID) (*cm.ConsentRecord, error) {
	c, err := scanConsent(s.execer(ctx).QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consent_records WHERE id = $1`, consentID))
	if err != nil {
		return nil, translate(err, "find consent")
	}
	return &c, nil
}

func (s *ConsentStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+consentColumns+` FROM consent_records WHERE profile_id = $1 ORDER BY consented_at, id`, profileID)
	return collect(rows, err, "list consents", scanConsentRows)
}

func (s *ConsentStore) ListActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+consentColumns+` FROM consent_records WHERE profile_id = $1 AND is_active ORDER BY consented_at, id`, profileID)
	return collect(rows, err, "list active consents", scanConsentRows)
}

// Supersede deactivates every active record of docID not tied to keep in a
// single statement.
func (s *ConsentStore) Supersede(ctx context.Context, docID id.DocumentID, keep id.VersionID, now time.Time) ([]id.ProfileID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		UPDATE consent_records SET is_active = FALSE, deactivated_at = $3, deactivation_reason = $4
		WHERE document_id = $1 AND version_id <> $2 AND is_active
		RETURNING profile_id
	`, docID, keep, now, string(cm.ReasonSuperseded))
	return collect(rows, err, "supersede consents", scanProfileID)
}

func (s *ConsentStore) DeactivateIfActive(ctx context.Context, consentID id.ConsentID, reason cm.DeactivationReason, now time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consent_records SET is_active = FALSE, deactivated_at = $2, deactivation_reason = $3
		WHERE id = $1 AND is_active
	`, consentID, now, string(reason))
	n, err := affected(res, err, "deactivate consent")
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM consent_records WHERE id = $1)`, consentID).Scan(&exists); err != nil {
		return translate(err, "deactivate consent")
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *ConsentStore) DeactivateByProfile(ctx context.Context, profileID id.ProfileID, reason cm.DeactivationReason, now time.Time) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consent_records SET is_active = FALSE, deactivated_at = $2, deactivation_reason = $3
		WHERE profile_id = $1 AND is_active
	`, profileID, now, string(reason))
	return affected(res, err, "deactivate profile consents")
}

func (s *ConsentStore) InsertRevocation(ctx context.Context, r *cm.ConsentRevocation) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO consent_revocations (id, consent_id, reason, revoked_by, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.ConsentID, r.Reason, r.RevokedBy, r.RevokedAt)
	return translate(err, "insert revocation")
}

func (s *ConsentStore) ListRevocations(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRevocation, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT r.id, r.consent_id, r.reason, r.revoked_by, r.revoked_at
		FROM consent_revocations r JOIN consent_records c ON c.id = r.consent_id
		WHERE c.profile_id = $1 ORDER BY r.revoked_at
	`, profileID)
	return collect(rows, err, "list revocations", func(rows *sql.Rows) (cm.ConsentRevocation, error) {
		var r cm.ConsentRevocation
		err := rows.Scan(&r.ID, &r.ConsentID, &r.Reason, &r.RevokedBy, &r.RevokedAt)
		return r, err
	})
}
