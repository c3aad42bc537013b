package storage

import (
	"context"
	"slices"
	"strings"
	"time"

	cm "membership/internal/consent/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type DocumentStore struct{ db *DB }

func (s *DocumentStore) ListDocuments(ctx context.Context) ([]cm.LegalDocument, error) {
	return query(s.db, ctx, func(t *tables) ([]cm.LegalDocument, error) {
		out := make([]cm.LegalDocument, 0, len(t.documents))
		for _, d := range t.documents {
			out = append(out, d)
		}
		slices.SortFunc(out, func(a, b cm.LegalDocument) int {
			if a.DisplayOrder != b.DisplayOrder {
				return a.DisplayOrder - b.DisplayOrder
			}
			return strings.Compare(a.Slug, b.Slug)
		})
		return out, nil
	})
}

func (s *DocumentStore) FindDocument(ctx context.Context, docID id.DocumentID) (*cm.LegalDocument, error) {
	return query(s.db, ctx, func(t *tables) (*cm.LegalDocument, error) {
		d, ok := t.documents[docID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &d, nil
	})
}

func (s *DocumentStore) FindDocumentBySlug(ctx context.Context, slug string) (*cm.LegalDocument, error) {
	return query(s.db, ctx, func(t *tables) (*cm.LegalDocument, error) {
		for _, d := range t.documents {
			if d.Slug == slug {
				return &d, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

func (s *DocumentStore) SaveDocument(ctx context.Context, doc *cm.LegalDocument) error {
	return s.db.with(ctx, func(t *tables) error {
		for _, other := range t.documents {
			if other.ID != doc.ID && other.Slug == doc.Slug {
				return sentinel.ErrConflict
			}
		}
		t.documents[doc.ID] = *doc
		return nil
	})
}

func (s *DocumentStore) FindVersion(ctx context.Context, versionID id.VersionID) (*cm.DocumentVersion, error) {
	return query(s.db, ctx, func(t *tables) (*cm.DocumentVersion, error) {
		v, ok := t.versions[versionID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &v, nil
	})
}

func (s *DocumentStore) FindVersionByNumber(ctx context.Context, docID id.DocumentID, number string) (*cm.DocumentVersion, error) {
	return query(s.db, ctx, func(t *tables) (*cm.DocumentVersion, error) {
		for _, v := range t.versions {
			if v.DocumentID == docID && v.VersionNumber == number {
				return &v, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

func (s *DocumentStore) CurrentVersion(ctx context.Context, docID id.DocumentID) (*cm.DocumentVersion, error) {
	return query(s.db, ctx, func(t *tables) (*cm.DocumentVersion, error) {
		for _, v := range t.versions {
			if v.DocumentID == docID && v.IsCurrent {
				return &v, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

// SaveVersion upserts a version. The current flag is managed by MarkCurrent.
func (s *DocumentStore) SaveVersion(ctx context.Context, v *cm.DocumentVersion) error {
	return s.db.with(ctx, func(t *tables) error {
		for _, other := range t.versions {
			if other.ID != v.ID && other.DocumentID == v.DocumentID && other.VersionNumber == v.VersionNumber {
				return sentinel.ErrConflict
			}
		}
		if existing, ok := t.versions[v.ID]; ok {
			v.IsCurrent = existing.IsCurrent
		} else {
			v.IsCurrent = false
		}
		t.versions[v.ID] = *v
		return nil
	})
}

// MarkCurrent makes versionID the only current version of its document.
func (s *DocumentStore) MarkCurrent(ctx context.Context, versionID id.VersionID) error {
	return s.db.with(ctx, func(t *tables) error {
		target, ok := t.versions[versionID]
		if !ok {
			return sentinel.ErrNotFound
		}
		for vid, v := range t.versions {
			if v.DocumentID == target.DocumentID && v.IsCurrent && vid != versionID {
				v.IsCurrent = false
				t.versions[vid] = v
			}
		}
		target.IsCurrent = true
		t.versions[versionID] = target
		return nil
	})
}

// Requirements pairs every active document with its current version, if any.
func (s *DocumentStore) Requirements(ctx context.Context) ([]cm.Requirement, error) {
	return query(s.db, ctx, func(t *tables) ([]cm.Requirement, error) {
		current := map[id.DocumentID]cm.DocumentVersion{}
		for _, v := range t.versions {
			if v.IsCurrent {
				current[v.DocumentID] = v
			}
		}
		var out []cm.Requirement
		for _, d := range t.documents {
			if !d.IsActive {
				continue
			}
			req := cm.Requirement{Document: d}
			if v, ok := current[d.ID]; ok {
				req.Current = &v
			}
			out = append(out, req)
		}
		slices.SortFunc(out, func(a, b cm.Requirement) int { return a.Document.DisplayOrder - b.Document.DisplayOrder })
		return out, nil
	})
}

type ConsentStore struct{ db *DB }

// Insert appends a record. Two active records for the same profile and
// version are a conflict.
func (s *ConsentStore) Insert(ctx context.Context, rec *cm.ConsentRecord) error {
	return s.db.with(ctx, func(t *tables) error {
		if _, exists := t.consents[rec.ID]; exists {
			return sentinel.ErrImmutable
		}
		for _, c := range t.consents {
			if c.IsActive && c.ProfileID == rec.ProfileID && c.VersionID == rec.VersionID {
				return sentinel.ErrConflict
			}
		}
		t.consents[rec.ID] = *rec
		return nil
	})
}

func (s *ConsentStore) FindByID(ctx context.Context, consentID id.ConsentID) (*cm.ConsentRecord, error) {
	return query(s.db, ctx, func(t *tables) (*cm.ConsentRecord, error) {
		c, ok := t.consents[consentID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &c, nil
	})
}

func (s *ConsentStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error) {
	return query(s.db, ctx, func(t *tables) ([]cm.ConsentRecord, error) {
		return s.filter(t, func(c cm.ConsentRecord) bool { return c.ProfileID == profileID }), nil
	})
}

func (s *ConsentStore) ListActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error) {
	return query(s.db, ctx, func(t *tables) ([]cm.ConsentRecord, error) {
		return s.filter(t, func(c cm.ConsentRecord) bool { return c.ProfileID == profileID && c.IsActive }), nil
	})
}

// Supersede deactivates, in one pass, every active record of docID that is not
// for keep, and returns the affected profiles.
func (s *ConsentStore) Supersede(ctx context.Context, docID id.DocumentID, keep id.VersionID, now time.Time) ([]id.ProfileID, error) {
	return s.deactivateWhere(ctx, now, cm.ReasonSuperseded, func(c cm.ConsentRecord) bool {
		return c.DocumentID == docID && c.VersionID != keep
	})
}

// DeactivateIfActive flips one record. ErrInvalidState means it was already inactive.
func (s *ConsentStore) DeactivateIfActive(ctx context.Context, consentID id.ConsentID, reason cm.DeactivationReason, now time.Time) error {
	return s.db.with(ctx, func(t *tables) error {
		c, ok := t.consents[consentID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if !c.IsActive {
			return sentinel.ErrInvalidState
		}
		c.IsActive = false
		c.DeactivatedAt = &now
		c.DeactivationReason = reason
		t.consents[consentID] = c
		return nil
	})
}

// DeactivateByProfile flips every active record of a profile.
func (s *ConsentStore) DeactivateByProfile(ctx context.Context, profileID id.ProfileID, reason cm.DeactivationReason, now time.Time) (int, error) {
	profiles, err := s.deactivateWhere(ctx, now, reason, func(c cm.ConsentRecord) bool { return c.ProfileID == profileID })
	return len(profiles), err
}

func (s *ConsentStore) deactivateWhere(ctx context.Context, now time.Time, reason cm.DeactivationReason, match func(cm.ConsentRecord) bool) ([]id.ProfileID, error) {
	return query(s.db, ctx, func(t *tables) ([]id.ProfileID, error) {
		var out []id.ProfileID
		for _, c := range s.filter(t, func(c cm.ConsentRecord) bool { return c.IsActive && match(c) }) {
			c.IsActive = false
			c.DeactivatedAt = &now
			c.DeactivationReason = reason
			t.consents[c.ID] = c
			out = append(out, c.ProfileID)
		}
		return out, nil
	})
}

func (s *ConsentStore) InsertRevocation(ctx context.Context, rev *cm.ConsentRevocation) error {
	return s.db.with(ctx, func(t *tables) error {
		for _, r := range t.revocations {
			if r.ConsentID == rev.ConsentID {
				return sentinel.ErrConflict
			}
		}
		t.revocations[rev.ID] = *rev
		return nil
	})
}

func (s *ConsentStore) ListRevocations(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRevocation, error) {
	return query(s.db, ctx, func(t *tables) ([]cm.ConsentRevocation, error) {
		var out []cm.ConsentRevocation
		for _, r := range t.revocations {
			if c, ok := t.consents[r.ConsentID]; ok && c.ProfileID == profileID {
				out = append(out, r)
			}
		}
		slices.SortFunc(out, func(a, b cm.ConsentRevocation) int { return a.RevokedAt.Compare(b.RevokedAt) })
		return out, nil
	})
}

func (s *ConsentStore) filter(t *tables, keep func(cm.ConsentRecord) bool) []cm.ConsentRecord {
	var out []cm.ConsentRecord
	for _, c := range t.consents {
		if keep(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b cm.ConsentRecord) int {
		if c := a.ConsentedAt.Compare(b.ConsentedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}
