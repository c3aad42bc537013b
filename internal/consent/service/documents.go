package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	platformstrings "membership/pkg/platform/strings"
	"membership/pkg/requestcontext"
)

// VersionDraft is a new document version before it is stored.
type VersionDraft struct {
	VersionNumber     string
	EffectiveDate     time.Time
	Content           string
	Translations      map[string]string
	Changelog         string
	RequiresReConsent bool
	ReConsentDeadline *time.Time
	GitCommitSHA      string
	GitFilePath       string
	SyncedAt          *time.Time
}

func (d VersionDraft) validate() error {
	var problems []string
	if strings.TrimSpace(d.VersionNumber) == "" {
		problems = append(problems, "version_number is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		problems = append(problems, "content is required")
	}
	if d.ReConsentDeadline != nil && !d.RequiresReConsent {
		problems = append(problems, "re_consent_deadline requires requires_re_consent")
	}
	if len(problems) > 0 {
		return dErrors.New(dErrors.CodeValidation, strings.Join(problems, "; "))
	}
	return nil
}

// PublishResult reports what publishing a version touched.
type PublishResult struct {
	Version    *cm.DocumentVersion
	Superseded int
	Notified   int
}

// SourceDocument is one document as the document source describes it.
type SourceDocument struct {
	Slug                  string
	Title                 string
	Type                  cm.DocumentType
	RequiredForActivation bool
	RequiredForRoles      []mm.Role
	DisplayOrder          int
	Version               VersionDraft
}

// DocumentSource lists the documents of the canonical legal repository.
type DocumentSource interface {
	Documents(ctx context.Context) ([]SourceDocument, error)
}

// CreateDocument adds a document to the catalogue. Slugs are unique.
func (s *Service) CreateDocument(ctx context.Context, doc cm.LegalDocument) (*cm.LegalDocument, error) {
	doc.Slug = strings.TrimSpace(doc.Slug)
	if doc.Slug == "" || strings.TrimSpace(doc.Title) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "slug and title are required")
	}
	if doc.Type == "" {
		doc.Type = cm.DocumentOther
	}
	for _, r := range doc.RequiredForRoles {
		if !r.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown role: "+string(r))
		}
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.documents.FindDocumentBySlug(ctx, doc.Slug)
		switch {
		case err == nil:
			return dErrors.New(dErrors.CodeConflict, "document "+doc.Slug+" already exists")
		case !errors.Is(err, sentinel.ErrNotFound):
			return wrapLoad(err, "document")
		}
		doc.ID = id.New[id.DocumentID]()
		doc.CreatedAt = requestcontext.Now(ctx)
		if err := s.documents.SaveDocument(ctx, &doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save document")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Documents lists the active catalogue with current versions.
func (s *Service) Documents(ctx context.Context) ([]cm.Requirement, error) {
	reqs, err := s.documents.Requirements(ctx)
	if err != nil {
		return nil, wrapLoad(err, "documents")
	}
	return reqs, nil
}

// Publish stores a new version of a document and makes it current. When the
// version requires re-consent, every active acceptance of an older version is
// superseded in one bulk update. Role holders who now have the document
// pending get a consent_required notification.
func (s *Service) Publish(ctx context.Context, docID id.DocumentID, draft VersionDraft) (*PublishResult, error) {
	if err := draft.validate(); err != nil {
		return nil, err
	}
	candidates, err := s.memberships.ProfilesWithRole(ctx)
	if err != nil {
		return nil, err
	}
	res := &PublishResult{}
	err = s.memberships.Track(ctx, candidates, func(ctx context.Context) error {
		doc, err := s.documents.FindDocument(ctx, docID)
		if err != nil {
			return wrapLoad(err, "document")
		}
		now := requestcontext.Now(ctx)
		v := &cm.DocumentVersion{
			ID:                id.New[id.VersionID](),
			DocumentID:        doc.ID,
			VersionNumber:     strings.TrimSpace(draft.VersionNumber),
			EffectiveDate:     requestcontext.Date(draft.EffectiveDate),
			Content:           draft.Content,
			ContentHash:       cm.HashContent(draft.Content),
			GitCommitSHA:      draft.GitCommitSHA,
			GitFilePath:       draft.GitFilePath,
			SyncedAt:          draft.SyncedAt,
			Translations:      draft.Translations,
			Changelog:         draft.Changelog,
			RequiresReConsent: draft.RequiresReConsent,
			ReConsentDeadline: draft.ReConsentDeadline,
			CreatedAt:         now,
		}
		if draft.EffectiveDate.IsZero() {
			v.EffectiveDate = requestcontext.Today(ctx)
		}
		if err := s.documents.SaveVersion(ctx, v); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "version "+v.VersionNumber+" already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save version")
		}
		if err := s.documents.MarkCurrent(ctx, v.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark version current")
		}
		v.IsCurrent = true
		res.Version = v

		if v.RequiresReConsent {
			affected, err := s.consents.Supersede(ctx, doc.ID, v.ID, now)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede consents")
			}
			res.Superseded = len(affected)
			for _, pid := range platformstrings.Dedupe(affected) {
				if err := s.emit(ctx, audit.Entry{
					Action:     audit.ActionConsentSuperseded,
					ProfileID:  pid,
					EntityKind: audit.EntityDocumentVersion,
					EntityID:   v.ID.String(),
				}); err != nil {
					return err
				}
			}
		}
		if err := s.emit(ctx, audit.Entry{
			Action:     audit.ActionVersionPublished,
			EntityKind: audit.EntityDocumentVersion,
			EntityID:   v.ID.String(),
			Extra: map[string]any{
				"document":            doc.Slug,
				"version":             v.VersionNumber,
				"requires_re_consent": v.RequiresReConsent,
				"superseded":          res.Superseded,
			},
		}); err != nil {
			return err
		}

		for _, pid := range candidates {
			sent, err := s.requireConsent(ctx, pid, doc, v)
			if err != nil {
				return err
			}
			if sent {
				res.Notified++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("document", "publish")
	s.logAudit(ctx, string(audit.ActionVersionPublished),
		"document_id", docID,
		"version", res.Version.VersionNumber,
		"superseded", res.Superseded,
		"notified", res.Notified,
	)
	return res, nil
}

func (s *Service) requireConsent(ctx context.Context, profileID id.ProfileID, doc *cm.LegalDocument, v *cm.DocumentVersion) (bool, error) {
	pending, err := s.memberships.PendingDocuments(ctx, profileID)
	if err != nil {
		return false, err
	}
	if !slices.ContainsFunc(pending, func(p cm.PendingDocument) bool { return p.Current.ID == v.ID }) {
		return false, nil
	}
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return false, wrapLoad(err, "profile")
	}
	payload := map[string]any{
		"document": doc.Slug,
		"title":    doc.Title,
		"version":  v.VersionNumber,
	}
	if v.ReConsentDeadline != nil {
		payload["deadline"] = v.ReConsentDeadline.Format(time.DateOnly)
	}
	err = s.notifier.Send(ctx, notify.Event{
		Kind:           notify.KindConsentRequired,
		IdempotencyKey: notify.Key(notify.KindConsentRequired, v.ID, profileID),
		AccountID:      profile.AccountID,
		ProfileID:      profileID,
		Payload:        payload,
		OccurredAt:     requestcontext.Now(ctx),
	})
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue consent notification")
	}
	return true, nil
}

// SyncDocuments pulls the document source and publishes versions it has not
// seen. A changed text under an existing version number is reported, never
// applied.
func (s *Service) SyncDocuments(ctx context.Context) (cm.SyncSummary, error) {
	var sum cm.SyncSummary
	if s.source == nil {
		return sum, dErrors.New(dErrors.CodeInternal, "no document source configured")
	}
	docs, err := s.source.Documents(ctx)
	if err != nil {
		return sum, dErrors.Wrap(err, dErrors.CodeExternalTransient, "failed to read document source")
	}
	now := requestcontext.Now(ctx)
	for _, src := range docs {
		outcome, err := s.syncOne(ctx, src, now)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", src.Slug, err))
			s.logger.ErrorContext(ctx, "document sync failed", "slug", src.Slug, "error", err)
			continue
		}
		switch outcome {
		case "created":
			sum.Created++
		case "updated":
			sum.Updated++
		default:
			sum.Unchanged++
		}
	}
	s.logger.InfoContext(ctx, "documents synced",
		"created", sum.Created,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"errors", len(sum.Errors),
	)
	return sum, nil
}

func (s *Service) syncOne(ctx context.Context, src SourceDocument, now time.Time) (string, error) {
	doc, err := s.documents.FindDocumentBySlug(ctx, src.Slug)
	created := false
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		doc, err = s.CreateDocument(ctx, cm.LegalDocument{
			Slug:                    src.Slug,
			Title:                   src.Title,
			Type:                    src.Type,
			IsRequiredForActivation: src.RequiredForActivation,
			RequiredForRoles:        src.RequiredForRoles,
			DisplayOrder:            src.DisplayOrder,
			IsActive:                true,
		})
		if err != nil {
			return "", err
		}
		created = true
	case err != nil:
		return "", err
	default:
		doc.Title = src.Title
		doc.RequiredForRoles = src.RequiredForRoles
		if err := s.documents.SaveDocument(ctx, doc); err != nil {
			return "", err
		}
	}

	existing, err := s.documents.FindVersionByNumber(ctx, doc.ID, src.Version.VersionNumber)
	switch {
	case err == nil:
		if existing.ContentHash != cm.HashContent(src.Version.Content) {
			s.logger.WarnContext(ctx, "document text changed without a version bump",
				"slug", src.Slug, "version", src.Version.VersionNumber)
		}
		return "unchanged", nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return "", err
	}

	draft := src.Version
	draft.SyncedAt = &now
	if _, err := s.Publish(ctx, doc.ID, draft); err != nil {
		return "", err
	}
	if created {
		return "created", nil
	}
	return "updated", nil
}
