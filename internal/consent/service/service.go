// Package service is the consent ledger: it records acceptances of legal
// document versions, supersedes them when a version requires re-consent,
// handles revocations and publishes and syncs the document catalogue.
//
// Consent records are append-only. The only permitted change is flipping
// is_active to false, once, through supersession, revocation or erasure.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	"membership/internal/platform/metrics"
	"membership/pkg/attrs"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/platform/tx"
	"membership/pkg/requestcontext"
)

type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]cm.LegalDocument, error)
	FindDocument(ctx context.Context, docID id.DocumentID) (*cm.LegalDocument, error)
	FindDocumentBySlug(ctx context.Context, slug string) (*cm.LegalDocument, error)
	SaveDocument(ctx context.Context, doc *cm.LegalDocument) error
	FindVersion(ctx context.Context, versionID id.VersionID) (*cm.DocumentVersion, error)
	FindVersionByNumber(ctx context.Context, docID id.DocumentID, number string) (*cm.DocumentVersion, error)
	CurrentVersion(ctx context.Context, docID id.DocumentID) (*cm.DocumentVersion, error)
	SaveVersion(ctx context.Context, v *cm.DocumentVersion) error
	MarkCurrent(ctx context.Context, versionID id.VersionID) error
	Requirements(ctx context.Context) ([]cm.Requirement, error)
}

type ConsentStore interface {
	Insert(ctx context.Context, rec *cm.ConsentRecord) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*cm.ConsentRecord, error)
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error)
	ListActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error)
	Supersede(ctx context.Context, docID id.DocumentID, keep id.VersionID, now time.Time) ([]id.ProfileID, error)
	DeactivateIfActive(ctx context.Context, consentID id.ConsentID, reason cm.DeactivationReason, now time.Time) error
	InsertRevocation(ctx context.Context, rev *cm.ConsentRevocation) error
	ListRevocations(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRevocation, error)
}

type ProfileStore interface {
	FindByID(ctx context.Context, profileID id.ProfileID) (*mm.Profile, error)
}

// Memberships is the slice of the membership service the ledger drives:
// every consent mutation can move a profile's status.
type Memberships interface {
	Track(ctx context.Context, profileIDs []id.ProfileID, fn func(ctx context.Context) error) error
	ProfilesWithRole(ctx context.Context) ([]id.ProfileID, error)
	PendingDocuments(ctx context.Context, profileID id.ProfileID) ([]cm.PendingDocument, error)
	StatusOn(ctx context.Context, profileID id.ProfileID, day time.Time) (mm.Status, error)
	Status(ctx context.Context, profileID id.ProfileID) (mm.Status, error)
	OnStatusChange(ctx context.Context, change mm.StatusChange) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Service struct {
	tx             tx.Runner
	documents      DocumentStore
	consents       ConsentStore
	profiles       ProfileStore
	memberships    Memberships
	notifier       notify.Notifier
	source         DocumentSource
	logger         *slog.Logger
	auditPublisher AuditPublisher
	transitions    *metrics.Transitions
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTransitions(t *metrics.Transitions) Option {
	return func(s *Service) {
		s.transitions = t
	}
}

// WithDocumentSource enables SyncDocuments.
func WithDocumentSource(src DocumentSource) Option {
	return func(s *Service) {
		s.source = src
	}
}

func New(runner tx.Runner, documents DocumentStore, consents ConsentStore, profiles ProfileStore, memberships Memberships, notifier notify.Notifier, opts ...Option) *Service {
	s := &Service{
		tx:          runner,
		documents:   documents,
		consents:    consents,
		profiles:    profiles,
		memberships: memberships,
		notifier:    notifier,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores a profile's acceptance of the current version of a
// document. A second acceptance while the first is active fails with
// already_consented.
func (s *Service) Record(ctx context.Context, profileID id.ProfileID, versionID id.VersionID, vc cm.ViewingContext) (*cm.ConsentRecord, error) {
	if vc.IPAddress == "" {
		vc.IPAddress = requestcontext.ClientIP(ctx)
	}
	if vc.UserAgent == "" {
		vc.UserAgent = requestcontext.UserAgent(ctx)
	}
	var rec *cm.ConsentRecord
	err := s.memberships.Track(ctx, []id.ProfileID{profileID}, func(ctx context.Context) error {
		version, err := s.documents.FindVersion(ctx, versionID)
		if err != nil {
			return wrapLoad(err, "document version")
		}
		if !version.IsCurrent {
			return dErrors.New(dErrors.CodeInvalidTransition, "only the current version can be accepted")
		}
		rec = &cm.ConsentRecord{
			ID:          id.New[id.ConsentID](),
			ProfileID:   profileID,
			DocumentID:  version.DocumentID,
			VersionID:   version.ID,
			ConsentedAt: requestcontext.Now(ctx),
			IPAddress:   vc.IPAddress,
			UserAgent:   vc.UserAgent,
			Language:    vc.Language,
			ConsentText: version.TextFor(vc.Language),
			IsActive:    true,
		}
		if err := s.consents.Insert(ctx, rec); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeAlreadyConsented, "version "+version.VersionNumber+" is already accepted")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record consent")
		}
		extra := map[string]any{"version": version.VersionNumber, "language": vc.Language}
		for k, v := range agentSummary(vc.UserAgent) {
			extra[k] = v
		}
		return s.emit(ctx, audit.Entry{
			Action:     audit.ActionConsentGiven,
			ProfileID:  profileID,
			EntityKind: audit.EntityConsent,
			EntityID:   rec.ID.String(),
			IPAddress:  vc.IPAddress,
			UserAgent:  vc.UserAgent,
			Extra:      extra,
		})
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("consent", "record")
	s.logAudit(ctx, string(audit.ActionConsentGiven), "profile_id", profileID, "version_id", versionID)
	return rec, nil
}

// Revoke withdraws an active consent. The record is flipped inactive and a
// revocation row keeps who did it and why.
func (s *Service) Revoke(ctx context.Context, consentID id.ConsentID, reason string) (*cm.ConsentRevocation, error) {
	rec, err := s.consents.FindByID(ctx, consentID)
	if err != nil {
		return nil, wrapLoad(err, "consent record")
	}
	var rev *cm.ConsentRevocation
	err = s.memberships.Track(ctx, []id.ProfileID{rec.ProfileID}, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		err := s.consents.DeactivateIfActive(ctx, consentID, cm.ReasonRevoked, now)
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeAlreadyRevoked, "consent record is not active")
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke consent")
		}
		rev = &cm.ConsentRevocation{
			ID:        id.New[id.RevocationID](),
			ConsentID: consentID,
			Reason:    strings.TrimSpace(reason),
			RevokedBy: requestcontext.ActorID(ctx),
			RevokedAt: now,
		}
		if err := s.consents.InsertRevocation(ctx, rev); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeAlreadyRevoked, "consent record was already revoked")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record revocation")
		}
		return s.emit(ctx, audit.Entry{
			Action:     audit.ActionConsentRevoked,
			ProfileID:  rec.ProfileID,
			EntityKind: audit.EntityConsent,
			EntityID:   consentID.String(),
			Extra:      map[string]any{"reason": rev.Reason},
		})
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("consent", "revoke")
	s.logAudit(ctx, string(audit.ActionConsentRevoked), "profile_id", rec.ProfileID, "consent_id", consentID)
	return rev, nil
}

// Verify recomputes a version's content hash.
func (s *Service) Verify(ctx context.Context, versionID id.VersionID) error {
	v, err := s.documents.FindVersion(ctx, versionID)
	if err != nil {
		return wrapLoad(err, "document version")
	}
	if err := v.Verify(); err != nil {
		s.logger.ErrorContext(ctx, "document version failed integrity check",
			"version_id", versionID,
			"version", v.VersionNumber,
		)
		return err
	}
	return s.emit(ctx, audit.Entry{
		Action:     audit.ActionVersionVerified,
		EntityKind: audit.EntityDocumentVersion,
		EntityID:   versionID.String(),
	})
}

// History returns every consent record and revocation of a profile.
func (s *Service) History(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, []cm.ConsentRevocation, error) {
	recs, err := s.consents.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, nil, wrapLoad(err, "consent records")
	}
	revs, err := s.consents.ListRevocations(ctx, profileID)
	if err != nil {
		return nil, nil, wrapLoad(err, "consent revocations")
	}
	return recs, revs, nil
}

// PendingDocuments lists the documents the profile still has to accept.
func (s *Service) PendingDocuments(ctx context.Context, profileID id.ProfileID) ([]cm.PendingDocument, error) {
	return s.memberships.PendingDocuments(ctx, profileID)
}

// agentSummary reduces a user agent string to browser, OS and device class.
func agentSummary(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	out := map[string]any{"os": ua.OS(), "mobile": ua.Mobile()}
	if browser != "" {
		out["browser"] = strings.TrimSpace(browser + " " + version)
	}
	if ua.Bot() {
		out["bot"] = true
	}
	return out
}

func (s *Service) emit(ctx context.Context, entry audit.Entry) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, entry)
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, attrs.Audit(ctx, event, attributes...)...)
	}
}

func wrapLoad(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}
