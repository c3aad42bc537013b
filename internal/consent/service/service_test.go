package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	cm "membership/internal/consent/models"
	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	membership "membership/internal/membership/service"
	"membership/internal/notify"
	"membership/internal/storage"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit/publishers/compliance"
	"membership/pkg/requestcontext"
)

type fakeSource struct {
	docs []SourceDocument
	err  error
}

func (f *fakeSource) Documents(context.Context) ([]SourceDocument, error) {
	return f.docs, f.err
}

type ConsentServiceSuite struct {
	suite.Suite
	stores   *storage.Stores
	queue    *jobs.MemoryQueue
	notifier *notify.Recorder
	members  *membership.Service
	source   *fakeSource
	service  *Service

	profileID id.ProfileID
	doc       *cm.LegalDocument
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.stores = storage.New()
	s.queue = jobs.NewMemoryQueue()
	s.notifier = notify.NewRecorder()
	s.source = &fakeSource{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := compliance.New(s.stores.Audit, compliance.WithLogger(logger))
	s.members = membership.New(s.stores.DB, membership.Stores{
		Accounts:        s.stores.Accounts,
		Profiles:        s.stores.Profiles,
		RoleAssignments: s.stores.RoleAssignments,
		Teams:           s.stores.Teams,
		Changes:         s.stores.Changes,
		Applications:    s.stores.Applications,
		Documents:       s.stores.Documents,
		Consents:        s.stores.Consents,
	}, s.queue, s.notifier, membership.WithLogger(logger), membership.WithAuditPublisher(publisher))
	s.service = New(s.stores.DB, s.stores.Documents, s.stores.Consents, s.stores.Profiles, s.members, s.notifier,
		WithLogger(logger),
		WithAuditPublisher(publisher),
		WithDocumentSource(s.source),
	)

	ctx := s.on(2026, 3, 1)
	account := &mm.Account{ID: id.New[id.AccountID](), Email: "ana@example.org"}
	s.Require().NoError(s.stores.Accounts.Save(ctx, account))
	profile := &mm.Profile{ID: id.New[id.ProfileID](), AccountID: account.ID, LegalName: "Ana Pérez"}
	s.Require().NoError(s.stores.Profiles.Save(ctx, profile))
	s.profileID = profile.ID
	s.Require().NoError(s.stores.RoleAssignments.Save(ctx, &mm.RoleAssignment{
		ID:        id.New[id.RoleAssignmentID](),
		ProfileID: profile.ID,
		Role:      mm.RoleAsociado,
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
	}))

	var err error
	s.doc, err = s.service.CreateDocument(ctx, cm.LegalDocument{
		Slug:                    "privacy",
		Title:                   "Privacy policy",
		Type:                    cm.DocumentPrivacyPolicy,
		IsRequiredForActivation: true,
		IsActive:                true,
	})
	s.Require().NoError(err)
}

func (s *ConsentServiceSuite) on(y int, m time.Month, d int) context.Context {
	ctx := requestcontext.WithTime(context.Background(), time.Date(y, m, d, 9, 0, 0, 0, time.UTC))
	return requestcontext.WithClientMetadata(ctx, "198.51.100.4",
		"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0")
}

func (s *ConsentServiceSuite) publish(ctx context.Context, number string, deadline *time.Time) *PublishResult {
	res, err := s.service.Publish(ctx, s.doc.ID, VersionDraft{
		VersionNumber:     number,
		Content:           "Privacy text " + number,
		Translations:      map[string]string{"es": "Texto de privacidad " + number},
		RequiresReConsent: deadline != nil,
		ReConsentDeadline: deadline,
	})
	s.Require().NoError(err)
	return res
}

func (s *ConsentServiceSuite) status(ctx context.Context) mm.Status {
	st, err := s.members.Status(ctx, s.profileID)
	s.Require().NoError(err)
	return st
}

func (s *ConsentServiceSuite) taskCount(kind jobs.Kind) int {
	n := 0
	for _, t := range s.queue.Pending() {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func (s *ConsentServiceSuite) TestRecord() {
	ctx := s.on(2026, 3, 1)
	v1 := s.publish(ctx, "1.0", nil)
	s.Equal(1, v1.Notified)
	s.Equal(mm.StatusApprovedPendingDocuments, s.status(ctx))

	s.Run("accepting the last document activates", func() {
		rec, err := s.service.Record(ctx, s.profileID, v1.Version.ID, cm.ViewingContext{Language: "es"})
		s.Require().NoError(err)
		s.True(rec.IsActive)
		s.Equal("198.51.100.4", rec.IPAddress)
		s.Equal("Texto de privacidad 1.0", rec.ConsentText)
		s.Equal(mm.StatusActive, s.status(ctx))
		s.Equal(1, s.taskCount(jobs.KindProvisionRole))
	})

	s.Run("second acceptance is rejected", func() {
		_, err := s.service.Record(ctx, s.profileID, v1.Version.ID, cm.ViewingContext{})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyConsented))
	})

	s.Run("only the current version", func() {
		s.publish(ctx, "1.1", nil)
		_, err := s.service.Record(ctx, s.profileID, v1.Version.ID, cm.ViewingContext{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown version", func() {
		_, err := s.service.Record(ctx, s.profileID, id.New[id.VersionID](), cm.ViewingContext{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ConsentServiceSuite) TestReConsentDeadline() {
	v1 := s.publish(s.on(2026, 3, 1), "1.0", nil)
	_, err := s.service.Record(s.on(2026, 3, 1), s.profileID, v1.Version.ID, cm.ViewingContext{})
	s.Require().NoError(err)

	deadline := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	v2 := s.publish(s.on(2026, 3, 2), "2.0", &deadline)
	s.Equal(1, v2.Superseded)
	s.Equal(1, v2.Notified)

	recs, _, err := s.service.History(s.on(2026, 3, 2), s.profileID)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.False(recs[0].IsActive)
	s.Equal(cm.ReasonSuperseded, recs[0].DeactivationReason)
	s.Equal(mm.StatusApprovedPendingDocuments, s.status(s.on(2026, 3, 2)))
	s.Zero(s.taskCount(jobs.KindRevokeAll))

	s.Run("reminders a week and a day before", func() {
		res, err := s.service.SweepConsentDeadlines(s.on(2026, 3, 8))
		s.Require().NoError(err)
		s.Equal(1, res.Reminded)
		_, err = s.service.SweepConsentDeadlines(s.on(2026, 3, 8))
		s.Require().NoError(err)
		res, err = s.service.SweepConsentDeadlines(s.on(2026, 3, 10))
		s.Require().NoError(err)
		s.Zero(res.Reminded)
		_, err = s.service.SweepConsentDeadlines(s.on(2026, 3, 14))
		s.Require().NoError(err)
		s.Len(s.notifier.Events(notify.KindConsentReminder), 2)
	})

	s.Run("the day after the deadline restricts", func() {
		res, err := s.service.SweepConsentDeadlines(s.on(2026, 3, 16))
		s.Require().NoError(err)
		s.Equal(1, res.Restricted)
		s.Equal(mm.StatusRestricted, s.status(s.on(2026, 3, 16)))
		s.Equal(1, s.taskCount(jobs.KindRevokeAll))

		res, err = s.service.SweepConsentDeadlines(s.on(2026, 3, 17))
		s.Require().NoError(err)
		s.Zero(res.Restricted)
	})

	s.Run("accepting the new version reactivates", func() {
		ctx := s.on(2026, 3, 17)
		_, err := s.service.Record(ctx, s.profileID, v2.Version.ID, cm.ViewingContext{})
		s.Require().NoError(err)
		s.Equal(mm.StatusActive, s.status(ctx))
		s.Equal(2, s.taskCount(jobs.KindProvisionRole))
	})
}

func (s *ConsentServiceSuite) TestRevoke() {
	ctx := s.on(2026, 3, 1)
	v1 := s.publish(ctx, "1.0", nil)
	rec, err := s.service.Record(ctx, s.profileID, v1.Version.ID, cm.ViewingContext{})
	s.Require().NoError(err)

	rev, err := s.service.Revoke(ctx, rec.ID, " changed my mind ")
	s.Require().NoError(err)
	s.Equal("changed my mind", rev.Reason)
	s.Equal(mm.StatusApprovedPendingDocuments, s.status(ctx))

	_, err = s.service.Revoke(ctx, rec.ID, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRevoked))

	_, err = s.service.Revoke(ctx, id.New[id.ConsentID](), "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, revs, err := s.service.History(ctx, s.profileID)
	s.Require().NoError(err)
	s.Len(revs, 1)
}

func (s *ConsentServiceSuite) TestPublishValidation() {
	ctx := s.on(2026, 3, 1)
	_, err := s.service.Publish(ctx, s.doc.ID, VersionDraft{VersionNumber: "1"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.publish(ctx, "1.0", nil)
	_, err = s.service.Publish(ctx, s.doc.ID, VersionDraft{VersionNumber: "1.0", Content: "other"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.CreateDocument(ctx, cm.LegalDocument{Slug: "privacy", Title: "Again"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ConsentServiceSuite) TestVerify() {
	ctx := s.on(2026, 3, 1)
	res := s.publish(ctx, "1.0", nil)
	s.NoError(s.service.Verify(ctx, res.Version.ID))

	tampered := *res.Version
	tampered.Content = "edited in place"
	s.Require().NoError(s.stores.Documents.SaveVersion(ctx, &tampered))
	err := s.service.Verify(ctx, res.Version.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrityViolation))
}

func (s *ConsentServiceSuite) TestSyncDocuments() {
	ctx := s.on(2026, 3, 1)
	conduct := SourceDocument{
		Slug:                  "conduct",
		Title:                 "Code of conduct",
		Type:                  cm.DocumentCodeOfConduct,
		RequiredForActivation: true,
		Version:               VersionDraft{VersionNumber: "1", Content: "Be kind."},
	}
	s.source.docs = []SourceDocument{conduct}

	s.Run("new document is created", func() {
		sum, err := s.service.SyncDocuments(ctx)
		s.Require().NoError(err)
		s.Equal(1, sum.Created)
		doc, err := s.stores.Documents.FindDocumentBySlug(ctx, "conduct")
		s.Require().NoError(err)
		current, err := s.stores.Documents.CurrentVersion(ctx, doc.ID)
		s.Require().NoError(err)
		s.NotNil(current.SyncedAt)
	})

	s.Run("same version number is left alone", func() {
		s.source.docs[0].Version.Content = "Be very kind."
		sum, err := s.service.SyncDocuments(ctx)
		s.Require().NoError(err)
		s.Equal(1, sum.Unchanged)
	})

	s.Run("new version number publishes", func() {
		s.source.docs[0].Version.VersionNumber = "2"
		sum, err := s.service.SyncDocuments(ctx)
		s.Require().NoError(err)
		s.Equal(1, sum.Updated)
		s.Empty(sum.Errors)
	})

	s.Run("bad document is reported", func() {
		s.source.docs = []SourceDocument{{Slug: "broken", Title: "Broken", Version: VersionDraft{VersionNumber: "1"}}}
		sum, err := s.service.SyncDocuments(ctx)
		s.Require().NoError(err)
		s.Len(sum.Errors, 1)
	})

	s.Run("source failure", func() {
		s.source.err = errors.New("connection reset")
		_, err := s.service.SyncDocuments(ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeExternalTransient))
	})
}
