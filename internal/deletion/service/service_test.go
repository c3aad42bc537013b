package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	am "membership/internal/access/models"
	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	"membership/internal/deletion/service/mocks"
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

type DeletionServiceSuite struct {
	suite.Suite
	stores   *storage.Stores
	queue    *jobs.MemoryQueue
	notifier *notify.Recorder
	access   *mocks.MockAccess
	service  *Service

	now     time.Time
	board   id.AccountID
	subject *mm.Account
	profile *mm.Profile
}

func TestDeletionServiceSuite(t *testing.T) {
	suite.Run(t, new(DeletionServiceSuite))
}

func (s *DeletionServiceSuite) SetupTest() {
	s.stores = storage.New()
	s.queue = jobs.NewMemoryQueue()
	s.notifier = notify.NewRecorder()
	s.access = mocks.NewMockAccess(gomock.NewController(s.T()))
	s.now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := compliance.New(s.stores.Audit, compliance.WithLogger(logger))

	members := membership.New(s.stores.DB, membership.Stores{
		Accounts:        s.stores.Accounts,
		Profiles:        s.stores.Profiles,
		RoleAssignments: s.stores.RoleAssignments,
		Teams:           s.stores.Teams,
		Changes:         s.stores.Changes,
		Applications:    s.stores.Applications,
		Documents:       s.stores.Documents,
		Consents:        s.stores.Consents,
	}, s.queue, s.notifier, membership.WithLogger(logger), membership.WithAuditPublisher(publisher))
	anonymizer, err := NewAnonymizer("test-secret", "anonymized.invalid")
	s.Require().NoError(err)
	s.service = New(s.stores.DB, Stores{
		Requests:        s.stores.Deletions,
		Accounts:        s.stores.Accounts,
		Profiles:        s.stores.Profiles,
		RoleAssignments: s.stores.RoleAssignments,
		Teams:           s.stores.Teams,
		Consents:        s.stores.Consents,
		Applications:    s.stores.Applications,
		Tags:            s.stores.Tags,
		Permissions:     s.stores.Access,
	}, s.access, members, s.queue, s.notifier, anonymizer,
		WithLogger(logger), WithAuditPublisher(publisher))

	s.board = s.seedMember("board@example.org", mm.RoleBoardMember).AccountID
	s.profile = s.seedMember("ana@example.org", mm.RoleAsociado)
	s.subject, err = s.stores.Accounts.FindByID(s.ctx(), s.profile.AccountID)
	s.Require().NoError(err)
}

func (s *DeletionServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *DeletionServiceSuite) as(actor id.AccountID) context.Context {
	return requestcontext.WithActorID(s.ctx(), actor)
}

func (s *DeletionServiceSuite) seedMember(email string, role mm.Role) *mm.Profile {
	ctx := s.ctx()
	account := &mm.Account{ID: id.New[id.AccountID](), Email: email, DisplayName: "Ana"}
	s.Require().NoError(s.stores.Accounts.Save(ctx, account))
	profile := &mm.Profile{ID: id.New[id.ProfileID](), AccountID: account.ID, LegalName: "Ana Pérez", CountryOfResidence: "ES"}
	s.Require().NoError(s.stores.Profiles.Save(ctx, profile))
	s.Require().NoError(s.stores.RoleAssignments.Save(ctx, &mm.RoleAssignment{
		ID: id.New[id.RoleAssignmentID](), ProfileID: profile.ID, Role: role, IsActive: true,
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	return profile
}

// seedPersonalData gives the subject one more assignment, two consents, a
// team, two tags, an application and an external permission.
func (s *DeletionServiceSuite) seedPersonalData() am.Permission {
	ctx := s.ctx()
	pid := s.profile.ID
	s.Require().NoError(s.stores.RoleAssignments.Save(ctx, &mm.RoleAssignment{
		ID: id.New[id.RoleAssignmentID](), ProfileID: pid, Role: mm.RoleAsociado, IsActive: true,
		StartDate: time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	for range 2 {
		s.Require().NoError(s.stores.Consents.Insert(ctx, &cm.ConsentRecord{
			ID: id.New[id.ConsentID](), ProfileID: pid, DocumentID: id.New[id.DocumentID](),
			VersionID: id.New[id.VersionID](), ConsentedAt: s.now, IsActive: true,
		}))
	}
	s.Require().NoError(s.stores.Teams.SaveMembership(ctx, &mm.TeamMembership{
		ID: id.New[id.TeamMembershipID](), TeamID: id.New[id.TeamID](), ProfileID: pid, JoinedAt: s.now, IsActive: true,
	}))
	s.Require().NoError(s.stores.Tags.Add(ctx, mm.ProfileTag{ProfileID: pid, TagID: id.New[id.TagID](), Name: "photography", SelfAssignable: true}))
	s.Require().NoError(s.stores.Tags.Add(ctx, mm.ProfileTag{ProfileID: pid, TagID: id.New[id.TagID](), Name: "founder"}))
	s.Require().NoError(s.stores.Applications.Save(ctx, &apm.Application{
		ID: id.New[id.ApplicationID](), AccountID: s.subject.ID, Status: apm.StatusApproved,
		LegalName: "Ana Pérez", Motivation: "community", SubmittedAt: s.now,
	}))
	perm := am.Permission{
		ID: id.New[id.PermissionID](), ProfileID: pid, ResourceID: id.New[id.ResourceID](),
		Email: s.subject.Email, Level: am.LevelReader, Provenance: am.ProvenanceRole, IsActive: true, GrantedAt: s.now,
	}
	s.Require().NoError(s.stores.Access.InsertPermission(ctx, &perm))
	return perm
}

func (s *DeletionServiceSuite) approved() *dm.Request {
	req, err := s.service.Request(s.as(s.subject.ID), s.profile.ID, "leaving the association")
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx(), req.ConfirmationToken)
	s.Require().NoError(err)
	req, err = s.service.Approve(s.as(s.board), req.ID, "")
	s.Require().NoError(err)
	return req
}

func (s *DeletionServiceSuite) revokes(perm am.Permission) {
	s.access.EXPECT().RevokeAll(gomock.Any(), s.profile.ID).DoAndReturn(func(ctx context.Context, _ id.ProfileID) error {
		return s.stores.Access.DeactivatePermission(ctx, perm.ID, s.now)
	})
}

func (s *DeletionServiceSuite) TestRequestAndReview() {
	req, err := s.service.Request(s.as(s.subject.ID), s.profile.ID, " leaving ")
	s.Require().NoError(err)
	s.Equal(dm.StatusPendingConfirmation, req.Status)
	s.Equal("ana@example.org", req.Snapshot["email"])
	sent := s.notifier.Events(notify.KindDeletionConfirmation)
	s.Require().Len(sent, 1)
	s.Equal(req.ConfirmationToken, sent[0].Payload["token"])

	s.Run("one open request per profile", func() {
		_, err := s.service.Request(s.as(s.subject.ID), s.profile.ID, "again")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("review needs confirmation", func() {
		_, err := s.service.Approve(s.as(s.board), req.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown token", func() {
		_, err := s.service.Confirm(s.ctx(), "nope")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("confirm", func() {
		confirmed, err := s.service.Confirm(s.ctx(), req.ConfirmationToken)
		s.Require().NoError(err)
		s.Equal(dm.StatusUnderReview, confirmed.Status)
		waiting, err := s.service.AwaitingReview(s.ctx())
		s.Require().NoError(err)
		s.Len(waiting, 1)
	})

	s.Run("non board reviewer", func() {
		_, err := s.service.Approve(s.as(s.subject.ID), req.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("deny needs a reason", func() {
		_, err := s.service.Deny(s.as(s.board), req.ID, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("approve queues execution", func() {
		approved, err := s.service.Approve(s.as(s.board), req.ID, "ok")
		s.Require().NoError(err)
		s.Equal(dm.StatusApproved, approved.Status)
		s.Equal(s.board, approved.ReviewedBy)
		tasks := s.queue.Pending()
		s.Require().NotEmpty(tasks)
		last := tasks[len(tasks)-1]
		s.Equal(jobs.KindExecuteDelete, last.Kind)
		var p jobs.DeletionPayload
		s.Require().NoError(last.Decode(&p))
		s.Equal(req.ID, p.RequestID)
	})
}

func (s *DeletionServiceSuite) TestBoardCannotReviewOwnRequest() {
	boardProfile, err := s.stores.Profiles.FindByAccount(s.ctx(), s.board)
	s.Require().NoError(err)
	req, err := s.service.Request(s.as(s.board), boardProfile.ID, "")
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx(), req.ConfirmationToken)
	s.Require().NoError(err)

	_, err = s.service.Approve(s.as(s.board), req.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *DeletionServiceSuite) TestDenyAllowsNewRequest() {
	req, err := s.service.Request(s.as(s.subject.ID), s.profile.ID, "")
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx(), req.ConfirmationToken)
	s.Require().NoError(err)

	denied, err := s.service.Deny(s.as(s.board), req.ID, "open disciplinary case")
	s.Require().NoError(err)
	s.Equal(dm.StatusDenied, denied.Status)
	s.Equal("open disciplinary case", denied.DenialReason)

	_, err = s.service.Request(s.as(s.subject.ID), s.profile.ID, "")
	s.NoError(err)
}

func (s *DeletionServiceSuite) TestExecuteAnonymizes() {
	perm := s.seedPersonalData()
	req := s.approved()
	s.revokes(perm)

	done, err := s.service.Execute(s.ctx(), req.ID)
	s.Require().NoError(err)
	s.Equal(dm.StatusExecuted, done.Status)
	s.Require().NotNil(done.AnonymizationLog)
	s.Equal(2, done.AnonymizationLog.RoleAssignmentsDeactivated)
	s.Equal(2, done.AnonymizationLog.ConsentsDeactivated)
	s.Equal(1, done.AnonymizationLog.TeamMembershipsDeactivated)
	s.Equal(1, done.AnonymizationLog.ApplicationsRedacted)
	s.Equal(1, done.AnonymizationLog.TagsDeleted)
	s.Equal(1, done.AnonymizationLog.PermissionsRevoked)

	ctx := s.ctx()
	ras, err := s.stores.RoleAssignments.ListByProfile(ctx, s.profile.ID)
	s.Require().NoError(err)
	s.Len(ras, 2)
	for _, ra := range ras {
		s.False(ra.IsActive)
	}
	consents, err := s.stores.Consents.ListByProfile(ctx, s.profile.ID)
	s.Require().NoError(err)
	s.Len(consents, 2)
	for _, c := range consents {
		s.False(c.IsActive)
		s.Equal(cm.ReasonAnonymized, c.DeactivationReason)
	}
	tags, err := s.stores.Tags.ListByProfile(ctx, s.profile.ID)
	s.Require().NoError(err)
	s.Require().Len(tags, 1)
	s.Equal("founder", tags[0].Name)

	account, err := s.stores.Accounts.FindByID(ctx, s.subject.ID)
	s.Require().NoError(err)
	s.True(strings.HasPrefix(account.Email, "deleted_"))
	s.True(strings.HasSuffix(account.Email, "@anonymized.invalid"))
	profile, err := s.stores.Profiles.FindByID(ctx, s.profile.ID)
	s.Require().NoError(err)
	s.True(profile.IsAnonymized())
	s.Equal("XX", profile.CountryOfResidence)
	s.True(strings.HasPrefix(profile.LegalName, "Deleted User #"))

	executed := s.notifier.Events(notify.KindDeletionExecuted)
	s.Require().Len(executed, 1)
	s.Equal("ana@example.org", executed[0].Payload["email"])

	s.Run("executed is terminal", func() {
		_, err := s.service.Execute(s.ctx(), req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("anonymized profile cannot be requested again", func() {
		_, err := s.service.Request(s.as(s.subject.ID), s.profile.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *DeletionServiceSuite) TestExecuteFailureAndReset() {
	perm := s.seedPersonalData()
	req := s.approved()
	s.access.EXPECT().RevokeAll(gomock.Any(), s.profile.ID).
		Return(dErrors.New(dErrors.CodeExternalTransient, "rate limited"))

	_, err := s.service.Execute(s.ctx(), req.ID)
	s.Require().Error(err)
	failed, err := s.service.Get(s.ctx(), req.ID)
	s.Require().NoError(err)
	s.Equal(dm.StatusFailed, failed.Status)
	s.Contains(failed.ErrorMessage, "rate limited")

	profile, err := s.stores.Profiles.FindByID(s.ctx(), s.profile.ID)
	s.Require().NoError(err)
	s.False(profile.IsAnonymized())

	s.Run("failed is not retried on its own", func() {
		_, err := s.service.Execute(s.ctx(), req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("reset is a board action", func() {
		_, err := s.service.ResetFailed(s.as(s.subject.ID), req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("reset and run again", func() {
		reset, err := s.service.ResetFailed(s.as(s.board), req.ID)
		s.Require().NoError(err)
		s.Equal(dm.StatusApproved, reset.Status)

		s.revokes(perm)
		done, err := s.service.Execute(s.ctx(), req.ID)
		s.Require().NoError(err)
		s.Equal(dm.StatusExecuted, done.Status)
		s.Empty(done.ErrorMessage)
	})
}

func (s *DeletionServiceSuite) TestResetRefusedWhileNewerRequestOpen() {
	req := s.approved()
	s.access.EXPECT().RevokeAll(gomock.Any(), s.profile.ID).
		Return(dErrors.New(dErrors.CodeExternalTransient, "rate limited"))
	_, err := s.service.Execute(s.ctx(), req.ID)
	s.Require().Error(err)

	newer, err := s.service.Request(s.as(s.subject.ID), s.profile.ID, "trying again")
	s.Require().NoError(err, "a failed request does not block a new one")

	_, err = s.service.ResetFailed(s.as(s.board), req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stored, err := s.service.Get(s.ctx(), req.ID)
	s.Require().NoError(err)
	s.Equal(dm.StatusFailed, stored.Status)
	open, err := s.stores.Deletions.FindOpenByProfile(s.ctx(), s.profile.ID)
	s.Require().NoError(err)
	s.Equal(newer.ID, open.ID)
}

func (s *DeletionServiceSuite) TestAnonymizer() {
	a, err := NewAnonymizer("secret", "anonymized.invalid")
	s.Require().NoError(err)
	b, err := NewAnonymizer("other", "anonymized.invalid")
	s.Require().NoError(err)
	long, err := NewAnonymizer(strings.Repeat("k", 100), "anonymized.invalid")
	s.Require().NoError(err)

	pid := id.New[id.ProfileID]()
	p := a.Pseudonym(pid, "Ana@Example.org")
	s.Len(p, 12)
	s.Equal(p, a.Pseudonym(pid, "ana@example.org "))
	s.NotEqual(p, b.Pseudonym(pid, "ana@example.org"))
	s.NotEqual(p, a.Pseudonym(id.New[id.ProfileID](), "ana@example.org"))
	s.Len(long.Pseudonym(pid, "ana@example.org"), 12)
	s.Equal("deleted_"+p+"@anonymized.invalid", a.Email(p))

	_, err = NewAnonymizer("", "anonymized.invalid")
	s.Error(err)
	_, err = NewAnonymizer("secret", "")
	s.Error(err)
}
