package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"membership/internal/access/drive"
	am "membership/internal/access/models"
	"membership/internal/access/service/mocks"
	mm "membership/internal/membership/models"
	"membership/internal/storage"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/requestcontext"
)

type AccessServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	stores  *storage.Stores
	fake    *drive.Fake
	dir     *mocks.MockMemberDirectory
	service *Service

	ctx    context.Context
	now    time.Time
	shared am.Resource
	design id.TeamID
	ana    am.Member
}

func TestAccessServiceSuite(t *testing.T) {
	suite.Run(t, new(AccessServiceSuite))
}

func (s *AccessServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.stores = storage.New()
	s.fake = drive.NewFake()
	s.dir = mocks.NewMockMemberDirectory(s.ctrl)
	s.service = New(s.stores.DB, s.stores.Access, s.dir, s.fake,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.shared = am.Resource{ID: id.New[id.ResourceID](), Key: "shared", ExternalID: "drive-shared", Name: "Shared", IsActive: true}
	s.design = id.New[id.TeamID]()
	s.Require().NoError(s.stores.Access.SaveResource(s.ctx, &s.shared))
	s.Require().NoError(s.stores.Access.SaveRoleRule(s.ctx, &am.RoleRule{
		ID: id.New[id.RuleID](), Role: mm.RoleAsociado, ResourceID: s.shared.ID, Level: am.LevelReader, IsActive: true,
	}))
	s.Require().NoError(s.stores.Access.SaveTeamRule(s.ctx, &am.TeamRule{
		ID: id.New[id.RuleID](), TeamID: s.design, ResourceID: s.shared.ID, Level: am.LevelWriter, IsActive: true,
	}))

	s.ana = am.Member{
		ProfileID: id.New[id.ProfileID](),
		Email:     "ana@example.org",
		Status:    mm.StatusActive,
		Role:      mm.RoleAsociado,
		Teams:     []id.TeamID{s.design},
	}
}

func (s *AccessServiceSuite) expectMember(m am.Member) {
	s.dir.EXPECT().Member(gomock.Any(), m.ProfileID).Return(m, nil).AnyTimes()
}

func (s *AccessServiceSuite) active(profileID id.ProfileID) []am.Permission {
	perms, err := s.stores.Access.ActiveByProfile(s.ctx, profileID)
	s.Require().NoError(err)
	return perms
}

func (s *AccessServiceSuite) logs(profileID id.ProfileID) []am.PermissionLog {
	logs, err := s.stores.Access.ListLogsByProfile(s.ctx, profileID)
	s.Require().NoError(err)
	return logs
}

func (s *AccessServiceSuite) TestProvisionRole() {
	s.Run("grants once and logs success", func() {
		s.SetupTest()
		s.expectMember(s.ana)

		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		s.Equal(1, s.fake.Grants, "second run finds the active permission")
		s.True(s.fake.Has("drive-shared", "ana@example.org"))
		perms := s.active(s.ana.ProfileID)
		s.Require().Len(perms, 1)
		s.Equal(am.ProvenanceRole, perms[0].Provenance)
		logs := s.logs(s.ana.ProfileID)
		s.Require().Len(logs, 1)
		s.Equal(am.LogSuccess, logs[0].Status)
		s.Equal(perms[0].ID, logs[0].PermissionID)
	})

	s.Run("member without access is skipped", func() {
		s.SetupTest()
		s.ana.Status = mm.StatusExpired
		s.expectMember(s.ana)

		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		s.Zero(s.fake.Calls())
		s.Empty(s.logs(s.ana.ProfileID))
	})

	s.Run("member pending documents is not granted", func() {
		s.SetupTest()
		s.ana.Status = mm.StatusApprovedPendingDocuments
		s.expectMember(s.ana)

		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		s.Require().NoError(s.service.ProvisionTeam(s.ctx, s.ana.ProfileID, s.design))
		s.Zero(s.fake.Grants)
		s.False(s.fake.Has("drive-shared", "ana@example.org"))
		s.Empty(s.active(s.ana.ProfileID))
		s.Empty(s.logs(s.ana.ProfileID))
	})

	s.Run("rate limit leaves the entry retrying and asks for a retry", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.fake.FailNext("grant", drive.ErrRateLimited)

		err := s.service.ProvisionRole(s.ctx, s.ana.ProfileID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeExternalTransient))
		s.ErrorIs(err, drive.ErrRateLimited)
		s.Empty(s.active(s.ana.ProfileID))
		logs := s.logs(s.ana.ProfileID)
		s.Require().Len(logs, 1)
		s.Equal(am.LogRetrying, logs[0].Status)
	})

	s.Run("hard failure is logged and left to the sweep", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.fake.FailNext("grant", errors.New("file not shareable"))

		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		logs := s.logs(s.ana.ProfileID)
		s.Require().Len(logs, 1)
		s.Equal(am.LogFailed, logs[0].Status)
		s.Equal("file not shareable", logs[0].ErrorMessage)
	})
}

func (s *AccessServiceSuite) TestSharedAccess() {
	s.Run("role grant rides on an existing team grant", func() {
		s.SetupTest()
		s.expectMember(s.ana)

		s.Require().NoError(s.service.ProvisionTeam(s.ctx, s.ana.ProfileID, s.design))
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		s.Equal(1, s.fake.Grants, "writer already covers reader")
		perms := s.active(s.ana.ProfileID)
		s.Require().Len(perms, 2)
		s.Equal(perms[0].ExternalPermissionID, perms[1].ExternalPermissionID)
	})

	s.Run("revoking the team grant keeps the role grant without calling upstream", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionTeam(s.ctx, s.ana.ProfileID, s.design))
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		calls := s.fake.Calls()

		s.Require().NoError(s.service.RevokeTeam(s.ctx, s.ana.ProfileID, s.design))

		s.Equal(calls, s.fake.Calls(), "zero external calls for a shared revoke")
		perms := s.active(s.ana.ProfileID)
		s.Require().Len(perms, 1)
		s.Equal(am.ProvenanceRole, perms[0].Provenance)
		s.True(s.fake.Has("drive-shared", "ana@example.org"))
	})

	s.Run("team provisioning skips a resource already reached by role", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		s.Require().NoError(s.service.ProvisionTeam(s.ctx, s.ana.ProfileID, s.design))

		s.Equal(1, s.fake.Grants)
		s.Len(s.active(s.ana.ProfileID), 1)
	})
}

func (s *AccessServiceSuite) TestRevokeAll() {
	s.Run("shared rows cost one upstream revoke", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionTeam(s.ctx, s.ana.ProfileID, s.design))
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		s.Require().NoError(s.service.RevokeAll(s.ctx, s.ana.ProfileID))

		s.Equal(1, s.fake.Revokes)
		s.Empty(s.active(s.ana.ProfileID))
		s.False(s.fake.Has("drive-shared", "ana@example.org"))
	})

	s.Run("grant already gone upstream counts as revoked", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		s.fake.FailNext("revoke", drive.ErrNotFound)

		s.Require().NoError(s.service.RevokeAll(s.ctx, s.ana.ProfileID))
		s.Empty(s.active(s.ana.ProfileID))
		for _, l := range s.logs(s.ana.ProfileID) {
			s.Equal(am.LogSuccess, l.Status)
		}
	})

	s.Run("outage keeps the permission active", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))
		s.fake.FailNext("revoke", drive.ErrUnavailable)

		err := s.service.RevokeAll(s.ctx, s.ana.ProfileID)
		s.True(dErrors.HasCode(err, dErrors.CodeExternalTransient))
		s.Len(s.active(s.ana.ProfileID), 1)
	})
}

func (s *AccessServiceSuite) TestReconcile() {
	s.Run("never revokes grants it did not create", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.dir.EXPECT().ProfilesWithRole(gomock.Any()).Return([]id.ProfileID{s.ana.ProfileID}, nil).AnyTimes()
		s.fake.Seed("drive-shared", "outsider@partner.org", am.LevelWriter)

		result, err := s.service.Reconcile(s.ctx, s.shared.ID)
		s.Require().NoError(err)

		s.Equal(1, result.Granted)
		s.Equal(1, result.Untracked)
		s.Zero(result.Revoked)
		s.True(s.fake.Has("drive-shared", "outsider@partner.org"))
		s.True(s.fake.Has("drive-shared", "ana@example.org"))
	})

	s.Run("revokes tracked grants of members who lost access", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		ctrl := gomock.NewController(s.T())
		dir := mocks.NewMockMemberDirectory(ctrl)
		lapsed := s.ana
		lapsed.Status = mm.StatusExpired
		dir.EXPECT().ProfilesWithRole(gomock.Any()).Return([]id.ProfileID{lapsed.ProfileID}, nil)
		dir.EXPECT().Member(gomock.Any(), lapsed.ProfileID).Return(lapsed, nil).AnyTimes()
		svc := New(s.stores.DB, s.stores.Access, dir, s.fake, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

		result, err := svc.Reconcile(s.ctx, s.shared.ID)
		s.Require().NoError(err)
		s.Equal(1, result.Revoked)
		s.False(s.fake.Has("drive-shared", "ana@example.org"))
		s.Empty(s.active(s.ana.ProfileID))
	})

	s.Run("members pending documents keep access but are not granted", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		ben := am.Member{
			ProfileID: id.New[id.ProfileID](),
			Email:     "ben@example.org",
			Status:    mm.StatusApprovedPendingDocuments,
			Role:      mm.RoleAsociado,
		}
		pending := s.ana
		pending.Status = mm.StatusApprovedPendingDocuments
		ctrl := gomock.NewController(s.T())
		dir := mocks.NewMockMemberDirectory(ctrl)
		dir.EXPECT().ProfilesWithRole(gomock.Any()).Return([]id.ProfileID{pending.ProfileID, ben.ProfileID}, nil)
		dir.EXPECT().Member(gomock.Any(), pending.ProfileID).Return(pending, nil).AnyTimes()
		dir.EXPECT().Member(gomock.Any(), ben.ProfileID).Return(ben, nil).AnyTimes()
		svc := New(s.stores.DB, s.stores.Access, dir, s.fake, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

		result, err := svc.Reconcile(s.ctx, s.shared.ID)
		s.Require().NoError(err)
		s.Zero(result.Granted)
		s.Zero(result.Revoked)
		s.False(s.fake.Has("drive-shared", "ben@example.org"))
		s.True(s.fake.Has("drive-shared", "ana@example.org"))
		s.Len(s.active(s.ana.ProfileID), 1)
	})

	s.Run("list failure is transient", func() {
		s.SetupTest()
		s.dir.EXPECT().ProfilesWithRole(gomock.Any()).Return(nil, nil)
		s.fake.FailNext("list", drive.ErrRateLimited)

		_, err := s.service.Reconcile(s.ctx, s.shared.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeExternalTransient))
	})

	s.Run("unknown resource", func() {
		s.SetupTest()
		_, err := s.service.Reconcile(s.ctx, id.New[id.ResourceID]())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reconcile all runs every active resource", func() {
		s.SetupTest()
		archive := am.Resource{ID: id.New[id.ResourceID](), Key: "archive", ExternalID: "drive-archive", IsActive: true}
		s.Require().NoError(s.stores.Access.SaveResource(s.ctx, &archive))
		s.expectMember(s.ana)
		s.dir.EXPECT().ProfilesWithRole(gomock.Any()).Return([]id.ProfileID{s.ana.ProfileID}, nil)

		results, err := s.service.ReconcileAll(s.ctx)
		s.Require().NoError(err)
		s.Len(results, 2)
		s.Equal(2, s.fake.Lists)
	})
}

func (s *AccessServiceSuite) TestRetryFailed() {
	s.Run("retries a failed grant into success on the same entry", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.fake.FailNext("grant", drive.ErrRateLimited)
		s.Require().Error(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
		result, err := s.service.RetryFailed(later)
		s.Require().NoError(err)
		s.Equal(1, result.Succeeded)

		logs := s.logs(s.ana.ProfileID)
		s.Require().Len(logs, 1)
		s.Equal(am.LogSuccess, logs[0].Status)
		s.Equal(1, logs[0].RetryCount)
		s.Len(s.active(s.ana.ProfileID), 1)
	})

	s.Run("entries outside the window are left alone", func() {
		s.SetupTest()
		s.expectMember(s.ana)
		s.fake.FailNext("grant", errors.New("boom"))
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		later := requestcontext.WithTime(context.Background(), s.now.Add(am.RetryWindow+time.Hour))
		result, err := s.service.RetryFailed(later)
		s.Require().NoError(err)
		s.Zero(result.Retried)
	})

	s.Run("grant no longer wanted is frozen", func() {
		s.SetupTest()
		s.fake.FailNext("grant", errors.New("boom"))
		s.dir.EXPECT().Member(gomock.Any(), s.ana.ProfileID).Return(s.ana, nil)
		s.Require().NoError(s.service.ProvisionRole(s.ctx, s.ana.ProfileID))

		lapsed := s.ana
		lapsed.Status = mm.StatusRemoved
		s.dir.EXPECT().Member(gomock.Any(), s.ana.ProfileID).Return(lapsed, nil)
		result, err := s.service.RetryFailed(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, result.Frozen)

		logs := s.logs(s.ana.ProfileID)
		s.Require().Len(logs, 1)
		s.Equal(am.LogFailed, logs[0].Status)
		s.Equal(am.MaxRetries, logs[0].RetryCount)
	})
}
