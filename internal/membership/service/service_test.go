package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	cm "membership/internal/consent/models"
	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	"membership/internal/storage"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/audit/publishers/compliance"
	"membership/pkg/requestcontext"
)

type MembershipServiceSuite struct {
	suite.Suite
	stores   *storage.Stores
	queue    *jobs.MemoryQueue
	notifier *notify.Recorder
	service  *Service

	ctx   context.Context
	now   time.Time
	today time.Time
}

func TestMembershipServiceSuite(t *testing.T) {
	suite.Run(t, new(MembershipServiceSuite))
}

func (s *MembershipServiceSuite) SetupTest() {
	s.stores = storage.New()
	s.queue = jobs.NewMemoryQueue()
	s.notifier = notify.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.stores.DB, Stores{
		Accounts:        s.stores.Accounts,
		Profiles:        s.stores.Profiles,
		RoleAssignments: s.stores.RoleAssignments,
		Teams:           s.stores.Teams,
		Changes:         s.stores.Changes,
		Applications:    s.stores.Applications,
		Documents:       s.stores.Documents,
		Consents:        s.stores.Consents,
	}, s.queue, s.notifier,
		WithLogger(logger),
		WithAuditPublisher(compliance.New(s.stores.Audit, compliance.WithLogger(logger))))

	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.today = requestcontext.Date(s.now)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *MembershipServiceSuite) seedProfile(email string) id.ProfileID {
	account := &mm.Account{ID: id.New[id.AccountID](), Email: email, CreatedAt: s.now}
	s.Require().NoError(s.stores.Accounts.Save(s.ctx, account))
	profile := &mm.Profile{ID: id.New[id.ProfileID](), AccountID: account.ID, LegalName: "Ana Pérez", CountryOfResidence: "ES", CreatedAt: s.now}
	s.Require().NoError(s.stores.Profiles.Save(s.ctx, profile))
	return profile.ID
}

func (s *MembershipServiceSuite) seedAssignment(profileID id.ProfileID, start, end time.Time) mm.RoleAssignment {
	ra := mm.RoleAssignment{
		ID:        id.New[id.RoleAssignmentID](),
		ProfileID: profileID,
		Role:      mm.RoleAsociado,
		StartDate: start,
		EndDate:   end,
		IsActive:  true,
		CreatedAt: s.now,
	}
	s.Require().NoError(s.stores.RoleAssignments.Save(s.ctx, &ra))
	return ra
}

func (s *MembershipServiceSuite) seedRequiredDocument() *cm.DocumentVersion {
	doc := &cm.LegalDocument{
		ID: id.New[id.DocumentID](), Slug: "privacy", Title: "Privacy", Type: cm.DocumentPrivacyPolicy,
		IsRequiredForActivation: true, IsActive: true, CreatedAt: s.now,
	}
	s.Require().NoError(s.stores.Documents.SaveDocument(s.ctx, doc))
	v := &cm.DocumentVersion{
		ID: id.New[id.VersionID](), DocumentID: doc.ID, VersionNumber: "1.0",
		EffectiveDate: s.today, Content: "text", ContentHash: cm.HashContent("text"), CreatedAt: s.now,
	}
	s.Require().NoError(s.stores.Documents.SaveVersion(s.ctx, v))
	s.Require().NoError(s.stores.Documents.MarkCurrent(s.ctx, v.ID))
	return v
}

func (s *MembershipServiceSuite) tasks(kind jobs.Kind) []jobs.AccessPayload {
	var out []jobs.AccessPayload
	for _, t := range s.queue.Pending() {
		if t.Kind != kind {
			continue
		}
		var p jobs.AccessPayload
		s.Require().NoError(t.Decode(&p))
		out = append(out, p)
	}
	return out
}

func (s *MembershipServiceSuite) auditActions(profileID id.ProfileID) []audit.Action {
	entries, err := s.stores.Audit.ListByProfile(s.ctx, profileID)
	s.Require().NoError(err)
	var out []audit.Action
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *MembershipServiceSuite) TestStatus() {
	s.Run("no assignment is none", func() {
		pid := s.seedProfile("none@example.org")
		st, err := s.service.Status(s.ctx, pid)
		s.Require().NoError(err)
		s.Equal(mm.StatusNone, st)
	})

	s.Run("valid assignment without documents is active", func() {
		pid := s.seedProfile("active@example.org")
		s.seedAssignment(pid, s.today, s.today.AddDate(2, 0, 0))
		st, err := s.service.Status(s.ctx, pid)
		s.Require().NoError(err)
		s.Equal(mm.StatusActive, st)
	})

	s.Run("status on a future day sees the window close", func() {
		pid := s.seedProfile("future@example.org")
		s.seedAssignment(pid, s.today, s.today.AddDate(0, 1, 0))
		st, err := s.service.StatusOn(s.ctx, pid, s.today.AddDate(0, 2, 0))
		s.Require().NoError(err)
		s.Equal(mm.StatusExpired, st)
	})

	s.Run("unknown profile", func() {
		_, err := s.service.Status(s.ctx, id.New[id.ProfileID]())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *MembershipServiceSuite) TestAssignRole() {
	s.Run("entering active queues provisioning", func() {
		pid := s.seedProfile("ana@example.org")
		ra, err := s.service.AssignRole(s.ctx, pid, mm.RoleAsociado, s.today, "approved")
		s.Require().NoError(err)
		s.Equal(s.today.AddDate(mm.AssignmentTermYears, 0, 0), ra.EndDate)

		s.Equal([]jobs.AccessPayload{{ProfileID: pid}}, s.tasks(jobs.KindProvisionRole))
		s.Contains(s.auditActions(pid), audit.ActionRoleAssigned)
		s.Contains(s.auditActions(pid), audit.ActionStatusChanged)

		history, err := s.service.ChangeHistory(s.ctx, pid)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(ra.ID.String(), history[0].EntityID)
	})

	s.Run("pending documents keep access work idle", func() {
		s.SetupTest()
		s.seedRequiredDocument()
		pid := s.seedProfile("ben@example.org")
		_, err := s.service.AssignRole(s.ctx, pid, mm.RoleColaborador, s.today, "")
		s.Require().NoError(err)

		st, err := s.service.Status(s.ctx, pid)
		s.Require().NoError(err)
		s.Equal(mm.StatusApprovedPendingDocuments, st)
		s.Empty(s.queue.Pending())

		pending, err := s.service.PendingDocuments(s.ctx, pid)
		s.Require().NoError(err)
		s.Len(pending, 1)
	})

	s.Run("unknown role", func() {
		pid := s.seedProfile("cid@example.org")
		_, err := s.service.AssignRole(s.ctx, pid, mm.Role("president"), s.today, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *MembershipServiceSuite) TestRemoveMember() {
	s.Run("removal revokes access", func() {
		pid := s.seedProfile("ana@example.org")
		s.seedAssignment(pid, s.today.AddDate(0, -1, 0), s.today.AddDate(1, 0, 0))

		s.Require().NoError(s.service.RemoveMember(s.ctx, pid, "conduct"))

		st, err := s.service.Status(s.ctx, pid)
		s.Require().NoError(err)
		s.Equal(mm.StatusRemoved, st)
		s.Equal([]jobs.AccessPayload{{ProfileID: pid}}, s.tasks(jobs.KindRevokeAll))
		s.Contains(s.auditActions(pid), audit.ActionMemberRemoved)
	})

	s.Run("reason is required", func() {
		err := s.service.RemoveMember(s.ctx, id.New[id.ProfileID](), "  ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("nothing to remove", func() {
		pid := s.seedProfile("ben@example.org")
		err := s.service.RemoveMember(s.ctx, pid, "conduct")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *MembershipServiceSuite) TestTeams() {
	team, err := s.service.CreateTeam(s.ctx, "Design", "")
	s.Require().NoError(err)

	s.Run("duplicate name", func() {
		_, err := s.service.CreateTeam(s.ctx, " Design ", "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	pid := s.seedProfile("ana@example.org")
	s.seedAssignment(pid, s.today, s.today.AddDate(2, 0, 0))

	s.Run("active member joins and gets team access queued", func() {
		_, err := s.service.JoinTeam(s.ctx, pid, team.ID)
		s.Require().NoError(err)
		s.Equal([]jobs.AccessPayload{{ProfileID: pid, TeamID: team.ID}}, s.tasks(jobs.KindProvisionTeam))

		m, err := s.service.Member(s.ctx, pid)
		s.Require().NoError(err)
		s.Equal([]id.TeamID{team.ID}, m.Teams)
		s.Equal(mm.RoleAsociado, m.Role)
		s.Equal("ana@example.org", m.Email)
	})

	s.Run("joining twice conflicts", func() {
		_, err := s.service.JoinTeam(s.ctx, pid, team.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("leaving keeps history and queues revocation", func() {
		s.Require().NoError(s.service.LeaveTeam(s.ctx, pid, team.ID))
		s.Equal([]jobs.AccessPayload{{ProfileID: pid, TeamID: team.ID}}, s.tasks(jobs.KindRevokeTeam))

		history, err := s.service.TeamHistory(s.ctx, pid)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.False(history[0].IsActive)
		s.NotNil(history[0].LeftAt)
	})

	s.Run("leaving a team twice", func() {
		err := s.service.LeaveTeam(s.ctx, pid, team.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *MembershipServiceSuite) TestSweepExpiry() {
	s.Run("reminders are sent once per offset", func() {
		pid := s.seedProfile("ana@example.org")
		s.seedAssignment(pid, s.today.AddDate(-2, 0, 30), s.today.AddDate(0, 0, 30))

		res, err := s.service.SweepExpiry(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, res.Reminded)
		_, err = s.service.SweepExpiry(s.ctx)
		s.Require().NoError(err)

		events := s.notifier.Events(notify.KindMembershipExpiring)
		s.Require().Len(events, 1)
		s.Equal(30, events[0].Payload["days_left"])
	})

	s.Run("renewed members get no reminder", func() {
		s.SetupTest()
		pid := s.seedProfile("ben@example.org")
		s.seedAssignment(pid, s.today.AddDate(-2, 0, 7), s.today.AddDate(0, 0, 7))
		s.seedAssignment(pid, s.today.AddDate(0, 0, 8), s.today.AddDate(2, 0, 8))

		res, err := s.service.SweepExpiry(s.ctx)
		s.Require().NoError(err)
		s.Zero(res.Reminded)
	})

	s.Run("lapsed assignments expire and access is revoked", func() {
		s.SetupTest()
		pid := s.seedProfile("cid@example.org")
		ra := s.seedAssignment(pid, s.today.AddDate(-2, 0, -1), s.today.AddDate(0, 0, -1))

		res, err := s.service.SweepExpiry(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, res.Expired)

		st, err := s.service.Status(s.ctx, pid)
		s.Require().NoError(err)
		s.Equal(mm.StatusExpired, st)
		s.Equal([]jobs.AccessPayload{{ProfileID: pid}}, s.tasks(jobs.KindRevokeAll))

		events := s.notifier.Events(notify.KindMembershipExpired)
		s.Require().Len(events, 1)
		s.Equal(notify.Key(notify.KindMembershipExpired, ra.ID), events[0].IdempotencyKey)
		s.Contains(s.auditActions(pid), audit.ActionRoleExpired)

		res, err = s.service.SweepExpiry(s.ctx)
		s.Require().NoError(err)
		s.Zero(res.Expired)
		s.Len(s.tasks(jobs.KindRevokeAll), 1)
	})
}

func (s *MembershipServiceSuite) TestUpdateProfile() {
	pid := s.seedProfile("ana@example.org")

	p, err := s.service.UpdateProfile(s.ctx, pid, "Ana Pérez Gil", "es")
	s.Require().NoError(err)
	s.Equal("Ana Pérez Gil", p.LegalName)
	s.Equal("ES", p.CountryOfResidence)

	history, err := s.service.ChangeHistory(s.ctx, pid)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal([]string{"legal_name"}, history[0].Fields)
}
