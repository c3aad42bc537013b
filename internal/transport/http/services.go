package httptransport

//go:generate mockgen -source=services.go -destination=mocks/mocks.go -package=mocks Memberships,Applications,Consents,Deletions,Exports,Jobs

import (
	"context"
	"time"

	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	em "membership/internal/export/models"
	exportservice "membership/internal/export/service"
	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	membership "membership/internal/membership/service"
	id "membership/pkg/domain"
)

type Memberships interface {
	Overview(ctx context.Context, profileID id.ProfileID) (*membership.Overview, error)
	AssignRole(ctx context.Context, profileID id.ProfileID, role mm.Role, start time.Time, notes string) (*mm.RoleAssignment, error)
	RemoveMember(ctx context.Context, profileID id.ProfileID, reason string) error
	ChangeHistory(ctx context.Context, profileID id.ProfileID) ([]mm.ChangeRecord, error)
	JoinTeam(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) (*mm.TeamMembership, error)
	LeaveTeam(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) error
}

type Applications interface {
	Submit(ctx context.Context, accountID id.AccountID, sub apm.Submission) (*apm.Application, error)
	Get(ctx context.Context, appID id.ApplicationID) (*apm.Application, error)
	StartReview(ctx context.Context, appID id.ApplicationID) (*apm.Application, error)
	Approve(ctx context.Context, appID id.ApplicationID, notes string) (*apm.Application, error)
	Reject(ctx context.Context, appID id.ApplicationID, notes string) (*apm.Application, error)
}

type Consents interface {
	Documents(ctx context.Context) ([]cm.Requirement, error)
	PendingDocuments(ctx context.Context, profileID id.ProfileID) ([]cm.PendingDocument, error)
	Record(ctx context.Context, profileID id.ProfileID, versionID id.VersionID, vc cm.ViewingContext) (*cm.ConsentRecord, error)
	Revoke(ctx context.Context, consentID id.ConsentID, reason string) (*cm.ConsentRevocation, error)
	History(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, []cm.ConsentRevocation, error)
}

type Deletions interface {
	Request(ctx context.Context, profileID id.ProfileID, reason string) (*dm.Request, error)
	Confirm(ctx context.Context, token string) (*dm.Request, error)
	Approve(ctx context.Context, reqID id.DeletionRequestID, notes string) (*dm.Request, error)
	Deny(ctx context.Context, reqID id.DeletionRequestID, reason string) (*dm.Request, error)
	ResetFailed(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error)
	AwaitingReview(ctx context.Context) ([]dm.Request, error)
}

type Exports interface {
	Request(ctx context.Context, profileID id.ProfileID) (*em.Request, error)
	List(ctx context.Context, profileID id.ProfileID) ([]em.Request, error)
	Download(ctx context.Context, token string) (*exportservice.Archive, error)
}

// Jobs runs a background task inline, for operators.
type Jobs interface {
	RunNow(ctx context.Context, kind jobs.Kind, payload any) error
}
