package audit

import (
	"context"
	"time"

	id "membership/pkg/domain"
)

// Category classifies audit entries for filtering and retention.
type Category string

const (
	CategoryAuth           Category = "auth"
	CategoryDataAccess     Category = "data_access"
	CategoryDataExport     Category = "data_export"
	CategoryDataDeletion   Category = "data_deletion"
	CategoryConsent        Category = "consent"
	CategoryProfile        Category = "profile"
	CategoryApplication    Category = "application"
	CategoryRole           Category = "role"
	CategoryTeam           Category = "team"
	CategoryExternalAccess Category = "external_access"
	CategoryAdmin          Category = "admin"
	CategoryOther          Category = "other"
)

// EntityKind names the type of record an entry refers to. Together with
// EntityID it replaces a polymorphic foreign key.
type EntityKind string

const (
	EntityAccount         EntityKind = "account"
	EntityProfile         EntityKind = "profile"
	EntityRoleAssignment  EntityKind = "role_assignment"
	EntityApplication     EntityKind = "application"
	EntityBatch           EntityKind = "application_batch"
	EntityDocumentVersion EntityKind = "document_version"
	EntityConsent         EntityKind = "consent_record"
	EntityDeletionRequest EntityKind = "deletion_request"
	EntityExportRequest   EntityKind = "export_request"
	EntityPermission      EntityKind = "external_permission"
	EntityTeamMembership  EntityKind = "team_membership"
)

// Action is the verb recorded on an entry.
type Action string

const (
	ActionApplicationSubmitted Action = "application_submitted"
	ActionApplicationReview    Action = "application_review_started"
	ActionApplicationApproved  Action = "application_approved"
	ActionApplicationRejected  Action = "application_rejected"
	ActionApplicationsRedacted Action = "applications_redacted"
	ActionBatchCreated         Action = "batch_created"
	ActionBatchClosed          Action = "batch_closed"

	ActionRoleAssigned    Action = "role_assigned"
	ActionRoleExpired     Action = "role_expired"
	ActionMemberRemoved   Action = "member_removed"
	ActionStatusChanged   Action = "status_changed"
	ActionProfileCreated  Action = "profile_created"
	ActionTeamJoined      Action = "team_joined"
	ActionTeamLeft        Action = "team_left"
	ActionVersionVerified Action = "document_version_verified"

	ActionConsentGiven      Action = "consent_given"
	ActionConsentRevoked    Action = "consent_revoked"
	ActionConsentSuperseded Action = "consent_superseded"
	ActionVersionPublished  Action = "document_version_published"

	ActionDeletionRequested Action = "deletion_requested"
	ActionDeletionConfirmed Action = "deletion_confirmed"
	ActionDeletionApproved  Action = "deletion_approved"
	ActionDeletionDenied    Action = "deletion_denied"
	ActionDeletionExecuted  Action = "deletion_executed"
	ActionDeletionFailed    Action = "deletion_failed"
	ActionDeletionReset     Action = "deletion_reset"

	ActionExportRequested  Action = "export_requested"
	ActionExportCompleted  Action = "export_completed"
	ActionExportFailed     Action = "export_failed"
	ActionExportDownloaded Action = "export_downloaded"
	ActionExportExpired    Action = "export_expired"

	ActionAccessGranted Action = "access_granted"
	ActionAccessRevoked Action = "access_revoked"
	ActionReconciled    Action = "access_reconciled"

	ActionJobTriggered Action = "job_triggered"
)

var actionCategories = map[Action]Category{
	ActionApplicationSubmitted: CategoryApplication,
	ActionApplicationReview:    CategoryApplication,
	ActionApplicationApproved:  CategoryApplication,
	ActionApplicationRejected:  CategoryApplication,
	ActionApplicationsRedacted: CategoryApplication,
	ActionBatchCreated:         CategoryApplication,
	ActionBatchClosed:          CategoryApplication,

	ActionRoleAssigned:   CategoryRole,
	ActionRoleExpired:    CategoryRole,
	ActionMemberRemoved:  CategoryRole,
	ActionStatusChanged:  CategoryProfile,
	ActionProfileCreated: CategoryProfile,
	ActionTeamJoined:     CategoryTeam,
	ActionTeamLeft:       CategoryTeam,

	ActionConsentGiven:      CategoryConsent,
	ActionConsentRevoked:    CategoryConsent,
	ActionConsentSuperseded: CategoryConsent,
	ActionVersionPublished:  CategoryConsent,
	ActionVersionVerified:   CategoryConsent,

	ActionDeletionRequested: CategoryDataDeletion,
	ActionDeletionConfirmed: CategoryDataDeletion,
	ActionDeletionApproved:  CategoryDataDeletion,
	ActionDeletionDenied:    CategoryDataDeletion,
	ActionDeletionExecuted:  CategoryDataDeletion,
	ActionDeletionFailed:    CategoryDataDeletion,
	ActionDeletionReset:     CategoryDataDeletion,

	ActionExportRequested:  CategoryDataExport,
	ActionExportCompleted:  CategoryDataExport,
	ActionExportFailed:     CategoryDataExport,
	ActionExportDownloaded: CategoryDataAccess,
	ActionExportExpired:    CategoryDataExport,

	ActionAccessGranted: CategoryExternalAccess,
	ActionAccessRevoked: CategoryExternalAccess,
	ActionReconciled:    CategoryExternalAccess,

	ActionJobTriggered: CategoryAdmin,
}

// Category returns the category for this action.
// Unknown actions default to CategoryOther.
func (a Action) Category() Category {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOther
}

// Entry is one immutable audit record. Entries are never updated or deleted.
type Entry struct {
	ID          id.AuditID     `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Category    Category       `json:"category"`
	Action      Action         `json:"action"`
	Description string         `json:"description,omitempty"`
	ActorID     id.AccountID   `json:"actor_id"`
	ProfileID   id.ProfileID   `json:"profile_id"`
	EntityKind  EntityKind     `json:"entity_kind,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Store persists audit entries. It exposes no update or delete operation.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]Entry, error)
}
