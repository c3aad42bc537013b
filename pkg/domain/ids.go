// Package domain holds the typed identifiers shared by every bounded context.
//
// Each identifier is a distinct instantiation of ID so that a ProfileID can
// never be passed where an AccountID is expected. Construct them with
// New[ProfileID]() inside the system and ParseProfileID at trust
// boundaries.
package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"

	dErrors "membership/pkg/domain-errors"
)

// ID is a UUID tagged with the entity kind K.
type ID[K any] uuid.UUID

func (i ID[K]) String() string { return uuid.UUID(i).String() }

// IsNil reports whether the identifier is the zero UUID.
func (i ID[K]) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func (i ID[K]) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID[K]) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*i = ID[K](u)
	return nil
}

// Value stores the zero identifier as NULL.
func (i ID[K]) Value() (driver.Value, error) {
	if i.IsNil() {
		return nil, nil
	}
	return i.String(), nil
}

func (i *ID[K]) Scan(src any) error {
	if src == nil {
		*i = ID[K](uuid.Nil)
		return nil
	}
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return fmt.Errorf("scan id: %w", err)
	}
	*i = ID[K](u)
	return nil
}

type (
	accountKind         struct{}
	profileKind         struct{}
	roleAssignmentKind  struct{}
	applicationKind     struct{}
	batchKind           struct{}
	teamKind            struct{}
	teamMembershipKind  struct{}
	tagKind             struct{}
	documentKind        struct{}
	versionKind         struct{}
	consentKind         struct{}
	revocationKind      struct{}
	deletionRequestKind struct{}
	exportRequestKind   struct{}
	resourceKind        struct{}
	ruleKind            struct{}
	permissionKind      struct{}
	permissionLogKind   struct{}
	auditKind           struct{}
)

type (
	AccountID         = ID[accountKind]
	ProfileID         = ID[profileKind]
	RoleAssignmentID  = ID[roleAssignmentKind]
	ApplicationID     = ID[applicationKind]
	BatchID           = ID[batchKind]
	TeamID            = ID[teamKind]
	TeamMembershipID  = ID[teamMembershipKind]
	TagID             = ID[tagKind]
	DocumentID        = ID[documentKind]
	VersionID         = ID[versionKind]
	ConsentID         = ID[consentKind]
	RevocationID      = ID[revocationKind]
	DeletionRequestID = ID[deletionRequestKind]
	ExportRequestID   = ID[exportRequestKind]
	ResourceID        = ID[resourceKind]
	RuleID            = ID[ruleKind]
	PermissionID      = ID[permissionKind]
	PermissionLogID   = ID[permissionLogKind]
	AuditID           = ID[auditKind]
)

// New returns a random identifier, e.g. New[ProfileID]().
func New[T ~[16]byte]() T {
	return T(uuid.New())
}

func parse[K any](s, name string) (ID[K], error) {
	if s == "" {
		return ID[K]{}, dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ID[K]{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+name)
	}
	if u == uuid.Nil {
		return ID[K]{}, dErrors.New(dErrors.CodeInvalidInput, name+" cannot be nil")
	}
	return ID[K](u), nil
}

func ParseAccountID(s string) (AccountID, error)   { return parse[accountKind](s, "account ID") }
func ParseProfileID(s string) (ProfileID, error)   { return parse[profileKind](s, "profile ID") }
func ParseBatchID(s string) (BatchID, error)       { return parse[batchKind](s, "batch ID") }
func ParseTeamID(s string) (TeamID, error)         { return parse[teamKind](s, "team ID") }
func ParseVersionID(s string) (VersionID, error)   { return parse[versionKind](s, "version ID") }
func ParseConsentID(s string) (ConsentID, error)   { return parse[consentKind](s, "consent ID") }
func ParseResourceID(s string) (ResourceID, error) { return parse[resourceKind](s, "resource ID") }

func ParseApplicationID(s string) (ApplicationID, error) {
	return parse[applicationKind](s, "application ID")
}

func ParseDeletionRequestID(s string) (DeletionRequestID, error) {
	return parse[deletionRequestKind](s, "deletion request ID")
}

func ParseExportRequestID(s string) (ExportRequestID, error) {
	return parse[exportRequestKind](s, "export request ID")
}
