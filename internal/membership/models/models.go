package models

import (
	"time"

	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

// Role is the membership role granted by a RoleAssignment.
type Role string

const (
	RoleColaborador Role = "colaborador"
	RoleAsociado    Role = "asociado"
	RoleBoardMember Role = "board_member"
)

// AssignmentTermYears is the default validity of a new role assignment.
const AssignmentTermYears = 2

func (r Role) IsValid() bool {
	switch r {
	case RoleColaborador, RoleAsociado, RoleBoardMember:
		return true
	}
	return false
}

// IsApplicable reports whether applicants may request this role.
func (r Role) IsApplicable() bool {
	return r == RoleColaborador || r == RoleAsociado
}

func (r Role) String() string { return string(r) }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
	return r, nil
}

// Status is the derived membership status of a profile. It is never stored.
type Status string

const (
	StatusNone                     Status = "none"
	StatusPending                  Status = "pending"
	StatusApprovedPendingDocuments Status = "approved_pending_documents"
	StatusActive                   Status = "active"
	StatusRestricted               Status = "restricted"
	StatusExpired                  Status = "expired"
	StatusRemoved                  Status = "removed"
)

func (s Status) String() string { return string(s) }

// Account is the login identity. It is owned by the authentication layer;
// the engine reads Email and PreferredLanguage and anonymizes in place.
type Account struct {
	ID                id.AccountID
	Email             string
	DisplayName       string
	PreferredLanguage string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile is the membership record of an approved person. It is never
// deleted; erasure anonymizes it in place.
type Profile struct {
	ID                 id.ProfileID
	AccountID          id.AccountID
	LegalName          string
	CountryOfResidence string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	AnonymizedAt       *time.Time
}

func (p *Profile) IsAnonymized() bool { return p.AnonymizedAt != nil }

// RoleAssignment is a time-bounded grant of a role to a profile.
type RoleAssignment struct {
	ID            id.RoleAssignmentID
	ProfileID     id.ProfileID
	Role          Role
	StartDate     time.Time
	EndDate       time.Time
	IsActive      bool
	Removed       bool
	Notes         string
	AssignedBy    id.AccountID
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// NewRoleAssignment starts an active assignment on start that runs for the
// default term.
func NewRoleAssignment(profileID id.ProfileID, role Role, start time.Time, assignedBy id.AccountID, notes string, now time.Time) (*RoleAssignment, error) {
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+string(role))
	}
	start = dateOf(start)
	ra := &RoleAssignment{
		ID:         id.New[id.RoleAssignmentID](),
		ProfileID:  profileID,
		Role:       role,
		StartDate:  start,
		EndDate:    addYears(start, AssignmentTermYears),
		IsActive:   true,
		Notes:      notes,
		AssignedBy: assignedBy,
		CreatedAt:  now,
	}
	return ra, ra.Validate()
}

func (r *RoleAssignment) Validate() error {
	if r.EndDate.Before(r.StartDate) {
		return dErrors.New(dErrors.CodeInvariantViolation, "role assignment ends before it starts")
	}
	return nil
}

// IsValidOn reports whether the assignment grants its role on day.
func (r *RoleAssignment) IsValidOn(day time.Time) bool {
	day = dateOf(day)
	return r.IsActive && !r.StartDate.After(day) && !r.EndDate.Before(day)
}

// IsExpiredOn reports whether the assignment's window closed before day.
func (r *RoleAssignment) IsExpiredOn(day time.Time) bool {
	return r.EndDate.Before(dateOf(day))
}

// ApplyDeactivation turns the assignment off, appending note when given.
func (r *RoleAssignment) ApplyDeactivation(now time.Time, note string) {
	r.IsActive = false
	r.DeactivatedAt = &now
	if note != "" {
		if r.Notes != "" {
			r.Notes += "\n"
		}
		r.Notes += note
	}
}

// ApplyRemoval deactivates the assignment as a board removal.
func (r *RoleAssignment) ApplyRemoval(now time.Time, reason string) {
	r.ApplyDeactivation(now, "Removed: "+reason)
	r.Removed = true
}

// Team groups members for team-scoped access rules.
type Team struct {
	ID          id.TeamID
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
}

// TeamMembership is kept after leaving so team history survives.
type TeamMembership struct {
	ID        id.TeamMembershipID
	TeamID    id.TeamID
	ProfileID id.ProfileID
	JoinedAt  time.Time
	LeftAt    *time.Time
	IsActive  bool
}

func (m *TeamMembership) ApplyLeave(now time.Time) {
	m.IsActive = false
	m.LeftAt = &now
}

// ProfileTag attaches a tag to a profile. Self-assignable tags are personal
// data and are deleted on erasure.
type ProfileTag struct {
	ProfileID      id.ProfileID
	TagID          id.TagID
	Name           string
	SelfAssignable bool
	CreatedAt      time.Time
}

// ChangeRecord is one row of profile or role assignment history.
type ChangeRecord struct {
	ID         int64
	ProfileID  id.ProfileID
	EntityKind string
	EntityID   string
	Fields     []string
	ActorID    id.AccountID
	ChangedAt  time.Time
}

// StatusChange carries the before/after status of one profile to the
// status change handler.
type StatusChange struct {
	ProfileID id.ProfileID
	Before    Status
	After     Status
}

// Changed reports whether the status moved.
func (c StatusChange) Changed() bool { return c.Before != c.After }

// addYears moves day by n calendar years, clamping Feb 29 to Feb 28 in
// non-leap years instead of rolling into March.
func addYears(day time.Time, n int) time.Time {
	out := day.AddDate(n, 0, 0)
	if out.Month() != day.Month() {
		out = out.AddDate(0, 0, -out.Day())
	}
	return out
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
