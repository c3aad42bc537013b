package models

import (
	"slices"
	"time"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

// Level is a permission level on an external storage resource.
type Level string

const (
	LevelReader        Level = "reader"
	LevelCommenter     Level = "commenter"
	LevelWriter        Level = "writer"
	LevelFileOrganizer Level = "fileOrganizer"
	LevelOrganizer     Level = "organizer"
)

var levelRank = map[Level]int{
	LevelReader:        1,
	LevelCommenter:     2,
	LevelWriter:        3,
	LevelFileOrganizer: 4,
	LevelOrganizer:     5,
}

// Rank orders levels by privilege. Unknown levels rank zero.
func (l Level) Rank() int { return levelRank[l] }

// Covers reports whether l grants at least what other grants.
func (l Level) Covers(other Level) bool { return l.Rank() >= other.Rank() }

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() == 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown permission level: "+s)
	}
	return l, nil
}

// Provenance names the rule that justified a permission.
type Provenance string

const (
	ProvenanceRole   Provenance = "role"
	ProvenanceTeam   Provenance = "team"
	ProvenanceManual Provenance = "manual"
)

// Resource is an external storage resource (a shared drive or folder).
type Resource struct {
	ID         id.ResourceID
	Key        string
	ExternalID string
	Name       string
	Type       string
	IsActive   bool
}

// RoleRule grants Level on a resource to every holder of Role.
type RoleRule struct {
	ID         id.RuleID
	Role       mm.Role
	ResourceID id.ResourceID
	Level      Level
	IsActive   bool
}

// TeamRule grants Level on a resource to every active member of a team.
type TeamRule struct {
	ID         id.RuleID
	TeamID     id.TeamID
	ResourceID id.ResourceID
	Level      Level
	IsActive   bool
}

// Permission is an entitlement this system believes it granted. Several rows
// may share one ExternalPermissionID when different provenances need the same
// resource.
type Permission struct {
	ID                   id.PermissionID
	ProfileID            id.ProfileID
	ResourceID           id.ResourceID
	Email                string
	Level                Level
	ExternalPermissionID string
	Provenance           Provenance
	TeamID               id.TeamID
	IsActive             bool
	GrantedAt            time.Time
	RevokedAt            *time.Time
}

// Action is what a log entry attempted.
type Action string

const (
	ActionGrant           Action = "grant"
	ActionRevoke          Action = "revoke"
	ActionReconcileGrant  Action = "reconcile_grant"
	ActionReconcileRevoke Action = "reconcile_revoke"
)

func (a Action) IsGrant() bool { return a == ActionGrant || a == ActionReconcileGrant }

// LogStatus tracks one external call.
type LogStatus string

const (
	LogPending  LogStatus = "pending"
	LogSuccess  LogStatus = "success"
	LogFailed   LogStatus = "failed"
	LogRetrying LogStatus = "retrying"
)

// MaxRetries freezes a log entry in FAILED once reached.
const MaxRetries = 5

// RetryWindow bounds how old a log entry may be for the retry sweep.
const RetryWindow = 24 * time.Hour

// PermissionLog is the append-only trail of every external call attempt.
// Only Status, ErrorMessage, RetryCount and the resulting ids change.
type PermissionLog struct {
	ID                   id.PermissionLogID
	ProfileID            id.ProfileID
	ResourceID           id.ResourceID
	Email                string
	Level                Level
	Action               Action
	Provenance           Provenance
	TeamID               id.TeamID
	PermissionID         id.PermissionID
	ExternalPermissionID string
	Status               LogStatus
	ErrorMessage         string
	RetryCount           int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (l *PermissionLog) ApplySuccess(externalID string, now time.Time) {
	l.Status = LogSuccess
	l.ExternalPermissionID = externalID
	l.ErrorMessage = ""
	l.UpdatedAt = now
}

// ApplyFailure marks a failed attempt; rate limited attempts stay retryable.
func (l *PermissionLog) ApplyFailure(err error, rateLimited bool, now time.Time) {
	l.Status = LogFailed
	if rateLimited {
		l.Status = LogRetrying
	}
	l.ErrorMessage = err.Error()
	l.UpdatedAt = now
}

// IsRetryable reports whether the retry sweep should pick this entry up.
func (l *PermissionLog) IsRetryable(now time.Time) bool {
	if l.Status != LogFailed && l.Status != LogRetrying {
		return false
	}
	return l.RetryCount < MaxRetries && now.Sub(l.CreatedAt) <= RetryWindow
}

// Grant is one desired (resource, level) pair with the rule that wants it.
type Grant struct {
	ResourceID id.ResourceID
	Level      Level
	Provenance Provenance
	TeamID     id.TeamID
}

// Rules is the active access configuration.
type Rules struct {
	Resources []Resource
	RoleRules []RoleRule
	TeamRules []TeamRule
}

func (r Rules) activeResources() map[id.ResourceID]bool {
	out := make(map[id.ResourceID]bool, len(r.Resources))
	for _, res := range r.Resources {
		if res.IsActive {
			out[res.ID] = true
		}
	}
	return out
}

// RoleGrants lists the grants role implies on active resources.
func (r Rules) RoleGrants(role mm.Role) []Grant {
	active := r.activeResources()
	var out []Grant
	for _, rule := range r.RoleRules {
		if rule.IsActive && rule.Role == role && active[rule.ResourceID] {
			out = append(out, Grant{ResourceID: rule.ResourceID, Level: rule.Level, Provenance: ProvenanceRole})
		}
	}
	return out
}

// TeamGrants lists the grants membership of team implies on active resources.
func (r Rules) TeamGrants(team id.TeamID) []Grant {
	active := r.activeResources()
	var out []Grant
	for _, rule := range r.TeamRules {
		if rule.IsActive && rule.TeamID == team && active[rule.ResourceID] {
			out = append(out, Grant{ResourceID: rule.ResourceID, Level: rule.Level, Provenance: ProvenanceTeam, TeamID: team})
		}
	}
	return out
}

// Desired is the union of role and team grants collapsed to one grant per
// resource. The highest level wins; on equal levels a role grant is
// preferred so reconciliation records role provenance.
func (r Rules) Desired(role mm.Role, teams []id.TeamID) map[id.ResourceID]Grant {
	all := r.RoleGrants(role)
	for _, t := range teams {
		all = append(all, r.TeamGrants(t)...)
	}
	out := make(map[id.ResourceID]Grant, len(all))
	for _, g := range all {
		cur, ok := out[g.ResourceID]
		if !ok || g.Level.Rank() > cur.Level.Rank() ||
			(g.Level == cur.Level && g.Provenance == ProvenanceRole && cur.Provenance != ProvenanceRole) {
			out[g.ResourceID] = g
		}
	}
	return out
}

// Grantee is an entry of the external grant list.
type Grantee struct {
	Email        string
	Level        Level
	PermissionID string
}

// ReconcileResult summarizes one reconcile run.
type ReconcileResult struct {
	ResourceID id.ResourceID `json:"resource_id"`
	Granted    int           `json:"granted"`
	Revoked    int           `json:"revoked"`
	Untracked  int           `json:"untracked"`
	Failed     int           `json:"failed"`
}

// SortedEmails returns map keys in a stable order.
func SortedEmails[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Member is the view of one profile that provisioning works from.
type Member struct {
	ProfileID id.ProfileID
	Email     string
	Status    mm.Status
	// Role is empty when the profile has no current assignment.
	Role  mm.Role
	Teams []id.TeamID
}

// Desired returns the grants this member should hold when entitled.
func (m Member) Desired(r Rules, entitled bool) map[id.ResourceID]Grant {
	if !entitled || m.Role == "" {
		return nil
	}
	return r.Desired(m.Role, m.Teams)
}

// Wants reports whether the member is owed a grant of provenance p on
// resource. Team provenance is matched on team.
func (m Member) Wants(r Rules, resource id.ResourceID, p Provenance, team id.TeamID) bool {
	if m.Role == "" {
		return false
	}
	var grants []Grant
	switch p {
	case ProvenanceRole:
		grants = r.RoleGrants(m.Role)
	case ProvenanceTeam:
		if !slices.Contains(m.Teams, team) {
			return false
		}
		grants = r.TeamGrants(team)
	}
	for _, g := range grants {
		if g.ResourceID == resource {
			return true
		}
	}
	return false
}
