package models

import (
	"time"

	am "membership/internal/access/models"
	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
)

// Status is the state of a data export request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Request is a personal data export request.
type Request struct {
	ID           id.ExportRequestID
	ProfileID    id.ProfileID
	Status       Status
	ArchiveKey   string
	Checksum     string
	SizeBytes    int64
	ErrorMessage string
	RequestedBy  id.AccountID
	RequestedAt  time.Time
	CompletedAt  *time.Time
	ExpiresAt    *time.Time
}

func (r *Request) ApplyProcessing() error {
	if r.Status != StatusPending && r.Status != StatusFailed {
		return dErrors.New(dErrors.CodeInvalidTransition, "export is "+string(r.Status))
	}
	r.Status = StatusProcessing
	r.ErrorMessage = ""
	return nil
}

func (r *Request) ApplyCompleted(key, checksum string, size int64, now time.Time, ttl time.Duration) {
	expires := now.Add(ttl)
	r.Status = StatusCompleted
	r.ArchiveKey = key
	r.Checksum = checksum
	r.SizeBytes = size
	r.CompletedAt = &now
	r.ExpiresAt = &expires
}

func (r *Request) ApplyFailed(err error) {
	r.Status = StatusFailed
	r.ErrorMessage = err.Error()
}

// IsExpired reports whether a completed export is past its download window.
func (r *Request) IsExpired(now time.Time) bool {
	return r.Status == StatusCompleted && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

func (r *Request) ApplyExpired() {
	r.Status = StatusExpired
	r.ArchiveKey = ""
}

// Bundle is every structured record held about one profile.
type Bundle struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Account         mm.Account             `json:"account"`
	Profile         mm.Profile             `json:"profile"`
	RoleAssignments []mm.RoleAssignment    `json:"role_assignments"`
	Consents        []cm.ConsentRecord     `json:"consents"`
	Revocations     []cm.ConsentRevocation `json:"consent_revocations"`
	Teams           []mm.TeamMembership    `json:"team_memberships"`
	Tags            []mm.ProfileTag        `json:"tags"`
	Applications    []apm.Application      `json:"applications"`
	AccessLogs      []am.PermissionLog     `json:"access_logs"`
	AuditLog        []audit.Entry          `json:"audit_log"`
	Changes         []mm.ChangeRecord      `json:"change_history"`
}
