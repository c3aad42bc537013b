package httptransport

import (
	"time"

	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	em "membership/internal/export/models"
	mm "membership/internal/membership/models"
	membership "membership/internal/membership/service"
)

type roleAssignmentResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsActive  bool   `json:"is_active"`
	Removed   bool   `json:"removed,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func toRoleAssignment(ra *mm.RoleAssignment) roleAssignmentResponse {
	return roleAssignmentResponse{
		ID:        ra.ID.String(),
		Role:      string(ra.Role),
		StartDate: ra.StartDate.Format(time.DateOnly),
		EndDate:   ra.EndDate.Format(time.DateOnly),
		IsActive:  ra.IsActive,
		Removed:   ra.Removed,
		Notes:     ra.Notes,
	}
}

type teamMembershipResponse struct {
	ID       string     `json:"id"`
	TeamID   string     `json:"team_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	IsActive bool       `json:"is_active"`
}

func toTeamMembership(m mm.TeamMembership) teamMembershipResponse {
	return teamMembershipResponse{
		ID:       m.ID.String(),
		TeamID:   m.TeamID.String(),
		JoinedAt: m.JoinedAt,
		LeftAt:   m.LeftAt,
		IsActive: m.IsActive,
	}
}

type documentResponse struct {
	ID                string     `json:"id"`
	Slug              string     `json:"slug"`
	Title             string     `json:"title"`
	Type              string     `json:"type"`
	VersionID         string     `json:"version_id,omitempty"`
	Version           string     `json:"version,omitempty"`
	EffectiveDate     string     `json:"effective_date,omitempty"`
	ContentHash       string     `json:"content_hash,omitempty"`
	RequiresReConsent bool       `json:"requires_re_consent,omitempty"`
	ReConsentDeadline *time.Time `json:"re_consent_deadline,omitempty"`
	Overdue           bool       `json:"overdue,omitempty"`
}

func toDocument(req cm.Requirement) documentResponse {
	out := documentResponse{
		ID:    req.Document.ID.String(),
		Slug:  req.Document.Slug,
		Title: req.Document.Title,
		Type:  string(req.Document.Type),
	}
	if v := req.Current; v != nil {
		out.VersionID = v.ID.String()
		out.Version = v.VersionNumber
		out.EffectiveDate = v.EffectiveDate.Format(time.DateOnly)
		out.ContentHash = v.ContentHash
		out.RequiresReConsent = v.RequiresReConsent
		out.ReConsentDeadline = v.ReConsentDeadline
	}
	return out
}

func toPending(pending []cm.PendingDocument) []documentResponse {
	out := make([]documentResponse, 0, len(pending))
	for _, p := range pending {
		d := toDocument(p.Requirement)
		d.Overdue = p.Overdue
		out = append(out, d)
	}
	return out
}

type overviewResponse struct {
	ProfileID string                   `json:"profile_id"`
	AccountID string                   `json:"account_id"`
	LegalName string                   `json:"legal_name"`
	Country   string                   `json:"country_of_residence"`
	Status    string                   `json:"status"`
	Current   *roleAssignmentResponse  `json:"current_assignment,omitempty"`
	DaysLeft  int                      `json:"days_left"`
	Pending   []documentResponse       `json:"pending_documents"`
	Teams     []teamMembershipResponse `json:"teams"`
}

func toOverview(o *membership.Overview) overviewResponse {
	out := overviewResponse{
		ProfileID: o.Profile.ID.String(),
		AccountID: o.Account.ID.String(),
		LegalName: o.Profile.LegalName,
		Country:   o.Profile.CountryOfResidence,
		Status:    string(o.Status),
		DaysLeft:  o.DaysLeft,
		Pending:   toPending(o.Pending),
		Teams:     make([]teamMembershipResponse, 0, len(o.Teams)),
	}
	if o.Current != nil {
		ra := toRoleAssignment(o.Current)
		out.Current = &ra
	}
	for _, m := range o.Teams {
		out.Teams = append(out.Teams, toTeamMembership(m))
	}
	return out
}

type applicationResponse struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"account_id"`
	Status        string     `json:"status"`
	LegalName     string     `json:"legal_name"`
	RequestedRole string     `json:"requested_role"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes   string     `json:"review_notes,omitempty"`
}

func toApplication(a *apm.Application) applicationResponse {
	return applicationResponse{
		ID:            a.ID.String(),
		AccountID:     a.AccountID.String(),
		Status:        string(a.Status),
		LegalName:     a.LegalName,
		RequestedRole: string(a.RequestedRole),
		SubmittedAt:   a.SubmittedAt,
		ReviewedAt:    a.ReviewedAt,
		ReviewNotes:   a.ReviewNotes,
	}
}

type consentResponse struct {
	ID                 string     `json:"id"`
	DocumentID         string     `json:"document_id"`
	VersionID          string     `json:"version_id"`
	ConsentedAt        time.Time  `json:"consented_at"`
	Language           string     `json:"language,omitempty"`
	IsActive           bool       `json:"is_active"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

func toConsent(c cm.ConsentRecord) consentResponse {
	return consentResponse{
		ID:                 c.ID.String(),
		DocumentID:         c.DocumentID.String(),
		VersionID:          c.VersionID.String(),
		ConsentedAt:        c.ConsentedAt,
		Language:           c.Language,
		IsActive:           c.IsActive,
		DeactivatedAt:      c.DeactivatedAt,
		DeactivationReason: string(c.DeactivationReason),
	}
}

type revocationResponse struct {
	ID        string    `json:"id"`
	ConsentID string    `json:"consent_id"`
	Reason    string    `json:"reason,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
}

func toRevocation(r cm.ConsentRevocation) revocationResponse {
	return revocationResponse{ID: r.ID.String(), ConsentID: r.ConsentID.String(), Reason: r.Reason, RevokedAt: r.RevokedAt}
}

type deletionResponse struct {
	ID           string               `json:"id"`
	ProfileID    string               `json:"profile_id"`
	Status       string               `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	RequestedAt  time.Time            `json:"requested_at"`
	ReviewedAt   *time.Time           `json:"reviewed_at,omitempty"`
	DenialReason string               `json:"denial_reason,omitempty"`
	ExecutedAt   *time.Time           `json:"executed_at,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Log          *dm.AnonymizationLog `json:"anonymization_log,omitempty"`
}

func toDeletion(r *dm.Request) deletionResponse {
	return deletionResponse{
		ID:           r.ID.String(),
		ProfileID:    r.ProfileID.String(),
		Status:       string(r.Status),
		Reason:       r.Reason,
		RequestedAt:  r.RequestedAt,
		ReviewedAt:   r.ReviewedAt,
		DenialReason: r.DenialReason,
		ExecutedAt:   r.ExecutedAt,
		ErrorMessage: r.ErrorMessage,
		Log:          r.AnonymizationLog,
	}
}

type exportResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
}

func toExport(r *em.Request) exportResponse {
	return exportResponse{
		ID:          r.ID.String(),
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		CompletedAt: r.CompletedAt,
		ExpiresAt:   r.ExpiresAt,
		SizeBytes:   r.SizeBytes,
		Checksum:    r.Checksum,
	}
}

type changeResponse struct {
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Fields     []string  `json:"fields"`
	ActorID    string    `json:"actor_id,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

func toChange(c mm.ChangeRecord) changeResponse {
	out := changeResponse{EntityKind: c.EntityKind, EntityID: c.EntityID, Fields: c.Fields, ChangedAt: c.ChangedAt}
	if !c.ActorID.IsNil() {
		out.ActorID = c.ActorID.String()
	}
	return out
}
