package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

// Status is the state of a data deletion request.
type Status string

const (
	StatusRequested           Status = "requested"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusUnderReview         Status = "under_review"
	StatusApproved            Status = "approved"
	StatusDenied              Status = "denied"
	StatusExecuting           Status = "executing"
	StatusExecuted            Status = "executed"
	StatusFailed              Status = "failed"
)

// IsTerminal reports whether the request is finished. A new request may be
// filed once the previous one is terminal.
func (s Status) IsTerminal() bool {
	return s == StatusDenied || s == StatusExecuted || s == StatusFailed
}

// Event drives a deletion request between states.
type Event string

const (
	EventSendConfirmation Event = "send_confirmation"
	EventConfirm          Event = "confirm"
	EventApprove          Event = "approve"
	EventDeny             Event = "deny"
	EventStartExecution   Event = "start_execution"
	EventComplete         Event = "complete"
	EventFail             Event = "fail"
	// EventResetFailed is the administrative action that re-enables a failed execution.
	EventResetFailed Event = "reset_failed"
)

var transitions = map[Event]struct{ from, to Status }{
	EventSendConfirmation: {StatusRequested, StatusPendingConfirmation},
	EventConfirm:          {StatusPendingConfirmation, StatusUnderReview},
	EventApprove:          {StatusUnderReview, StatusApproved},
	EventDeny:             {StatusUnderReview, StatusDenied},
	EventStartExecution:   {StatusApproved, StatusExecuting},
	EventComplete:         {StatusExecuting, StatusExecuted},
	EventFail:             {StatusExecuting, StatusFailed},
	EventResetFailed:      {StatusFailed, StatusApproved},
}

// Transition returns the state reached by applying ev to from.
func Transition(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return from, dErrors.New(dErrors.CodeInvalidTransition, "unknown deletion event: "+string(ev))
	}
	if t.from != from {
		return from, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot %s a deletion request that is %s", strings.ReplaceAll(string(ev), "_", " "), from))
	}
	return t.to, nil
}

// Request is a right-to-erasure request for one profile.
type Request struct {
	ID                id.DeletionRequestID
	ProfileID         id.ProfileID
	Reason            string
	Status            Status
	Snapshot          map[string]string
	ConfirmationToken string
	ConfirmedAt       *time.Time
	ReviewedBy        id.AccountID
	ReviewedAt        *time.Time
	ReviewNotes       string
	DenialReason      string
	ExecutionStarted  *time.Time
	ExecutedAt        *time.Time
	ErrorMessage      string
	AnonymizationLog  *AnonymizationLog
	RequestedBy       id.AccountID
	RequestedAt       time.Time
	UpdatedAt         time.Time
}

// NewRequest files a request and issues its confirmation token.
func NewRequest(profileID id.ProfileID, reason string, snapshot map[string]string, requestedBy id.AccountID, now time.Time) (*Request, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:                id.New[id.DeletionRequestID](),
		ProfileID:         profileID,
		Reason:            reason,
		Status:            StatusRequested,
		Snapshot:          snapshot,
		ConfirmationToken: token,
		RequestedBy:       requestedBy,
		RequestedAt:       now,
		UpdatedAt:         now,
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate confirmation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Review is the reviewer decision on a request under review.
type Review struct {
	Reviewer   id.AccountID
	IsBoard    bool
	Notes      string
	DenyReason string
}

// Apply moves the request through ev, stamping the fields the event owns.
// On error nothing is changed.
func (r *Request) Apply(ev Event, now time.Time) error {
	next, err := Transition(r.Status, ev)
	if err != nil {
		return err
	}
	r.Status = next
	r.UpdatedAt = now
	switch ev {
	case EventConfirm:
		r.ConfirmedAt = &now
	case EventStartExecution:
		r.ExecutionStarted = &now
		r.ErrorMessage = ""
	case EventComplete:
		r.ExecutedAt = &now
	}
	return nil
}

// ApplyReview approves or denies. Reviewers must be board members other than
// the subject, and a denial needs a reason.
func (r *Request) ApplyReview(ev Event, review Review, subject id.AccountID, now time.Time) error {
	if ev != EventApprove && ev != EventDeny {
		return dErrors.New(dErrors.CodeInvalidTransition, "not a review event: "+string(ev))
	}
	if !review.IsBoard {
		return dErrors.New(dErrors.CodeForbidden, "only board members may review deletion requests")
	}
	if review.Reviewer == subject {
		return dErrors.New(dErrors.CodeForbidden, "reviewers cannot review their own deletion request")
	}
	if ev == EventDeny && strings.TrimSpace(review.DenyReason) == "" {
		return dErrors.New(dErrors.CodeValidation, "a denial requires a reason")
	}
	if err := r.Apply(ev, now); err != nil {
		return err
	}
	r.ReviewedBy = review.Reviewer
	r.ReviewedAt = &now
	r.ReviewNotes = review.Notes
	r.DenialReason = review.DenyReason
	return nil
}

// ApplyFailure records an execution failure.
func (r *Request) ApplyFailure(cause error, now time.Time) error {
	if err := r.Apply(EventFail, now); err != nil {
		return err
	}
	r.ErrorMessage = cause.Error()
	return nil
}

// AnonymizationLog enumerates what an execution changed.
type AnonymizationLog struct {
	AccountFields              []string  `json:"account_fields"`
	ProfileFields              []string  `json:"profile_fields"`
	RoleAssignmentsDeactivated int       `json:"role_assignments_deactivated"`
	TeamMembershipsDeactivated int       `json:"team_memberships_deactivated"`
	ConsentsDeactivated        int       `json:"consents_deactivated"`
	ApplicationsRedacted       int       `json:"applications_redacted"`
	TagsDeleted                int       `json:"tags_deleted"`
	PermissionsRevoked         int       `json:"permissions_revoked"`
	CompletedAt                time.Time `json:"completed_at"`
}
