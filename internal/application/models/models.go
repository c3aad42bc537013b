package models

import (
	"fmt"
	"strings"
	"time"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

// Status is the state of an application. Approved and Rejected are terminal.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

func (s Status) IsTerminal() bool { return s == StatusApproved || s == StatusRejected }

// Event drives an application between states.
type Event string

const (
	EventStartReview Event = "start_review"
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
)

var transitions = map[Event]struct{ from, to Status }{
	EventStartReview: {StatusSubmitted, StatusUnderReview},
	EventApprove:     {StatusUnderReview, StatusApproved},
	EventReject:      {StatusUnderReview, StatusRejected},
}

// Transition returns the state reached by applying ev to from.
func Transition(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return from, dErrors.New(dErrors.CodeInvalidTransition, "unknown application event: "+string(ev))
	}
	if t.from != from {
		return from, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot %s an application that is %s", strings.ReplaceAll(string(ev), "_", " "), from))
	}
	return t.to, nil
}

// RedactedText replaces free-text fields on redacted applications.
const RedactedText = "[REDACTED]"

// Application is a request to join the association.
type Application struct {
	ID                 id.ApplicationID
	AccountID          id.AccountID
	BatchID            id.BatchID
	Status             Status
	LegalName          string
	PreferredName      string
	PreferredLanguage  string
	CountryOfResidence string
	RequestedRole      mm.Role
	HowHeard           string
	Motivation         string
	AttendedBefore     bool
	YearsAttended      []int
	Skills             []string

	DataProcessingConsent bool
	ConsentedAt           time.Time
	ConsentIP             string

	SubmittedAt time.Time
	ReviewedAt  *time.Time
	ReviewedBy  id.AccountID
	ReviewNotes string
	RedactedAt  *time.Time
	UpdatedAt   time.Time
}

// Apply moves the application through ev. Approve and reject stamp the review
// metadata; nothing is changed when the transition is not allowed.
func (a *Application) Apply(ev Event, reviewer id.AccountID, notes string, now time.Time) error {
	next, err := Transition(a.Status, ev)
	if err != nil {
		return err
	}
	a.Status = next
	a.UpdatedAt = now
	if ev == EventApprove || ev == EventReject {
		a.ReviewedAt = &now
		a.ReviewedBy = reviewer
		a.ReviewNotes = notes
	}
	return nil
}

// ApplyRedaction blanks the applicant-supplied free text.
func (a *Application) ApplyRedaction(now time.Time) {
	a.LegalName = RedactedText
	a.PreferredName = ""
	a.HowHeard = RedactedText
	a.Motivation = RedactedText
	a.Skills = nil
	a.ReviewNotes = RedactedText
	a.RedactedAt = &now
	a.UpdatedAt = now
}

// Submission is the applicant-supplied form.
type Submission struct {
	LegalName             string   `json:"legal_name"`
	PreferredName         string   `json:"preferred_name"`
	PreferredLanguage     string   `json:"preferred_language"`
	CountryOfResidence    string   `json:"country_of_residence"`
	RequestedRole         mm.Role  `json:"requested_role"`
	HowHeard              string   `json:"how_heard"`
	Motivation            string   `json:"motivation"`
	AttendedBefore        bool     `json:"attended_before"`
	YearsAttended         []int    `json:"years_attended"`
	Skills                []string `json:"skills"`
	DataProcessingConsent bool     `json:"data_processing_consent"`
}

// Validate checks the fields an applicant must supply.
func (s Submission) Validate() error {
	var problems []string
	if strings.TrimSpace(s.LegalName) == "" {
		problems = append(problems, "legal_name is required")
	}
	if len(s.CountryOfResidence) != 2 {
		problems = append(problems, "country_of_residence must be an ISO 3166 alpha-2 code")
	}
	if !s.RequestedRole.IsApplicable() {
		problems = append(problems, "requested_role must be colaborador or asociado")
	}
	if strings.TrimSpace(s.Motivation) == "" {
		problems = append(problems, "motivation is required")
	}
	if !s.DataProcessingConsent {
		problems = append(problems, "data_processing_consent must be given")
	}
	if !s.AttendedBefore && len(s.YearsAttended) > 0 {
		problems = append(problems, "years_attended requires attended_before")
	}
	if len(problems) > 0 {
		return dErrors.New(dErrors.CodeValidation, strings.Join(problems, "; "))
	}
	return nil
}

// BatchStatus is the state of a review batch.
type BatchStatus string

const (
	BatchOpen     BatchStatus = "open"
	BatchInReview BatchStatus = "in_review"
	BatchClosed   BatchStatus = "closed"
)

// Batch groups applications reviewed together.
type Batch struct {
	ID        id.BatchID
	Name      string
	Status    BatchStatus
	CreatedBy id.AccountID
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// DefaultBatchName is used when a batch is created without a name.
func DefaultBatchName(now time.Time) string {
	return "Review Batch - " + now.Format("January 2006")
}

func (b *Batch) CanAdd() error {
	if b.Status == BatchClosed {
		return dErrors.New(dErrors.CodeInvalidTransition, "batch is closed")
	}
	return nil
}

func (b *Batch) ApplyClose(now time.Time) error {
	if b.Status == BatchClosed {
		return dErrors.New(dErrors.CodeInvalidTransition, "batch is already closed")
	}
	b.Status = BatchClosed
	b.ClosedAt = &now
	return nil
}
