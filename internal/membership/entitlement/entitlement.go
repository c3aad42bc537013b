// Package entitlement derives membership status from stored records and a
// calendar date. Everything here is pure: callers load the facts, pass the
// day, and get a value back.
package entitlement

import (
	"slices"
	"strings"
	"time"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
)

// Facts is everything status derivation reads about one profile.
type Facts struct {
	Assignments        []mm.RoleAssignment
	HasOpenApplication bool
	// Requirements lists active documents paired with their current version.
	Requirements []cm.Requirement
	// Consents holds the profile's active consent records.
	Consents []cm.ConsentRecord
}

// CurrentAssignment picks the assignment status queries report: among those
// valid on day, the latest start date, then the latest creation, then id.
func CurrentAssignment(assignments []mm.RoleAssignment, day time.Time) (mm.RoleAssignment, bool) {
	var valid []mm.RoleAssignment
	for _, ra := range assignments {
		if ra.IsValidOn(day) {
			valid = append(valid, ra)
		}
	}
	if len(valid) == 0 {
		return mm.RoleAssignment{}, false
	}
	slices.SortFunc(valid, func(a, b mm.RoleAssignment) int {
		if c := b.StartDate.Compare(a.StartDate); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return valid[0], true
}

// RequiredFor filters requirements to those binding on role. Documents with
// no current version cannot be accepted and are skipped.
func RequiredFor(reqs []cm.Requirement, role mm.Role) []cm.Requirement {
	var out []cm.Requirement
	for _, r := range reqs {
		if r.Current == nil || !r.Document.RequiredFor(role) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b cm.Requirement) int {
		return a.Document.DisplayOrder - b.Document.DisplayOrder
	})
	return out
}

// PendingDocuments lists the required documents for role whose current
// version has no active consent, flagging those past a re-consent deadline.
func PendingDocuments(reqs []cm.Requirement, role mm.Role, consents []cm.ConsentRecord, day time.Time) []cm.PendingDocument {
	accepted := make(map[id.VersionID]bool, len(consents))
	for _, c := range consents {
		if c.IsActive {
			accepted[c.VersionID] = true
		}
	}
	var pending []cm.PendingDocument
	for _, r := range RequiredFor(reqs, role) {
		if accepted[r.Current.ID] {
			continue
		}
		pending = append(pending, cm.PendingDocument{
			Requirement: r,
			Overdue:     r.Current.ReConsentOverdue(dateOf(day)),
		})
	}
	return pending
}

// DeriveStatus computes the membership status on day. First match wins:
//
//  1. no valid assignment: Pending, Expired, Removed or None
//  2. a required document past its re-consent deadline: Restricted
//  3. any other unaccepted required document: ApprovedPendingDocuments
//  4. otherwise Active
func DeriveStatus(f Facts, day time.Time) mm.Status {
	day = dateOf(day)
	current, ok := CurrentAssignment(f.Assignments, day)
	if !ok {
		return lapsedStatus(f, day)
	}
	pending := PendingDocuments(f.Requirements, current.Role, f.Consents, day)
	if len(pending) == 0 {
		return mm.StatusActive
	}
	for _, p := range pending {
		if p.Overdue {
			return mm.StatusRestricted
		}
	}
	return mm.StatusApprovedPendingDocuments
}

func lapsedStatus(f Facts, day time.Time) mm.Status {
	if f.HasOpenApplication {
		return mm.StatusPending
	}
	for _, ra := range f.Assignments {
		if ra.IsExpiredOn(day) {
			return mm.StatusExpired
		}
	}
	for _, ra := range f.Assignments {
		if !ra.IsActive && ra.Removed {
			return mm.StatusRemoved
		}
	}
	return mm.StatusNone
}

// GrantsAccess reports whether new external grants may be issued at status.
func GrantsAccess(s mm.Status) bool {
	return s == mm.StatusActive
}

// HasAccess reports whether status keeps external access already granted.
// A member sent back to sign a new document version is not revoked, but is
// not granted anything new either.
func HasAccess(s mm.Status) bool {
	return s == mm.StatusActive || s == mm.StatusApprovedPendingDocuments
}

// Transition names the access consequence of a status change.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionProvision
	TransitionRevoke
)

// AccessTransition maps a before/after pair to the access work it implies:
// entering Active provisions, losing access revokes. ApprovedPendingDocuments
// keeps whatever access exists.
func AccessTransition(before, after mm.Status) Transition {
	if before == after {
		return TransitionNone
	}
	if GrantsAccess(after) {
		return TransitionProvision
	}
	if HasAccess(before) && !HasAccess(after) {
		return TransitionRevoke
	}
	return TransitionNone
}

// ExpiryReminderOffsets are the days before end date a reminder is sent.
var ExpiryReminderOffsets = []int{60, 30, 7}

// ConsentReminderOffsets are the days before a re-consent deadline a reminder is sent.
var ConsentReminderOffsets = []int{7, 1}

// DaysUntil counts whole calendar days from day to target.
func DaysUntil(day, target time.Time) int {
	return int(dateOf(target).Sub(dateOf(day)).Hours() / 24)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
