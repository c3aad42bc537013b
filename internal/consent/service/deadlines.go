package service

import (
	"context"
	"time"

	cm "membership/internal/consent/models"
	"membership/internal/membership/entitlement"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/requestcontext"
)

// DeadlineResult reports a consent deadline sweep.
type DeadlineResult struct {
	Reminded   int `json:"reminded"`
	Restricted int `json:"restricted"`
}

// SweepConsentDeadlines reminds role holders of upcoming re-consent
// deadlines and runs the status change handler for profiles whose deadline
// passed yesterday. Reminder keys make reruns on the same day harmless.
func (s *Service) SweepConsentDeadlines(ctx context.Context) (DeadlineResult, error) {
	var res DeadlineResult
	reqs, err := s.documents.Requirements(ctx)
	if err != nil {
		return res, wrapLoad(err, "documents")
	}
	var due []cm.Requirement
	for _, r := range reqs {
		if r.Current != nil && r.Current.RequiresReConsent && r.Current.ReConsentDeadline != nil {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return res, nil
	}
	profiles, err := s.memberships.ProfilesWithRole(ctx)
	if err != nil {
		return res, err
	}

	today := requestcontext.Today(ctx)
	for _, pid := range profiles {
		pending, err := s.memberships.PendingDocuments(ctx, pid)
		if err != nil {
			return res, err
		}
		crossed := false
		for _, r := range due {
			p, ok := findPending(pending, r.Current.ID)
			if !ok {
				continue
			}
			deadline := requestcontext.Date(*r.Current.ReConsentDeadline)
			for _, days := range entitlement.ConsentReminderOffsets {
				if !deadline.Equal(today.AddDate(0, 0, days)) {
					continue
				}
				if err := s.remind(ctx, pid, p, days); err != nil {
					return res, err
				}
				res.Reminded++
			}
			if deadline.Equal(today.AddDate(0, 0, -1)) {
				crossed = true
			}
		}
		if !crossed {
			continue
		}
		changed, err := s.restrict(ctx, pid, today.AddDate(0, 0, -1))
		if err != nil {
			return res, err
		}
		if changed {
			res.Restricted++
		}
	}
	s.logger.InfoContext(ctx, "consent deadlines swept",
		"reminded", res.Reminded,
		"restricted", res.Restricted,
	)
	return res, nil
}

// restrict compares the status on the deadline day with today's and hands
// the change to the membership service.
func (s *Service) restrict(ctx context.Context, profileID id.ProfileID, deadline time.Time) (bool, error) {
	var changed bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		before, err := s.memberships.StatusOn(ctx, profileID, deadline)
		if err != nil {
			return err
		}
		after, err := s.memberships.Status(ctx, profileID)
		if err != nil {
			return err
		}
		change := mm.StatusChange{ProfileID: profileID, Before: before, After: after}
		changed = change.Changed()
		return s.memberships.OnStatusChange(ctx, change)
	})
	return changed, err
}

func (s *Service) remind(ctx context.Context, profileID id.ProfileID, p cm.PendingDocument, days int) error {
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return wrapLoad(err, "profile")
	}
	err = s.notifier.Send(ctx, notify.Event{
		Kind:           notify.KindConsentReminder,
		IdempotencyKey: notify.Key(notify.KindConsentReminder, p.Current.ID, profileID, days),
		AccountID:      profile.AccountID,
		ProfileID:      profileID,
		Payload: map[string]any{
			"document":  p.Document.Slug,
			"title":     p.Document.Title,
			"version":   p.Current.VersionNumber,
			"deadline":  p.Current.ReConsentDeadline.Format(time.DateOnly),
			"days_left": days,
		},
		OccurredAt: requestcontext.Now(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue consent reminder")
	}
	return nil
}

func findPending(pending []cm.PendingDocument, versionID id.VersionID) (cm.PendingDocument, bool) {
	for _, p := range pending {
		if p.Current.ID == versionID {
			return p, true
		}
	}
	return cm.PendingDocument{}, false
}
