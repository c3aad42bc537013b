package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"membership/internal/membership/entitlement"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/requestcontext"
)

// ExpiryResult summarises one expiry sweep.
type ExpiryResult struct {
	Reminded int
	Expired  int
}

// AssignRole starts a new assignment for an existing profile. The caller's
// transaction is joined when there is one.
func (s *Service) AssignRole(ctx context.Context, profileID id.ProfileID, role mm.Role, start time.Time, notes string) (*mm.RoleAssignment, error) {
	var ra *mm.RoleAssignment
	err := s.Track(ctx, []id.ProfileID{profileID}, func(ctx context.Context) error {
		var err error
		ra, err = mm.NewRoleAssignment(profileID, role, start, requestcontext.ActorID(ctx), notes, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.stores.RoleAssignments.Save(ctx, ra); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save role assignment")
		}
		if err := s.recordChange(ctx, profileID, audit.EntityRoleAssignment, ra.ID.String(), "role", "start_date", "end_date", "is_active"); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record change")
		}
		return s.emit(ctx, audit.Entry{
			Action:     audit.ActionRoleAssigned,
			ProfileID:  profileID,
			EntityKind: audit.EntityRoleAssignment,
			EntityID:   ra.ID.String(),
			Extra: map[string]any{
				"role":       string(ra.Role),
				"start_date": ra.StartDate.Format(time.DateOnly),
				"end_date":   ra.EndDate.Format(time.DateOnly),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.ActionRoleAssigned), "profile_id", profileID, "role", role)
	return ra, nil
}

// RemoveMember is the board action that ends every active assignment of a
// profile. Access is revoked through the status change hook.
func (s *Service) RemoveMember(ctx context.Context, profileID id.ProfileID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "a removal reason is required")
	}
	err := s.Track(ctx, []id.ProfileID{profileID}, func(ctx context.Context) error {
		removed, err := s.stores.RoleAssignments.DeactivateByProfile(ctx, profileID, reason, true, requestcontext.Now(ctx))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate role assignments")
		}
		if len(removed) == 0 {
			return dErrors.New(dErrors.CodeInvalidTransition, "profile has no active role assignment")
		}
		for _, ra := range removed {
			if err := s.recordChange(ctx, profileID, audit.EntityRoleAssignment, ra.ID.String(), "is_active", "removed", "notes"); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record change")
			}
		}
		return s.emit(ctx, audit.Entry{
			Action:     audit.ActionMemberRemoved,
			ProfileID:  profileID,
			EntityKind: audit.EntityProfile,
			EntityID:   profileID.String(),
			Extra:      map[string]any{"reason": reason, "assignments": len(removed)},
		})
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, string(audit.ActionMemberRemoved), "profile_id", profileID)
	return nil
}

// UpdateProfile changes the editable profile fields and records which ones
// moved.
func (s *Service) UpdateProfile(ctx context.Context, profileID id.ProfileID, legalName, country string) (*mm.Profile, error) {
	var profile *mm.Profile
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		profile, err = s.stores.Profiles.FindByID(ctx, profileID)
		if err != nil {
			return wrapLoad(err, "profile")
		}
		if profile.IsAnonymized() {
			return dErrors.New(dErrors.CodeImmutable, "profile has been anonymized")
		}
		var fields []string
		if legalName = strings.TrimSpace(legalName); legalName != "" && legalName != profile.LegalName {
			profile.LegalName = legalName
			fields = append(fields, "legal_name")
		}
		if country = strings.ToUpper(strings.TrimSpace(country)); country != "" && country != profile.CountryOfResidence {
			profile.CountryOfResidence = country
			fields = append(fields, "country_of_residence")
		}
		if len(fields) == 0 {
			return nil
		}
		profile.UpdatedAt = requestcontext.Now(ctx)
		if err := s.stores.Profiles.Save(ctx, profile); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save profile")
		}
		return s.recordChange(ctx, profileID, audit.EntityProfile, profileID.String(), fields...)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// ChangeHistory returns the profile's change records, oldest first.
func (s *Service) ChangeHistory(ctx context.Context, profileID id.ProfileID) ([]mm.ChangeRecord, error) {
	recs, err := s.stores.Changes.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, wrapLoad(err, "change history")
	}
	return recs, nil
}

// SweepExpiry sends the 60/30/7 day reminders and then deactivates every
// assignment whose end date has passed. Reminders are keyed by assignment
// and offset so a rerun on the same day sends nothing new.
func (s *Service) SweepExpiry(ctx context.Context) (ExpiryResult, error) {
	var res ExpiryResult
	today := requestcontext.Today(ctx)
	for _, days := range entitlement.ExpiryReminderOffsets {
		ending, err := s.stores.RoleAssignments.ListActiveEndingOn(ctx, today.AddDate(0, 0, days))
		if err != nil {
			return res, wrapLoad(err, "role assignments")
		}
		for _, ra := range ending {
			sent, err := s.remind(ctx, ra, days)
			if err != nil {
				return res, err
			}
			if sent {
				res.Reminded++
			}
		}
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		expired, err := s.stores.RoleAssignments.DeactivateExpired(ctx, today, requestcontext.Now(ctx))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate expired assignments")
		}
		res.Expired = len(expired)
		var order []id.ProfileID
		byProfile := map[id.ProfileID][]mm.RoleAssignment{}
		for _, ra := range expired {
			if _, ok := byProfile[ra.ProfileID]; !ok {
				order = append(order, ra.ProfileID)
			}
			byProfile[ra.ProfileID] = append(byProfile[ra.ProfileID], ra)
		}
		for _, pid := range order {
			if err := s.expire(ctx, pid, byProfile[pid]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if s.metrics != nil {
		s.metrics.AddExpired(res.Expired)
	}
	s.logger.InfoContext(ctx, "expiry sweep finished", "reminded", res.Reminded, "expired", res.Expired)
	return res, nil
}

// expire handles one profile whose assignments were just deactivated. The
// before status is derived on the last valid day with those rows switched
// back on, since by today the window has already closed.
func (s *Service) expire(ctx context.Context, profileID id.ProfileID, lapsed []mm.RoleAssignment) error {
	facts, profile, err := s.facts(ctx, profileID)
	if err != nil {
		return err
	}
	lastDay := lapsed[0].EndDate
	restored := make(map[id.RoleAssignmentID]bool, len(lapsed))
	for _, ra := range lapsed {
		restored[ra.ID] = true
		if ra.EndDate.After(lastDay) {
			lastDay = ra.EndDate
		}
	}
	patched := entitlement.Facts{
		HasOpenApplication: facts.HasOpenApplication,
		Requirements:       facts.Requirements,
		Consents:           facts.Consents,
	}
	for _, ra := range facts.Assignments {
		if restored[ra.ID] {
			ra.IsActive = true
			ra.DeactivatedAt = nil
		}
		patched.Assignments = append(patched.Assignments, ra)
	}
	today := requestcontext.Today(ctx)
	before := entitlement.DeriveStatus(patched, lastDay)
	after := entitlement.DeriveStatus(facts, today)

	for _, ra := range lapsed {
		if err := s.recordChange(ctx, profileID, audit.EntityRoleAssignment, ra.ID.String(), "is_active"); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record change")
		}
		if err := s.emit(ctx, audit.Entry{
			Action:     audit.ActionRoleExpired,
			ProfileID:  profileID,
			EntityKind: audit.EntityRoleAssignment,
			EntityID:   ra.ID.String(),
			Extra:      map[string]any{"role": string(ra.Role), "end_date": ra.EndDate.Format(time.DateOnly)},
		}); err != nil {
			return err
		}
	}
	if after == mm.StatusExpired {
		ev := notify.Event{
			Kind:           notify.KindMembershipExpired,
			IdempotencyKey: notify.Key(notify.KindMembershipExpired, lapsed[0].ID),
			AccountID:      profile.AccountID,
			ProfileID:      profileID,
			Payload:        map[string]any{"role": string(lapsed[0].Role), "end_date": lastDay.Format(time.DateOnly)},
			OccurredAt:     requestcontext.Now(ctx),
		}
		if err := s.notifier.Send(ctx, ev); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue expiry notification")
		}
	}
	return s.OnStatusChange(ctx, mm.StatusChange{ProfileID: profileID, Before: before, After: after})
}

// remind sends one expiry reminder unless a later assignment already
// continues the membership.
func (s *Service) remind(ctx context.Context, ra mm.RoleAssignment, days int) (bool, error) {
	all, err := s.stores.RoleAssignments.ListByProfile(ctx, ra.ProfileID)
	if err != nil {
		return false, wrapLoad(err, "role assignments")
	}
	for _, other := range all {
		if other.ID != ra.ID && other.IsActive && other.EndDate.After(ra.EndDate) {
			return false, nil
		}
	}
	profile, err := s.stores.Profiles.FindByID(ctx, ra.ProfileID)
	if err != nil {
		return false, wrapLoad(err, "profile")
	}
	ev := notify.Event{
		Kind:           notify.KindMembershipExpiring,
		IdempotencyKey: notify.Key(notify.KindMembershipExpiring, ra.ID, days),
		AccountID:      profile.AccountID,
		ProfileID:      ra.ProfileID,
		Payload: map[string]any{
			"role":      string(ra.Role),
			"end_date":  ra.EndDate.Format(time.DateOnly),
			"days_left": days,
		},
		OccurredAt: requestcontext.Now(ctx),
	}
	if err := s.notifier.Send(ctx, ev); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue expiry reminder")
	}
	if s.metrics != nil {
		s.metrics.IncReminder(strconv.Itoa(days))
	}
	return true, nil
}
