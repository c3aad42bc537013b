package service

import (
	"context"
	"errors"
	"time"

	am "membership/internal/access/models"
	cm "membership/internal/consent/models"
	"membership/internal/jobs"
	"membership/internal/membership/entitlement"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/requestcontext"
)

// Overview is the member-facing summary of one profile.
type Overview struct {
	Profile mm.Profile
	Account mm.Account
	Status  mm.Status
	// Current is nil when no assignment is valid today.
	Current  *mm.RoleAssignment
	Pending  []cm.PendingDocument
	Teams    []mm.TeamMembership
	DaysLeft int
}

// Status derives the profile's status as of the request day.
func (s *Service) Status(ctx context.Context, profileID id.ProfileID) (mm.Status, error) {
	return s.StatusOn(ctx, profileID, requestcontext.Today(ctx))
}

// StatusOn derives the profile's status on day from what is stored now.
func (s *Service) StatusOn(ctx context.Context, profileID id.ProfileID, day time.Time) (mm.Status, error) {
	facts, _, err := s.facts(ctx, profileID)
	if err != nil {
		return "", err
	}
	return entitlement.DeriveStatus(facts, day), nil
}

// Overview gathers status, current role, outstanding documents and teams.
func (s *Service) Overview(ctx context.Context, profileID id.ProfileID) (*Overview, error) {
	facts, profile, err := s.facts(ctx, profileID)
	if err != nil {
		return nil, err
	}
	account, err := s.stores.Accounts.FindByID(ctx, profile.AccountID)
	if err != nil {
		return nil, wrapLoad(err, "account")
	}
	teams, err := s.stores.Teams.ActiveMemberships(ctx, profileID)
	if err != nil {
		return nil, wrapLoad(err, "team memberships")
	}
	today := requestcontext.Today(ctx)
	out := &Overview{
		Profile: *profile,
		Account: *account,
		Status:  entitlement.DeriveStatus(facts, today),
		Teams:   teams,
	}
	if current, ok := entitlement.CurrentAssignment(facts.Assignments, today); ok {
		out.Current = &current
		out.DaysLeft = entitlement.DaysUntil(today, current.EndDate)
		out.Pending = entitlement.PendingDocuments(facts.Requirements, current.Role, facts.Consents, today)
	}
	return out, nil
}

// PendingDocuments lists what the profile still has to accept for its
// current role.
func (s *Service) PendingDocuments(ctx context.Context, profileID id.ProfileID) ([]cm.PendingDocument, error) {
	facts, _, err := s.facts(ctx, profileID)
	if err != nil {
		return nil, err
	}
	today := requestcontext.Today(ctx)
	current, ok := entitlement.CurrentAssignment(facts.Assignments, today)
	if !ok {
		return nil, nil
	}
	return entitlement.PendingDocuments(facts.Requirements, current.Role, facts.Consents, today), nil
}

// Member describes a profile for access provisioning.
func (s *Service) Member(ctx context.Context, profileID id.ProfileID) (am.Member, error) {
	facts, profile, err := s.facts(ctx, profileID)
	if err != nil {
		return am.Member{}, err
	}
	account, err := s.stores.Accounts.FindByID(ctx, profile.AccountID)
	if err != nil {
		return am.Member{}, wrapLoad(err, "account")
	}
	teams, err := s.stores.Teams.ActiveMemberships(ctx, profileID)
	if err != nil {
		return am.Member{}, wrapLoad(err, "team memberships")
	}
	today := requestcontext.Today(ctx)
	m := am.Member{
		ProfileID: profileID,
		Email:     account.Email,
		Status:    entitlement.DeriveStatus(facts, today),
	}
	if current, ok := entitlement.CurrentAssignment(facts.Assignments, today); ok {
		m.Role = current.Role
	}
	for _, t := range teams {
		m.Teams = append(m.Teams, t.TeamID)
	}
	return m, nil
}

// ProfilesWithRole lists every profile holding an active assignment.
func (s *Service) ProfilesWithRole(ctx context.Context) ([]id.ProfileID, error) {
	ids, err := s.stores.RoleAssignments.ListProfilesWithActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list profiles")
	}
	return ids, nil
}

// IsBoardMember reports whether the account's profile currently holds the
// board role. Accounts without a profile are not board members.
func (s *Service) IsBoardMember(ctx context.Context, accountID id.AccountID) (bool, error) {
	profile, err := s.stores.Profiles.FindByAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapLoad(err, "profile")
	}
	assignments, err := s.stores.RoleAssignments.ListByProfile(ctx, profile.ID)
	if err != nil {
		return false, wrapLoad(err, "role assignments")
	}
	current, ok := entitlement.CurrentAssignment(assignments, requestcontext.Today(ctx))
	return ok && current.Role == mm.RoleBoardMember, nil
}

// Track runs fn in a transaction and reports the status change of each
// listed profile to OnStatusChange before committing.
func (s *Service) Track(ctx context.Context, profileIDs []id.ProfileID, fn func(ctx context.Context) error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		before := make(map[id.ProfileID]mm.Status, len(profileIDs))
		for _, pid := range profileIDs {
			st, err := s.Status(ctx, pid)
			if err != nil {
				return err
			}
			before[pid] = st
		}
		if err := fn(ctx); err != nil {
			return err
		}
		for _, pid := range profileIDs {
			after, err := s.Status(ctx, pid)
			if err != nil {
				return err
			}
			if err := s.OnStatusChange(ctx, mm.StatusChange{ProfileID: pid, Before: before[pid], After: after}); err != nil {
				return err
			}
		}
		return nil
	})
}

// OnStatusChange records a status move and queues the access work it
// implies. Unchanged statuses are ignored.
func (s *Service) OnStatusChange(ctx context.Context, change mm.StatusChange) error {
	if !change.Changed() {
		return nil
	}
	if err := s.emit(ctx, audit.Entry{
		Action:     audit.ActionStatusChanged,
		ProfileID:  change.ProfileID,
		EntityKind: audit.EntityProfile,
		EntityID:   change.ProfileID.String(),
		Extra:      map[string]any{"before": string(change.Before), "after": string(change.After)},
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncStatusChange(string(change.After))
	}
	s.logAudit(ctx, string(audit.ActionStatusChanged),
		"profile_id", change.ProfileID,
		"before", change.Before,
		"after", change.After,
	)

	var kind jobs.Kind
	switch entitlement.AccessTransition(change.Before, change.After) {
	case entitlement.TransitionProvision:
		kind = jobs.KindProvisionRole
	case entitlement.TransitionRevoke:
		kind = jobs.KindRevokeAll
	default:
		return nil
	}
	if err := jobs.Enqueue(ctx, s.tasks, kind, jobs.AccessPayload{ProfileID: change.ProfileID}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue access task")
	}
	return nil
}

func (s *Service) facts(ctx context.Context, profileID id.ProfileID) (entitlement.Facts, *mm.Profile, error) {
	profile, err := s.stores.Profiles.FindByID(ctx, profileID)
	if err != nil {
		return entitlement.Facts{}, nil, wrapLoad(err, "profile")
	}
	var f entitlement.Facts
	if f.Assignments, err = s.stores.RoleAssignments.ListByProfile(ctx, profileID); err != nil {
		return f, nil, wrapLoad(err, "role assignments")
	}
	open, err := s.stores.Applications.FindOpenByAccount(ctx, profile.AccountID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return f, nil, wrapLoad(err, "applications")
	default:
		f.HasOpenApplication = open != nil
	}
	if f.Requirements, err = s.stores.Documents.Requirements(ctx); err != nil {
		return f, nil, wrapLoad(err, "document requirements")
	}
	if f.Consents, err = s.stores.Consents.ListActiveByProfile(ctx, profileID); err != nil {
		return f, nil, wrapLoad(err, "consents")
	}
	return f, profile, nil
}

func wrapLoad(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}
