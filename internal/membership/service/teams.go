package service

import (
	"context"
	"errors"
	"strings"

	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/requestcontext"
)

// CreateTeam adds a team. Names are unique.
func (s *Service) CreateTeam(ctx context.Context, name, description string) (*mm.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "team name is required")
	}
	var team *mm.Team
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.stores.Teams.FindTeamByName(ctx, name)
		switch {
		case err == nil:
			return dErrors.New(dErrors.CodeConflict, "team already exists")
		case !errors.Is(err, sentinel.ErrNotFound):
			return wrapLoad(err, "team")
		}
		team = &mm.Team{
			ID:          id.New[id.TeamID](),
			Name:        name,
			Description: description,
			IsActive:    true,
			CreatedAt:   requestcontext.Now(ctx),
		}
		if err := s.stores.Teams.SaveTeam(ctx, team); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save team")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// JoinTeam adds a profile to a team. An Active member gets the team's
// resources provisioned.
func (s *Service) JoinTeam(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) (*mm.TeamMembership, error) {
	var membership *mm.TeamMembership
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		team, err := s.stores.Teams.FindTeam(ctx, teamID)
		if err != nil {
			return wrapLoad(err, "team")
		}
		if !team.IsActive {
			return dErrors.New(dErrors.CodeInvalidTransition, "team is inactive")
		}
		_, err = s.stores.Teams.FindActiveMembership(ctx, profileID, teamID)
		switch {
		case err == nil:
			return dErrors.New(dErrors.CodeConflict, "already a member of this team")
		case !errors.Is(err, sentinel.ErrNotFound):
			return wrapLoad(err, "team membership")
		}
		status, err := s.Status(ctx, profileID)
		if err != nil {
			return err
		}

		membership = &mm.TeamMembership{
			ID:        id.New[id.TeamMembershipID](),
			TeamID:    teamID,
			ProfileID: profileID,
			JoinedAt:  requestcontext.Now(ctx),
			IsActive:  true,
		}
		if err := s.stores.Teams.SaveMembership(ctx, membership); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save team membership")
		}
		if err := s.emitTeam(ctx, audit.ActionTeamJoined, membership); err != nil {
			return err
		}
		if status != mm.StatusActive {
			return nil
		}
		return s.enqueueTeam(ctx, jobs.KindProvisionTeam, membership)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncTeamChange("join")
	}
	s.logAudit(ctx, string(audit.ActionTeamJoined), "profile_id", profileID, "team_id", teamID)
	return membership, nil
}

// LeaveTeam ends a team membership and revokes what it granted. The row is
// kept for history.
func (s *Service) LeaveTeam(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		membership, err := s.stores.Teams.FindActiveMembership(ctx, profileID, teamID)
		if err != nil {
			return wrapLoad(err, "team membership")
		}
		membership.ApplyLeave(requestcontext.Now(ctx))
		if err := s.stores.Teams.SaveMembership(ctx, membership); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save team membership")
		}
		if err := s.emitTeam(ctx, audit.ActionTeamLeft, membership); err != nil {
			return err
		}
		return s.enqueueTeam(ctx, jobs.KindRevokeTeam, membership)
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncTeamChange("leave")
	}
	s.logAudit(ctx, string(audit.ActionTeamLeft), "profile_id", profileID, "team_id", teamID)
	return nil
}

// TeamHistory lists every membership the profile ever held.
func (s *Service) TeamHistory(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error) {
	ms, err := s.stores.Teams.ListMemberships(ctx, profileID)
	if err != nil {
		return nil, wrapLoad(err, "team memberships")
	}
	return ms, nil
}

func (s *Service) emitTeam(ctx context.Context, action audit.Action, m *mm.TeamMembership) error {
	return s.emit(ctx, audit.Entry{
		Action:     action,
		ProfileID:  m.ProfileID,
		EntityKind: audit.EntityTeamMembership,
		EntityID:   m.ID.String(),
		Extra:      map[string]any{"team_id": m.TeamID.String()},
	})
}

func (s *Service) enqueueTeam(ctx context.Context, kind jobs.Kind, m *mm.TeamMembership) error {
	err := jobs.Enqueue(ctx, s.tasks, kind, jobs.AccessPayload{ProfileID: m.ProfileID, TeamID: m.TeamID})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue access task")
	}
	return nil
}
