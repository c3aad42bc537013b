package service

import (
	"context"
	"errors"
	"strings"

	am "membership/internal/access/models"
	mm "membership/internal/membership/models"
	"membership/internal/platform/config"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/sentinel"
	"membership/pkg/platform/tx"
	"membership/pkg/requestcontext"
)

// RuleStore is the write side of the access configuration.
type RuleStore interface {
	FindResourceByKey(ctx context.Context, key string) (*am.Resource, error)
	SaveResource(ctx context.Context, res *am.Resource) error
	SaveRoleRule(ctx context.Context, rule *am.RoleRule) error
	SaveTeamRule(ctx context.Context, rule *am.TeamRule) error
}

type TeamStore interface {
	FindTeamByName(ctx context.Context, name string) (*mm.Team, error)
	SaveTeam(ctx context.Context, team *mm.Team) error
}

// SeedResult counts what a rule file loaded.
type SeedResult struct {
	Resources    int
	RoleRules    int
	TeamRules    int
	TeamsCreated int
}

// SeedRules loads a rule file in one transaction. Resources are matched by
// key, so loading the same file twice changes nothing. Teams named by a rule
// are created when missing.
func SeedRules(ctx context.Context, runner tx.Runner, rules RuleStore, teams TeamStore, file config.AccessRules) (SeedResult, error) {
	var res SeedResult
	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		res = SeedResult{}
		byKey := make(map[string]id.ResourceID, len(file.Resources))
		for _, spec := range file.Resources {
			r, err := rules.FindResourceByKey(ctx, spec.Key)
			switch {
			case errors.Is(err, sentinel.ErrNotFound):
				r = &am.Resource{ID: id.New[id.ResourceID](), Key: spec.Key}
			case err != nil:
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load resource "+spec.Key)
			}
			r.ExternalID = spec.ExternalID
			r.Name = spec.Name
			r.Type = spec.Type
			r.IsActive = !spec.Inactive
			if err := rules.SaveResource(ctx, r); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save resource "+spec.Key)
			}
			byKey[spec.Key] = r.ID
			res.Resources++
		}

		for _, spec := range file.RoleRules {
			role := mm.Role(spec.Role)
			if !role.IsValid() {
				return dErrors.New(dErrors.CodeValidation, "unknown role: "+spec.Role)
			}
			level, err := am.ParseLevel(spec.Level)
			if err != nil {
				return err
			}
			rule := &am.RoleRule{ID: id.New[id.RuleID](), Role: role, ResourceID: byKey[spec.Resource], Level: level, IsActive: true}
			if err := rules.SaveRoleRule(ctx, rule); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save role rule")
			}
			res.RoleRules++
		}

		for _, spec := range file.TeamRules {
			level, err := am.ParseLevel(spec.Level)
			if err != nil {
				return err
			}
			teamID, created, err := ensureTeam(ctx, teams, spec.Team)
			if err != nil {
				return err
			}
			if created {
				res.TeamsCreated++
			}
			rule := &am.TeamRule{ID: id.New[id.RuleID](), TeamID: teamID, ResourceID: byKey[spec.Resource], Level: level, IsActive: true}
			if err := rules.SaveTeamRule(ctx, rule); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save team rule")
			}
			res.TeamRules++
		}
		return nil
	})
	return res, err
}

func ensureTeam(ctx context.Context, teams TeamStore, name string) (id.TeamID, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return id.TeamID{}, false, dErrors.New(dErrors.CodeValidation, "team rule needs a team name")
	}
	team, err := teams.FindTeamByName(ctx, name)
	switch {
	case err == nil:
		return team.ID, false, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return id.TeamID{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load team "+name)
	}
	team = &mm.Team{ID: id.New[id.TeamID](), Name: name, IsActive: true, CreatedAt: requestcontext.Now(ctx)}
	if err := teams.SaveTeam(ctx, team); err != nil {
		return id.TeamID{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save team "+name)
	}
	return team.ID, true, nil
}
