package storage

import (
	"context"
	"slices"
	"strings"
	"time"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type AccountStore struct{ db *DB }

func (s *AccountStore) FindByID(ctx context.Context, accountID id.AccountID) (*mm.Account, error) {
	return query(s.db, ctx, func(t *tables) (*mm.Account, error) {
		a, ok := t.accounts[accountID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &a, nil
	})
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*mm.Account, error) {
	return query(s.db, ctx, func(t *tables) (*mm.Account, error) {
		for _, a := range t.accounts {
			if strings.EqualFold(a.Email, email) {
				return &a, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

func (s *AccountStore) Save(ctx context.Context, account *mm.Account) error {
	return s.db.with(ctx, func(t *tables) error {
		for _, other := range t.accounts {
			if other.ID != account.ID && strings.EqualFold(other.Email, account.Email) {
				return sentinel.ErrConflict
			}
		}
		t.accounts[account.ID] = *account
		return nil
	})
}

type ProfileStore struct{ db *DB }

func (s *ProfileStore) FindByID(ctx context.Context, profileID id.ProfileID) (*mm.Profile, error) {
	return query(s.db, ctx, func(t *tables) (*mm.Profile, error) {
		p, ok := t.profiles[profileID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &p, nil
	})
}

func (s *ProfileStore) FindByAccount(ctx context.Context, accountID id.AccountID) (*mm.Profile, error) {
	return query(s.db, ctx, func(t *tables) (*mm.Profile, error) {
		for _, p := range t.profiles {
			if p.AccountID == accountID {
				return &p, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

// Save upserts a profile; one profile per account.
func (s *ProfileStore) Save(ctx context.Context, profile *mm.Profile) error {
	return s.db.with(ctx, func(t *tables) error {
		for _, other := range t.profiles {
			if other.ID != profile.ID && other.AccountID == profile.AccountID {
				return sentinel.ErrConflict
			}
		}
		t.profiles[profile.ID] = *profile
		return nil
	})
}

func (s *ProfileStore) ListIDs(ctx context.Context) ([]id.ProfileID, error) {
	return query(s.db, ctx, func(t *tables) ([]id.ProfileID, error) {
		out := make([]id.ProfileID, 0, len(t.profiles))
		for pid := range t.profiles {
			out = append(out, pid)
		}
		slices.SortFunc(out, func(a, b id.ProfileID) int { return strings.Compare(a.String(), b.String()) })
		return out, nil
	})
}

type RoleAssignmentStore struct{ db *DB }

func (s *RoleAssignmentStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.RoleAssignment, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.RoleAssignment, error) {
		return s.filter(t, func(ra mm.RoleAssignment) bool { return ra.ProfileID == profileID }), nil
	})
}

func (s *RoleAssignmentStore) Save(ctx context.Context, ra *mm.RoleAssignment) error {
	if err := ra.Validate(); err != nil {
		return err
	}
	return s.db.with(ctx, func(t *tables) error {
		t.roleAssignments[ra.ID] = *ra
		return nil
	})
}

// DeactivateExpired flips every active assignment that ended before today in
// one pass and returns the affected rows.
func (s *RoleAssignmentStore) DeactivateExpired(ctx context.Context, today, now time.Time) ([]mm.RoleAssignment, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.RoleAssignment, error) {
		expired := s.filter(t, func(ra mm.RoleAssignment) bool { return ra.IsActive && ra.EndDate.Before(today) })
		for i := range expired {
			expired[i].ApplyDeactivation(now, "")
			t.roleAssignments[expired[i].ID] = expired[i]
		}
		return expired, nil
	})
}

// ListActiveEndingOn returns active assignments whose window closes on day.
func (s *RoleAssignmentStore) ListActiveEndingOn(ctx context.Context, day time.Time) ([]mm.RoleAssignment, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.RoleAssignment, error) {
		return s.filter(t, func(ra mm.RoleAssignment) bool { return ra.IsActive && ra.EndDate.Equal(day) }), nil
	})
}

// DeactivateByProfile turns off every active assignment of a profile.
// removed marks the rows as a board removal.
func (s *RoleAssignmentStore) DeactivateByProfile(ctx context.Context, profileID id.ProfileID, note string, removed bool, now time.Time) ([]mm.RoleAssignment, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.RoleAssignment, error) {
		active := s.filter(t, func(ra mm.RoleAssignment) bool { return ra.ProfileID == profileID && ra.IsActive })
		for i := range active {
			if removed {
				active[i].ApplyRemoval(now, note)
			} else {
				active[i].ApplyDeactivation(now, note)
			}
			t.roleAssignments[active[i].ID] = active[i]
		}
		return active, nil
	})
}

// ListProfilesWithActive returns profiles holding at least one active assignment.
func (s *RoleAssignmentStore) ListProfilesWithActive(ctx context.Context) ([]id.ProfileID, error) {
	return query(s.db, ctx, func(t *tables) ([]id.ProfileID, error) {
		seen := map[id.ProfileID]bool{}
		var out []id.ProfileID
		for _, ra := range s.filter(t, func(ra mm.RoleAssignment) bool { return ra.IsActive }) {
			if !seen[ra.ProfileID] {
				seen[ra.ProfileID] = true
				out = append(out, ra.ProfileID)
			}
		}
		return out, nil
	})
}

func (s *RoleAssignmentStore) filter(t *tables, keep func(mm.RoleAssignment) bool) []mm.RoleAssignment {
	var out []mm.RoleAssignment
	for _, ra := range t.roleAssignments {
		if keep(ra) {
			out = append(out, ra)
		}
	}
	slices.SortFunc(out, func(a, b mm.RoleAssignment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

type TeamStore struct{ db *DB }

func (s *TeamStore) FindTeam(ctx context.Context, teamID id.TeamID) (*mm.Team, error) {
	return query(s.db, ctx, func(t *tables) (*mm.Team, error) {
		team, ok := t.teams[teamID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &team, nil
	})
}

func (s *TeamStore) FindTeamByName(ctx context.Context, name string) (*mm.Team, error) {
	return query(s.db, ctx, func(t *tables) (*mm.Team, error) {
		for _, team := range t.teams {
			if strings.EqualFold(team.Name, name) {
				return &team, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

func (s *TeamStore) SaveTeam(ctx context.Context, team *mm.Team) error {
	return s.db.with(ctx, func(t *tables) error {
		t.teams[team.ID] = *team
		return nil
	})
}

func (s *TeamStore) ListMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.TeamMembership, error) {
		return s.filter(t, func(m mm.TeamMembership) bool { return m.ProfileID == profileID }), nil
	})
}

func (s *TeamStore) ActiveMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.TeamMembership, error) {
		return s.filter(t, func(m mm.TeamMembership) bool { return m.ProfileID == profileID && m.IsActive }), nil
	})
}

func (s *TeamStore) FindActiveMembership(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) (*mm.TeamMembership, error) {
	return query(s.db, ctx, func(t *tables) (*mm.TeamMembership, error) {
		found := s.filter(t, func(m mm.TeamMembership) bool {
			return m.ProfileID == profileID && m.TeamID == teamID && m.IsActive
		})
		if len(found) == 0 {
			return nil, sentinel.ErrNotFound
		}
		return &found[0], nil
	})
}

func (s *TeamStore) SaveMembership(ctx context.Context, m *mm.TeamMembership) error {
	return s.db.with(ctx, func(t *tables) error {
		t.memberships[m.ID] = *m
		return nil
	})
}

func (s *TeamStore) DeactivateMemberships(ctx context.Context, profileID id.ProfileID, now time.Time) (int, error) {
	return query(s.db, ctx, func(t *tables) (int, error) {
		active := s.filter(t, func(m mm.TeamMembership) bool { return m.ProfileID == profileID && m.IsActive })
		for i := range active {
			active[i].ApplyLeave(now)
			t.memberships[active[i].ID] = active[i]
		}
		return len(active), nil
	})
}

func (s *TeamStore) filter(t *tables, keep func(mm.TeamMembership) bool) []mm.TeamMembership {
	var out []mm.TeamMembership
	for _, m := range t.memberships {
		if keep(m) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b mm.TeamMembership) int { return a.JoinedAt.Compare(b.JoinedAt) })
	return out
}

type TagStore struct{ db *DB }

func (s *TagStore) Add(ctx context.Context, tag mm.ProfileTag) error {
	return s.db.with(ctx, func(t *tables) error {
		t.tags[tagKey{tag.ProfileID, tag.TagID}] = tag
		return nil
	})
}

func (s *TagStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ProfileTag, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.ProfileTag, error) {
		var out []mm.ProfileTag
		for k, tag := range t.tags {
			if k.profile == profileID {
				out = append(out, tag)
			}
		}
		slices.SortFunc(out, func(a, b mm.ProfileTag) int { return strings.Compare(a.Name, b.Name) })
		return out, nil
	})
}

func (s *TagStore) DeleteSelfAssignable(ctx context.Context, profileID id.ProfileID) (int, error) {
	return query(s.db, ctx, func(t *tables) (int, error) {
		n := 0
		for k, tag := range t.tags {
			if k.profile == profileID && tag.SelfAssignable {
				delete(t.tags, k)
				n++
			}
		}
		return n, nil
	})
}

type ChangeStore struct{ db *DB }

func (s *ChangeStore) Append(ctx context.Context, rec mm.ChangeRecord) error {
	return s.db.with(ctx, func(t *tables) error {
		rec.ID = t.nextSeq()
		t.changes = append(t.changes, rec)
		return nil
	})
}

func (s *ChangeStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ChangeRecord, error) {
	return query(s.db, ctx, func(t *tables) ([]mm.ChangeRecord, error) {
		var out []mm.ChangeRecord
		for _, c := range t.changes {
			if c.ProfileID == profileID {
				out = append(out, c)
			}
		}
		return out, nil
	})
}
