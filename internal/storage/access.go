package storage

import (
	"context"
	"slices"
	"strings"
	"time"

	am "membership/internal/access/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type AccessStore struct{ db *DB }

// Rules loads the whole access configuration.
func (s *AccessStore) Rules(ctx context.Context) (am.Rules, error) {
	return query(s.db, ctx, func(t *tables) (am.Rules, error) {
		var r am.Rules
		for _, res := range t.resources {
			r.Resources = append(r.Resources, res)
		}
		for _, rule := range t.roleRules {
			r.RoleRules = append(r.RoleRules, rule)
		}
		for _, rule := range t.teamRules {
			r.TeamRules = append(r.TeamRules, rule)
		}
		slices.SortFunc(r.Resources, func(a, b am.Resource) int { return strings.Compare(a.Key, b.Key) })
		return r, nil
	})
}

func (s *AccessStore) FindResource(ctx context.Context, resourceID id.ResourceID) (*am.Resource, error) {
	return query(s.db, ctx, func(t *tables) (*am.Resource, error) {
		r, ok := t.resources[resourceID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &r, nil
	})
}

func (s *AccessStore) FindResourceByKey(ctx context.Context, key string) (*am.Resource, error) {
	return query(s.db, ctx, func(t *tables) (*am.Resource, error) {
		for _, r := range t.resources {
			if r.Key == key {
				return &r, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

func (s *AccessStore) SaveResource(ctx context.Context, res *am.Resource) error {
	return s.db.with(ctx, func(t *tables) error {
		t.resources[res.ID] = *res
		return nil
	})
}

// SaveRoleRule keys rules by (role, resource); reloading a rule keeps its ID.
func (s *AccessStore) SaveRoleRule(ctx context.Context, rule *am.RoleRule) error {
	return s.db.with(ctx, func(t *tables) error {
		for rid, other := range t.roleRules {
			if other.Role == rule.Role && other.ResourceID == rule.ResourceID {
				rule.ID = rid
			}
		}
		t.roleRules[rule.ID] = *rule
		return nil
	})
}

func (s *AccessStore) SaveTeamRule(ctx context.Context, rule *am.TeamRule) error {
	return s.db.with(ctx, func(t *tables) error {
		for rid, other := range t.teamRules {
			if other.TeamID == rule.TeamID && other.ResourceID == rule.ResourceID {
				rule.ID = rid
			}
		}
		t.teamRules[rule.ID] = *rule
		return nil
	})
}

func (s *AccessStore) ActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]am.Permission, error) {
	return s.permissions(ctx, func(p am.Permission) bool { return p.ProfileID == profileID && p.IsActive })
}

func (s *AccessStore) ActiveByResource(ctx context.Context, resourceID id.ResourceID) ([]am.Permission, error) {
	return s.permissions(ctx, func(p am.Permission) bool { return p.ResourceID == resourceID && p.IsActive })
}

func (s *AccessStore) InsertPermission(ctx context.Context, p *am.Permission) error {
	return s.db.with(ctx, func(t *tables) error {
		t.permissions[p.ID] = *p
		return nil
	})
}

// DeactivatePermission flips an active permission off. ErrInvalidState means
// it was already inactive.
func (s *AccessStore) DeactivatePermission(ctx context.Context, permID id.PermissionID, now time.Time) error {
	return s.db.with(ctx, func(t *tables) error {
		p, ok := t.permissions[permID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if !p.IsActive {
			return sentinel.ErrInvalidState
		}
		p.IsActive = false
		p.RevokedAt = &now
		t.permissions[permID] = p
		return nil
	})
}

func (s *AccessStore) permissions(ctx context.Context, keep func(am.Permission) bool) ([]am.Permission, error) {
	return query(s.db, ctx, func(t *tables) ([]am.Permission, error) {
		var out []am.Permission
		for _, p := range t.permissions {
			if keep(p) {
				out = append(out, p)
			}
		}
		slices.SortFunc(out, func(a, b am.Permission) int {
			if c := a.GrantedAt.Compare(b.GrantedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID.String(), b.ID.String())
		})
		return out, nil
	})
}

func (s *AccessStore) InsertLog(ctx context.Context, entry *am.PermissionLog) error {
	return s.db.with(ctx, func(t *tables) error {
		if _, exists := t.accessLogs[entry.ID]; exists {
			return sentinel.ErrConflict
		}
		t.accessLogs[entry.ID] = *entry
		return nil
	})
}

// UpdateLog changes the mutable outcome fields of a log entry.
func (s *AccessStore) UpdateLog(ctx context.Context, entry *am.PermissionLog) error {
	return s.db.with(ctx, func(t *tables) error {
		cur, ok := t.accessLogs[entry.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		cur.Status = entry.Status
		cur.ErrorMessage = entry.ErrorMessage
		cur.RetryCount = entry.RetryCount
		cur.PermissionID = entry.PermissionID
		cur.ExternalPermissionID = entry.ExternalPermissionID
		cur.UpdatedAt = entry.UpdatedAt
		t.accessLogs[entry.ID] = cur
		return nil
	})
}

// ListRetryable returns FAILED or RETRYING entries created after since with
// fewer than maxRetries attempts.
func (s *AccessStore) ListRetryable(ctx context.Context, since time.Time, maxRetries int) ([]am.PermissionLog, error) {
	return s.logs(ctx, func(l am.PermissionLog) bool {
		return (l.Status == am.LogFailed || l.Status == am.LogRetrying) && !l.CreatedAt.Before(since) && l.RetryCount < maxRetries
	})
}

func (s *AccessStore) ListLogsByProfile(ctx context.Context, profileID id.ProfileID) ([]am.PermissionLog, error) {
	return s.logs(ctx, func(l am.PermissionLog) bool { return l.ProfileID == profileID })
}

func (s *AccessStore) logs(ctx context.Context, keep func(am.PermissionLog) bool) ([]am.PermissionLog, error) {
	return query(s.db, ctx, func(t *tables) ([]am.PermissionLog, error) {
		var out []am.PermissionLog
		for _, l := range t.accessLogs {
			if keep(l) {
				out = append(out, l)
			}
		}
		slices.SortFunc(out, func(a, b am.PermissionLog) int { return a.CreatedAt.Compare(b.CreatedAt) })
		return out, nil
	})
}
