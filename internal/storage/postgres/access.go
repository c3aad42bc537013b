package postgres

import (
	"context"
	"database/sql"
	"time"

	am "membership/internal/access/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type AccessStore struct{ base }

// Rules loads the whole access configuration.
func (s *AccessStore) Rules(ctx context.Context) (am.Rules, error) {
	var out am.Rules
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT id, key, external_id, name, type, is_active FROM access_resources ORDER BY key`)
	if out.Resources, err = collect(rows, err, "load resources", func(rows *sql.Rows) (am.Resource, error) {
		var r am.Resource
		err := rows.Scan(&r.ID, &r.Key, &r.ExternalID, &r.Name, &r.Type, &r.IsActive)
		return r, err
	}); err != nil {
		return out, err
	}

	rows, err = s.execer(ctx).QueryContext(ctx,
		`SELECT id, role, resource_id, level, is_active FROM access_role_rules ORDER BY role, resource_id`)
	if out.RoleRules, err = collect(rows, err, "load role rules", func(rows *sql.Rows) (am.RoleRule, error) {
		var (
			r           am.RoleRule
			role, level string
		)
		err := rows.Scan(&r.ID, &role, &r.ResourceID, &level, &r.IsActive)
		r.Role, r.Level = mm.Role(role), am.Level(level)
		return r, err
	}); err != nil {
		return out, err
	}

	rows, err = s.execer(ctx).QueryContext(ctx,
		`SELECT id, team_id, resource_id, level, is_active FROM access_team_rules ORDER BY team_id, resource_id`)
	out.TeamRules, err = collect(rows, err, "load team rules", func(rows *sql.Rows) (am.TeamRule, error) {
		var (
			r     am.TeamRule
			level string
		)
		err := rows.Scan(&r.ID, &r.TeamID, &r.ResourceID, &level, &r.IsActive)
		r.Level = am.Level(level)
		return r, err
	})
	return out, err
}

func (s *AccessStore) findResource(ctx context.Context, op, where string, arg any) (*am.Resource, error) {
	var r am.Resource
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, key, external_id, name, type, is_active FROM access_resources WHERE `+where, arg).
		Scan(&r.ID, &r.Key, &r.ExternalID, &r.Name, &r.Type, &r.IsActive)
	if err != nil {
		return nil, translate(err, op)
	}
	return &r, nil
}

func (s *AccessStore) FindResource(ctx context.Context, resourceID id.ResourceID) (*am.Resource, error) {
	return s.findResource(ctx, "find resource", `id = $1`, resourceID)
}

func (s *AccessStore) FindResourceByKey(ctx context.Context, key string) (*am.Resource, error) {
	return s.findResource(ctx, "find resource by key", `key = $1`, key)
}

func (s *AccessStore) SaveResource(ctx context.Context, r *am.Resource) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO access_resources (id, key, external_id, name, type, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id, name = EXCLUDED.name, type = EXCLUDED.type, is_active = EXCLUDED.is_active
	`, r.ID, r.Key, r.ExternalID, r.Name, r.Type, r.IsActive)
	return translate(err, "save resource")
}

// SaveRoleRule keys rules by (role, resource); reloading a rule keeps its ID.
func (s *AccessStore) SaveRoleRule(ctx context.Context, r *am.RoleRule) error {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO access_role_rules (id, role, resource_id, level, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role, resource_id) DO UPDATE SET level = EXCLUDED.level, is_active = EXCLUDED.is_active
		RETURNING id
	`, r.ID, string(r.Role), r.ResourceID, string(r.Level), r.IsActive).Scan(&r.ID)
	return translate(err, "save role rule")
}

func (s *AccessStore) SaveTeamRule(ctx context.Context, r *am.TeamRule) error {
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO access_team_rules (id, team_id, resource_id, level, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, resource_id) DO UPDATE SET level = EXCLUDED.level, is_active = EXCLUDED.is_active
		RETURNING id
	`, r.ID, r.TeamID, r.ResourceID, string(r.Level), r.IsActive).Scan(&r.ID)
	return translate(err, "save team rule")
}

const permissionColumns = `id, profile_id, resource_id, email, level, external_permission_id, provenance, team_id,
	is_active, granted_at, revoked_at`

func scanPermission(rows *sql.Rows) (am.Permission, error) {
	var (
		p                 am.Permission
		level, provenance string
	)
	err := rows.Scan(&p.ID, &p.ProfileID, &p.ResourceID, &p.Email, &level, &p.ExternalPermissionID, &provenance, &p.TeamID,
		&p.IsActive, &p.GrantedAt, &p.RevokedAt)
	p.Level, p.Provenance = am.Level(level), am.Provenance(provenance)
	return p, err
}

func (s *AccessStore) ActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]am.Permission, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+permissionColumns+` FROM access_permissions WHERE profile_id = $1 AND is_active ORDER BY granted_at, id`, profileID)
	return collect(rows, err, "list profile permissions", scanPermission)
}

func (s *AccessStore) ActiveByResource(ctx context.Context, resourceID id.ResourceID) ([]am.Permission, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+permissionColumns+` FROM access_permissions WHERE resource_id = $1 AND is_active ORDER BY granted_at, id`, resourceID)
	return collect(rows, err, "list resource permissions", scanPermission)
}

func (s *AccessStore) InsertPermission(ctx context.Context, p *am.Permission) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO access_permissions (`+permissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.ProfileID, p.ResourceID, p.Email, string(p.Level), p.ExternalPermissionID, string(p.Provenance), p.TeamID,
		p.IsActive, p.GrantedAt, p.RevokedAt)
	return translate(err, "insert permission")
}

func (s *AccessStore) DeactivatePermission(ctx context.Context, permID id.PermissionID, now time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE access_permissions SET is_active = FALSE, revoked_at = $2 WHERE id = $1 AND is_active`, permID, now)
	n, err := affected(res, err, "deactivate permission")
	if err != nil || n == 1 {
		return err
	}
	var exists bool
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM access_permissions WHERE id = $1)`, permID).Scan(&exists); err != nil {
		return translate(err, "deactivate permission")
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

const logColumns = `id, profile_id, resource_id, email, level, action, provenance, team_id, permission_id,
	external_permission_id, status, error_message, retry_count, created_at, updated_at`

func scanLog(rows *sql.Rows) (am.PermissionLog, error) {
	var (
		l                                 am.PermissionLog
		level, action, provenance, status string
	)
	err := rows.Scan(&l.ID, &l.ProfileID, &l.ResourceID, &l.Email, &level, &action, &provenance, &l.TeamID, &l.PermissionID,
		&l.ExternalPermissionID, &status, &l.ErrorMessage, &l.RetryCount, &l.CreatedAt, &l.UpdatedAt)
	l.Level, l.Action, l.Provenance, l.Status = am.Level(level), am.Action(action), am.Provenance(provenance), am.LogStatus(status)
	return l, err
}

func (s *AccessStore) InsertLog(ctx context.Context, l *am.PermissionLog) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO access_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, l.ID, l.ProfileID, l.ResourceID, l.Email, string(l.Level), string(l.Action), string(l.Provenance), l.TeamID, l.PermissionID,
		l.ExternalPermissionID, string(l.Status), l.ErrorMessage, l.RetryCount, l.CreatedAt, l.UpdatedAt)
	return translate(err, "insert access log")
}

func (s *AccessStore) UpdateLog(ctx context.Context, l *am.PermissionLog) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE access_logs SET
			status = $2, error_message = $3, retry_count = $4, permission_id = $5,
			external_permission_id = $6, updated_at = $7
		WHERE id = $1
	`, l.ID, string(l.Status), l.ErrorMessage, l.RetryCount, l.PermissionID, l.ExternalPermissionID, l.UpdatedAt)
	n, err := affected(res, err, "update access log")
	if err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return err
}

func (s *AccessStore) ListRetryable(ctx context.Context, since time.Time, maxRetries int) ([]am.PermissionLog, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+logColumns+` FROM access_logs
		WHERE status IN ('failed', 'retrying') AND created_at >= $1 AND retry_count < $2
		ORDER BY created_at
	`, since, maxRetries)
	return collect(rows, err, "list retryable access logs", scanLog)
}

func (s *AccessStore) ListLogsByProfile(ctx context.Context, profileID id.ProfileID) ([]am.PermissionLog, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+logColumns+` FROM access_logs WHERE profile_id = $1 ORDER BY created_at`, profileID)
	return collect(rows, err, "list access logs", scanLog)
}
