package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
)

type AccountStore struct{ base }

const accountColumns = `id, email, display_name, preferred_language, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*mm.Account, error) {
	var a mm.Account
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PreferredLanguage, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountStore) FindByID(ctx context.Context, accountID id.AccountID) (*mm.Account, error) {
	a, err := scanAccount(s.execer(ctx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	return a, translate(err, "find account")
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*mm.Account, error) {
	a, err := scanAccount(s.execer(ctx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email))
	return a, translate(err, "find account by email")
}

func (s *AccountStore) Save(ctx context.Context, a *mm.Account) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			preferred_language = EXCLUDED.preferred_language,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.Email, a.DisplayName, a.PreferredLanguage, a.CreatedAt, a.UpdatedAt)
	return translate(err, "save account")
}

type ProfileStore struct{ base }

const profileColumns = `id, account_id, legal_name, country_of_residence, created_at, updated_at, anonymized_at`

func scanProfile(row interface{ Scan(...any) error }) (*mm.Profile, error) {
	var p mm.Profile
	if err := row.Scan(&p.ID, &p.AccountID, &p.LegalName, &p.CountryOfResidence, &p.CreatedAt, &p.UpdatedAt, &p.AnonymizedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProfileStore) FindByID(ctx context.Context, profileID id.ProfileID) (*mm.Profile, error) {
	p, err := scanProfile(s.execer(ctx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID))
	return p, translate(err, "find profile")
}

func (s *ProfileStore) FindByAccount(ctx context.Context, accountID id.AccountID) (*mm.Profile, error) {
	p, err := scanProfile(s.execer(ctx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE account_id = $1`, accountID))
	return p, translate(err, "find profile by account")
}

func (s *ProfileStore) Save(ctx context.Context, p *mm.Profile) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			legal_name = EXCLUDED.legal_name,
			country_of_residence = EXCLUDED.country_of_residence,
			updated_at = EXCLUDED.updated_at,
			anonymized_at = EXCLUDED.anonymized_at
	`, p.ID, p.AccountID, p.LegalName, p.CountryOfResidence, p.CreatedAt, p.UpdatedAt, p.AnonymizedAt)
	return translate(err, "save profile")
}

func (s *ProfileStore) ListIDs(ctx context.Context) ([]id.ProfileID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT id FROM profiles ORDER BY id`)
	return collect(rows, err, "list profiles", scanProfileID)
}

func scanProfileID(rows *sql.Rows) (id.ProfileID, error) {
	var pid id.ProfileID
	err := rows.Scan(&pid)
	return pid, err
}

type RoleAssignmentStore struct{ base }

const roleColumns = `id, profile_id, role, start_date, end_date, is_active, removed, notes, assigned_by, created_at, deactivated_at`

func scanRole(rows *sql.Rows) (mm.RoleAssignment, error) {
	var ra mm.RoleAssignment
	var role string
	err := rows.Scan(&ra.ID, &ra.ProfileID, &role, &ra.StartDate, &ra.EndDate, &ra.IsActive, &ra.Removed,
		&ra.Notes, &ra.AssignedBy, &ra.CreatedAt, &ra.DeactivatedAt)
	ra.Role = mm.Role(role)
	return ra, err
}

func (s *RoleAssignmentStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.RoleAssignment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+roleColumns+` FROM role_assignments WHERE profile_id = $1 ORDER BY created_at, id`, profileID)
	return collect(rows, err, "list role assignments", scanRole)
}

func (s *RoleAssignmentStore) Save(ctx context.Context, ra *mm.RoleAssignment) error {
	if err := ra.Validate(); err != nil {
		return err
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO role_assignments (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			end_date = EXCLUDED.end_date,
			is_active = EXCLUDED.is_active,
			removed = EXCLUDED.removed,
			notes = EXCLUDED.notes,
			deactivated_at = EXCLUDED.deactivated_at
	`, ra.ID, ra.ProfileID, string(ra.Role), ra.StartDate, ra.EndDate, ra.IsActive, ra.Removed,
		ra.Notes, ra.AssignedBy, ra.CreatedAt, ra.DeactivatedAt)
	return translate(err, "save role assignment")
}

// DeactivateExpired is a single conditional UPDATE so concurrent sweeps
// cannot both claim a row.
func (s *RoleAssignmentStore) DeactivateExpired(ctx context.Context, today, now time.Time) ([]mm.RoleAssignment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		UPDATE role_assignments SET is_active = FALSE, deactivated_at = $2
		WHERE is_active AND end_date < $1
		RETURNING `+roleColumns, today, now)
	return collect(rows, err, "deactivate expired role assignments", scanRole)
}

func (s *RoleAssignmentStore) ListActiveEndingOn(ctx context.Context, day time.Time) ([]mm.RoleAssignment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+roleColumns+` FROM role_assignments WHERE is_active AND end_date = $1 ORDER BY created_at, id`, day)
	return collect(rows, err, "list role assignments ending", scanRole)
}

func (s *RoleAssignmentStore) DeactivateByProfile(ctx context.Context, profileID id.ProfileID, note string, removed bool, now time.Time) ([]mm.RoleAssignment, error) {
	if removed {
		note = "Removed: " + note
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		UPDATE role_assignments SET
			is_active = FALSE,
			removed = removed OR $3,
			deactivated_at = $4,
			notes = CASE WHEN $2 = '' THEN notes WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END
		WHERE profile_id = $1 AND is_active
		RETURNING `+roleColumns, profileID, note, removed, now)
	return collect(rows, err, "deactivate role assignments", scanRole)
}

func (s *RoleAssignmentStore) ListProfilesWithActive(ctx context.Context) ([]id.ProfileID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT DISTINCT profile_id FROM role_assignments WHERE is_active ORDER BY profile_id`)
	return collect(rows, err, "list profiles with active roles", scanProfileID)
}

type TeamStore struct{ base }

func scanTeam(row interface{ Scan(...any) error }) (*mm.Team, error) {
	var t mm.Team
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TeamStore) FindTeam(ctx context.Context, teamID id.TeamID) (*mm.Team, error) {
	t, err := scanTeam(s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, name, description, is_active, created_at FROM teams WHERE id = $1`, teamID))
	return t, translate(err, "find team")
}

func (s *TeamStore) FindTeamByName(ctx context.Context, name string) (*mm.Team, error) {
	t, err := scanTeam(s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, name, description, is_active, created_at FROM teams WHERE lower(name) = lower($1)`, name))
	return t, translate(err, "find team by name")
}

func (s *TeamStore) SaveTeam(ctx context.Context, t *mm.Team) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO teams (id, name, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, is_active = EXCLUDED.is_active
	`, t.ID, t.Name, t.Description, t.IsActive, t.CreatedAt)
	return translate(err, "save team")
}

const membershipColumns = `id, team_id, profile_id, joined_at, left_at, is_active`

func scanMembership(rows *sql.Rows) (mm.TeamMembership, error) {
	var m mm.TeamMembership
	err := rows.Scan(&m.ID, &m.TeamID, &m.ProfileID, &m.JoinedAt, &m.LeftAt, &m.IsActive)
	return m, err
}

func (s *TeamStore) ListMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM team_memberships WHERE profile_id = $1 ORDER BY joined_at`, profileID)
	return collect(rows, err, "list team memberships", scanMembership)
}

func (s *TeamStore) ActiveMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM team_memberships WHERE profile_id = $1 AND is_active ORDER BY joined_at`, profileID)
	return collect(rows, err, "list active team memberships", scanMembership)
}

func (s *TeamStore) FindActiveMembership(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) (*mm.TeamMembership, error) {
	var m mm.TeamMembership
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM team_memberships WHERE profile_id = $1 AND team_id = $2 AND is_active`, profileID, teamID).
		Scan(&m.ID, &m.TeamID, &m.ProfileID, &m.JoinedAt, &m.LeftAt, &m.IsActive)
	if err != nil {
		return nil, translate(err, "find team membership")
	}
	return &m, nil
}

func (s *TeamStore) SaveMembership(ctx context.Context, m *mm.TeamMembership) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO team_memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET left_at = EXCLUDED.left_at, is_active = EXCLUDED.is_active
	`, m.ID, m.TeamID, m.ProfileID, m.JoinedAt, m.LeftAt, m.IsActive)
	return translate(err, "save team membership")
}

func (s *TeamStore) DeactivateMemberships(ctx context.Context, profileID id.ProfileID, now time.Time) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE team_memberships SET is_active = FALSE, left_at = $2 WHERE profile_id = $1 AND is_active`, profileID, now)
	return affected(res, err, "deactivate team memberships")
}

type TagStore struct{ base }

func (s *TagStore) Add(ctx context.Context, tag mm.ProfileTag) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO profile_tags (profile_id, tag_id, name, self_assignable, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id, tag_id) DO NOTHING
	`, tag.ProfileID, tag.TagID, tag.Name, tag.SelfAssignable, tag.CreatedAt)
	return translate(err, "add profile tag")
}

func (s *TagStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ProfileTag, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT profile_id, tag_id, name, self_assignable, created_at
		FROM profile_tags WHERE profile_id = $1 ORDER BY name
	`, profileID)
	return collect(rows, err, "list profile tags", func(rows *sql.Rows) (mm.ProfileTag, error) {
		var t mm.ProfileTag
		err := rows.Scan(&t.ProfileID, &t.TagID, &t.Name, &t.SelfAssignable, &t.CreatedAt)
		return t, err
	})
}

func (s *TagStore) DeleteSelfAssignable(ctx context.Context, profileID id.ProfileID) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM profile_tags WHERE profile_id = $1 AND self_assignable`, profileID)
	return affected(res, err, "delete self-assignable tags")
}

type ChangeStore struct{ base }

func (s *ChangeStore) Append(ctx context.Context, rec mm.ChangeRecord) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO change_history (profile_id, entity_kind, entity_id, fields, actor_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ProfileID, rec.EntityKind, rec.EntityID, pq.Array(rec.Fields), rec.ActorID, rec.ChangedAt)
	return translate(err, "append change record")
}

func (s *ChangeStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ChangeRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, profile_id, entity_kind, entity_id, fields, actor_id, changed_at
		FROM change_history WHERE profile_id = $1 ORDER BY id
	`, profileID)
	return collect(rows, err, "list change history", func(rows *sql.Rows) (mm.ChangeRecord, error) {
		var c mm.ChangeRecord
		err := rows.Scan(&c.ID, &c.ProfileID, &c.EntityKind, &c.EntityID, pq.Array(&c.Fields), &c.ActorID, &c.ChangedAt)
		return c, err
	})
}

func affected(res sql.Result, err error, op string) (int, error) {
	if err != nil {
		return 0, translate(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate(err, op)
	}
	return int(n), nil
}
