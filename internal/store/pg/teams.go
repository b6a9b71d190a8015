package pg

import (
	"context"
	"database/sql"
	"time"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/collab"
)

const teamColumns = `id, name, description, created_by, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (collab.Team, error) {
	var t collab.Team
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.Version); err != nil {
		return collab.Team{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (t *Tx) GetTeam(ctx context.Context, id string) (collab.Team, error) {
	team, err := scanTeam(t.tx.QueryRowContext(ctx, `select `+teamColumns+` from teams where id=$1`, id))
	if err != nil {
		return collab.Team{}, notFound(err, "team "+id)
	}
	return team, nil
}

func (t *Tx) ListTeamsForUser(ctx context.Context, userID string) ([]collab.Team, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select t.id, t.name, t.description, t.created_by, t.created_at, t.updated_at, t.version
		from teams t
		join team_members m on m.team_id = t.id
		where m.user_id = $1
		order by t.name, t.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []collab.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, team)
	}
	return res, rows.Err()
}

func (t *Tx) InsertTeam(ctx context.Context, team collab.Team) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into teams (id, name, description, created_by, created_at, updated_at, version)
		values ($1, $2, $3, $4, $5, $6, 1)
	`, team.ID, team.Name, team.Description, team.CreatedBy, team.CreatedAt.UTC(), team.UpdatedAt.UTC())
	return mapError(err, "insert team")
}

func (t *Tx) UpdateTeam(ctx context.Context, team collab.Team) error {
	res, err := t.tx.ExecContext(ctx, `
		update teams set name=$3, description=$4, updated_at=$5, version = version + 1
		where id=$1 and version=$2
	`, team.ID, team.Version, team.Name, team.Description, team.UpdatedAt.UTC())
	if err != nil {
		return mapError(err, "update team")
	}
	return t.expectOne(ctx, res, "team "+team.ID, `select 1 from teams where id=$1`, team.ID)
}

func (t *Tx) TouchTeam(ctx context.Context, id string, version int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		update teams set updated_at=$3, version = version + 1
		where id=$1 and version=$2
	`, id, version, at.UTC())
	if err != nil {
		return mapError(err, "touch team")
	}
	return t.expectOne(ctx, res, "team "+id, `select 1 from teams where id=$1`, id)
}

// DeleteTeam relies on on-delete-cascade foreign keys for the dependent rows.
func (t *Tx) DeleteTeam(ctx context.Context, id string, version int64) error {
	res, err := t.tx.ExecContext(ctx, `delete from teams where id=$1 and version=$2`, id, version)
	if err != nil {
		return mapError(err, "delete team")
	}
	return t.expectOne(ctx, res, "team "+id, `select 1 from teams where id=$1`, id)
}

// --- memberships ---

const memberColumns = `team_id, user_id, email, role, joined_at, version`

func scanMembership(row rowScanner) (collab.Membership, error) {
	var (
		m     collab.Membership
		email sql.NullString
		role  string
	)
	if err := row.Scan(&m.TeamID, &m.UserID, &email, &role, &m.JoinedAt, &m.Version); err != nil {
		return collab.Membership{}, err
	}
	m.Email = email.String
	m.Role = authz.Role(role)
	m.JoinedAt = m.JoinedAt.UTC()
	return m, nil
}

func (t *Tx) GetMembership(ctx context.Context, teamID, userID string) (collab.Membership, error) {
	m, err := scanMembership(t.tx.QueryRowContext(ctx, `
		select `+memberColumns+` from team_members where team_id=$1 and user_id=$2
	`, teamID, userID))
	if err != nil {
		return collab.Membership{}, notFound(err, "member "+userID+" of team "+teamID)
	}
	return m, nil
}

func (t *Tx) ListMemberships(ctx context.Context, teamID string) ([]collab.Membership, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+memberColumns+` from team_members where team_id=$1 order by joined_at, user_id
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []collab.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (t *Tx) InsertMembership(ctx context.Context, m collab.Membership) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into team_members (team_id, user_id, email, role, joined_at, version)
		values ($1, $2, $3, $4, $5, 1)
	`, m.TeamID, m.UserID, nullIfEmpty(m.Email), string(m.Role), m.JoinedAt.UTC())
	return mapError(err, "insert membership")
}

func (t *Tx) UpdateMembership(ctx context.Context, m collab.Membership) error {
	res, err := t.tx.ExecContext(ctx, `
		update team_members set role=$4, version = version + 1
		where team_id=$1 and user_id=$2 and version=$3
	`, m.TeamID, m.UserID, m.Version, string(m.Role))
	if err != nil {
		return mapError(err, "update membership")
	}
	return t.expectOne(ctx, res, "member "+m.UserID, `select 1 from team_members where team_id=$1 and user_id=$2`, m.TeamID, m.UserID)
}

func (t *Tx) DeleteMembership(ctx context.Context, m collab.Membership) error {
	res, err := t.tx.ExecContext(ctx, `
		delete from team_members where team_id=$1 and user_id=$2 and version=$3
	`, m.TeamID, m.UserID, m.Version)
	if err != nil {
		return mapError(err, "delete membership")
	}
	return t.expectOne(ctx, res, "member "+m.UserID, `select 1 from team_members where team_id=$1 and user_id=$2`, m.TeamID, m.UserID)
}
