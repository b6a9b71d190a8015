package pg

import (
	"context"
	"database/sql"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/collab"
)

// --- invitations ---

const invitationColumns = `id, team_id, email, role, status, invited_by, accepted_by, created_at, expires_at, resolved_at, version`

func scanInvitation(row rowScanner) (collab.Invitation, error) {
	var (
		inv        collab.Invitation
		role       string
		status     string
		acceptedBy sql.NullString
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&inv.ID, &inv.TeamID, &inv.Email, &role, &status, &inv.InvitedBy, &acceptedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &resolvedAt, &inv.Version); err != nil {
		return collab.Invitation{}, err
	}
	inv.Role = authz.Role(role)
	inv.Status = collab.InvitationStatus(status)
	inv.AcceptedBy = acceptedBy.String
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	inv.ResolvedAt = timePtr(resolvedAt)
	return inv, nil
}

func (t *Tx) GetInvitation(ctx context.Context, id string) (collab.Invitation, error) {
	inv, err := scanInvitation(t.tx.QueryRowContext(ctx, `select `+invitationColumns+` from invitations where id=$1`, id))
	if err != nil {
		return collab.Invitation{}, notFound(err, "invitation "+id)
	}
	return inv, nil
}

func (t *Tx) ListInvitations(ctx context.Context, teamID string) ([]collab.Invitation, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+invitationColumns+` from invitations where team_id=$1 order by created_at desc, id desc
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []collab.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// InsertInvitation fails with ErrConflict through invitations_pending_email_idx
// when the address already has a pending invitation to the team.
func (t *Tx) InsertInvitation(ctx context.Context, inv collab.Invitation) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into invitations (id, team_id, email, role, status, invited_by, created_at, expires_at, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, 1)
	`, inv.ID, inv.TeamID, inv.Email, string(inv.Role), string(inv.Status), inv.InvitedBy,
		inv.CreatedAt.UTC(), inv.ExpiresAt.UTC())
	return mapError(err, "insert invitation")
}

func (t *Tx) UpdateInvitation(ctx context.Context, inv collab.Invitation) error {
	res, err := t.tx.ExecContext(ctx, `
		update invitations set status=$3, accepted_by=$4, resolved_at=$5, version = version + 1
		where id=$1 and version=$2
	`, inv.ID, inv.Version, string(inv.Status), nullIfEmpty(inv.AcceptedBy), nullTime(inv.ResolvedAt))
	if err != nil {
		return mapError(err, "update invitation")
	}
	return t.expectOne(ctx, res, "invitation "+inv.ID, `select 1 from invitations where id=$1`, inv.ID)
}

// --- assignments ---

const assignmentColumns = `id, team_id, post_id, assignee_id, assigner_id, due_date, notes, status, created_at, updated_at, completed_at, version`

func scanAssignment(row rowScanner) (collab.Assignment, error) {
	var (
		a           collab.Assignment
		status      string
		due         sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TeamID, &a.PostID, &a.AssigneeID, &a.AssignerID, &due, &a.Notes, &status,
		&a.CreatedAt, &a.UpdatedAt, &completedAt, &a.Version); err != nil {
		return collab.Assignment{}, err
	}
	a.Status = collab.AssignmentStatus(status)
	a.DueDate = timePtr(due)
	a.CompletedAt = timePtr(completedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (t *Tx) GetAssignment(ctx context.Context, id string) (collab.Assignment, error) {
	a, err := scanAssignment(t.tx.QueryRowContext(ctx, `select `+assignmentColumns+` from assignments where id=$1`, id))
	if err != nil {
		return collab.Assignment{}, notFound(err, "assignment "+id)
	}
	return a, nil
}

func (t *Tx) ListAssignments(ctx context.Context, f collab.AssignmentFilter) ([]collab.Assignment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+assignmentColumns+` from assignments
		where ($1 = '' or team_id = $1)
		  and ($2 = '' or assignee_id = $2)
		  and ($3 = '' or post_id = $3)
		order by created_at desc, id desc
	`, f.TeamID, f.AssigneeID, f.PostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []collab.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (t *Tx) InsertAssignment(ctx context.Context, a collab.Assignment) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into assignments (id, team_id, post_id, assignee_id, assigner_id, due_date, notes, status, created_at, updated_at, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`, a.ID, a.TeamID, a.PostID, a.AssigneeID, a.AssignerID, nullTime(a.DueDate), a.Notes, string(a.Status),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return mapError(err, "insert assignment")
}

func (t *Tx) UpdateAssignment(ctx context.Context, a collab.Assignment) error {
	res, err := t.tx.ExecContext(ctx, `
		update assignments set status=$3, updated_at=$4, completed_at=$5, version = version + 1
		where id=$1 and version=$2
	`, a.ID, a.Version, string(a.Status), a.UpdatedAt.UTC(), nullTime(a.CompletedAt))
	if err != nil {
		return mapError(err, "update assignment")
	}
	return t.expectOne(ctx, res, "assignment "+a.ID, `select 1 from assignments where id=$1`, a.ID)
}

// --- approvals ---

const approvalColumns = `id, team_id, post_id, requester_id, status, approver_id, feedback, created_at, resolved_at, version`

func scanApproval(row rowScanner) (collab.Approval, error) {
	var (
		a          collab.Approval
		status     string
		approverID sql.NullString
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TeamID, &a.PostID, &a.RequesterID, &status, &approverID, &a.Feedback,
		&a.CreatedAt, &resolvedAt, &a.Version); err != nil {
		return collab.Approval{}, err
	}
	a.Status = collab.ApprovalStatus(status)
	a.ApproverID = approverID.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.ResolvedAt = timePtr(resolvedAt)
	return a, nil
}

func (t *Tx) GetApproval(ctx context.Context, id string) (collab.Approval, error) {
	a, err := scanApproval(t.tx.QueryRowContext(ctx, `select `+approvalColumns+` from approvals where id=$1`, id))
	if err != nil {
		return collab.Approval{}, notFound(err, "approval "+id)
	}
	return a, nil
}

func (t *Tx) ListApprovals(ctx context.Context, f collab.ApprovalFilter) ([]collab.Approval, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+approvalColumns+` from approvals
		where ($1 = '' or team_id = $1)
		  and ($2 = '' or post_id = $2)
		  and ($3 = '' or status = $3)
		order by created_at desc, id desc
	`, f.TeamID, f.PostID, string(f.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []collab.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// InsertApproval fails with ErrConflict through approvals_pending_post_idx.
func (t *Tx) InsertApproval(ctx context.Context, a collab.Approval) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into approvals (id, team_id, post_id, requester_id, status, feedback, created_at, version)
		values ($1, $2, $3, $4, $5, $6, $7, 1)
	`, a.ID, a.TeamID, a.PostID, a.RequesterID, string(a.Status), a.Feedback, a.CreatedAt.UTC())
	return mapError(err, "insert approval")
}

func (t *Tx) UpdateApproval(ctx context.Context, a collab.Approval) error {
	res, err := t.tx.ExecContext(ctx, `
		update approvals set status=$3, approver_id=$4, feedback=$5, resolved_at=$6, version = version + 1
		where id=$1 and version=$2
	`, a.ID, a.Version, string(a.Status), nullIfEmpty(a.ApproverID), a.Feedback, nullTime(a.ResolvedAt))
	if err != nil {
		return mapError(err, "update approval")
	}
	return t.expectOne(ctx, res, "approval "+a.ID, `select 1 from approvals where id=$1`, a.ID)
}
