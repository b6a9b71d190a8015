package collab

import (
	"context"
	"time"
)

// Store is the transactional source of truth shared by every engine instance.
type Store interface {
	// InTx runs fn in a single transaction. A nil return commits; any error
	// rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and conditional writes available inside a
// transaction.
//
// Update and Delete methods are conditional on the Version carried by the
// argument. They fail with ErrConflict when the stored row has moved on and
// persist Version+1 on success. Insert methods persist Version 1.
type Tx interface {
	GetTeam(ctx context.Context, id string) (Team, error)
	ListTeamsForUser(ctx context.Context, userID string) ([]Team, error)
	InsertTeam(ctx context.Context, t Team) error
	UpdateTeam(ctx context.Context, t Team) error
	// TouchTeam bumps the team version so concurrent membership writes
	// serialise on the aggregate root.
	TouchTeam(ctx context.Context, id string, version int64, at time.Time) error
	// DeleteTeam removes the team and everything it owns.
	DeleteTeam(ctx context.Context, id string, version int64) error

	GetMembership(ctx context.Context, teamID, userID string) (Membership, error)
	ListMemberships(ctx context.Context, teamID string) ([]Membership, error)
	InsertMembership(ctx context.Context, m Membership) error
	UpdateMembership(ctx context.Context, m Membership) error
	DeleteMembership(ctx context.Context, m Membership) error

	GetInvitation(ctx context.Context, id string) (Invitation, error)
	ListInvitations(ctx context.Context, teamID string) ([]Invitation, error)
	InsertInvitation(ctx context.Context, inv Invitation) error
	UpdateInvitation(ctx context.Context, inv Invitation) error

	GetAssignment(ctx context.Context, id string) (Assignment, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error)
	InsertAssignment(ctx context.Context, a Assignment) error
	UpdateAssignment(ctx context.Context, a Assignment) error

	GetApproval(ctx context.Context, id string) (Approval, error)
	ListApprovals(ctx context.Context, f ApprovalFilter) ([]Approval, error)
	// InsertApproval fails with ErrConflict when a pending approval already
	// exists for the same team and post.
	InsertApproval(ctx context.Context, a Approval) error
	UpdateApproval(ctx context.Context, a Approval) error

	// AppendActivity stores rec and returns it with its sequence assigned.
	AppendActivity(ctx context.Context, rec ActivityRecord) (ActivityRecord, error)
	// ListActivity returns up to limit records of teamID ordered newest first,
	// strictly after the position in before when it is non-nil.
	ListActivity(ctx context.Context, teamID string, limit int, before *ActivityCursor) ([]ActivityRecord, error)
}

// AssignmentFilter narrows ListAssignments. Empty fields match everything.
type AssignmentFilter struct {
	TeamID     string
	AssigneeID string
	PostID     string
}

// ApprovalFilter narrows ListApprovals. Empty fields match everything.
type ApprovalFilter struct {
	TeamID string
	PostID string
	Status ApprovalStatus
}
