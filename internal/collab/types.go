package collab

import (
	"time"

	"postdesk.io/internal/authz"
)

// Team is the aggregate root for memberships, invitations, assignments and
// approvals. Version increases on every write to the team or its memberships.
type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// Membership binds a user to a team with one role.
type Membership struct {
	TeamID   string     `json:"team_id"`
	UserID   string     `json:"user_id"`
	Email    string     `json:"email,omitempty"`
	Role     authz.Role `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	Version  int64      `json:"version"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation offers a role in a team to an email address.
type Invitation struct {
	ID         string           `json:"id"`
	TeamID     string           `json:"team_id"`
	Email      string           `json:"email"`
	Role       authz.Role       `json:"role"`
	Status     InvitationStatus `json:"status"`
	InvitedBy  string           `json:"invited_by"`
	AcceptedBy string           `json:"accepted_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	Version    int64            `json:"version"`
}

// EffectiveStatus reports expired for pending invitations past their TTL.
func (i Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !now.Before(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	// AssignmentOverdue is only ever reported, never stored.
	AssignmentOverdue AssignmentStatus = "overdue"
)

// Assignment asks a member to work on a post.
type Assignment struct {
	ID          string           `json:"id"`
	TeamID      string           `json:"team_id"`
	PostID      string           `json:"post_id"`
	AssigneeID  string           `json:"assignee_id"`
	AssignerID  string           `json:"assigner_id"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	Status      AssignmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Version     int64            `json:"version"`
}

// IsOverdue reports whether the due date has passed on an unfinished assignment.
func (a Assignment) IsOverdue(now time.Time) bool {
	return a.DueDate != nil && a.Status != AssignmentCompleted && now.After(*a.DueDate)
}

// EffectiveStatus is the stored status, or overdue when IsOverdue holds.
func (a Assignment) EffectiveStatus(now time.Time) AssignmentStatus {
	if a.IsOverdue(now) {
		return AssignmentOverdue
	}
	return a.Status
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval gates publication of a post. At most one pending approval exists
// per (team, post).
type Approval struct {
	ID          string         `json:"id"`
	TeamID      string         `json:"team_id"`
	PostID      string         `json:"post_id"`
	RequesterID string         `json:"requester_id"`
	Status      ApprovalStatus `json:"status"`
	ApproverID  string         `json:"approver_id,omitempty"`
	Feedback    string         `json:"feedback,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Version     int64          `json:"version"`
}

// ActivityRecord is one append-only entry of a team's history.
type ActivityRecord struct {
	ID         string            `json:"id"`
	TeamID     string            `json:"team_id"`
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
	Seq        int64             `json:"seq"`
}

// ActivityPage is one newest-first slice of a team's activity.
type ActivityPage struct {
	Items      []ActivityRecord `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Entity types recorded in the activity log.
const (
	EntityTeam       = "team"
	EntityMembership = "membership"
	EntityInvitation = "invitation"
	EntityAssignment = "assignment"
	EntityApproval   = "approval"
)
