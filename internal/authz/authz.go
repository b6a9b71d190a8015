// Package authz holds the capability matrix that every team operation
// consults before touching state.
package authz

import "strings"

// Role is a member's role inside a single team.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Action names a capability checked against a role.
type Action string

const (
	// ManageTeam covers inviting, removing and re-roling members, revoking
	// invitations and editing team details.
	ManageTeam Action = "team.manage"
	// EditContent covers creating assignments and requesting approvals.
	EditContent Action = "content.edit"
	// ApproveContent covers approving and rejecting approval requests.
	ApproveContent Action = "content.approve"
	// ViewContent covers reading members, assignments, approvals and activity.
	ViewContent Action = "content.view"
	// ManageOwnership covers granting or revoking the owner role.
	ManageOwnership Action = "team.ownership"
	// DeleteTeam covers removing a team and everything it owns.
	DeleteTeam Action = "team.delete"
)

var matrix = map[Action]map[Role]bool{
	ManageTeam:      {RoleOwner: true, RoleAdmin: true},
	EditContent:     {RoleOwner: true, RoleAdmin: true, RoleEditor: true},
	ApproveContent:  {RoleOwner: true, RoleAdmin: true},
	ViewContent:     {RoleOwner: true, RoleAdmin: true, RoleEditor: true, RoleViewer: true},
	ManageOwnership: {RoleOwner: true},
	DeleteTeam:      {RoleOwner: true},
}

// Can reports whether role grants action. Unknown roles and unknown actions
// are denied.
func Can(role Role, action Action) bool {
	allowed, ok := matrix[action]
	if !ok {
		return false
	}
	return allowed[role]
}

// Actions returns every action known to the matrix.
func Actions() []Action {
	return []Action{ManageTeam, EditContent, ApproveContent, ViewContent, ManageOwnership, DeleteTeam}
}

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of the four team roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Invitable reports whether r may be offered through an invitation.
func (r Role) Invitable() bool {
	return r.Valid() && r != RoleOwner
}

func (r Role) String() string { return string(r) }
