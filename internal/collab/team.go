package collab

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/ids"
)

// NewTeam describes a team to create. The owner becomes its first member.
type NewTeam struct {
	OwnerID     string `json:"owner_id" validate:"required,max=128"`
	OwnerEmail  string `json:"owner_email" validate:"omitempty,email,max=320"`
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

// TeamUpdate carries the team fields to change. Nil fields are left alone.
type TeamUpdate struct {
	Name        *string `json:"name" validate:"omitempty,max=120"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// CreateTeam creates a team and its owner membership atomically.
func (s *Service) CreateTeam(ctx context.Context, in NewTeam) (Team, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.OwnerEmail = normalizeEmail(in.OwnerEmail)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateStruct(in); err != nil {
		return Team{}, err
	}

	now := s.now()
	team := Team{
		ID:          ids.NewAt(now),
		Name:        in.Name,
		Description: in.Description,
		CreatedBy:   in.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.run(ctx, "team.create", func(tx Tx) error {
		if err := tx.InsertTeam(ctx, team); err != nil {
			return err
		}
		owner := Membership{
			TeamID:   team.ID,
			UserID:   in.OwnerID,
			Email:    in.OwnerEmail,
			Role:     authz.RoleOwner,
			JoinedAt: now,
		}
		if err := tx.InsertMembership(ctx, owner); err != nil {
			return err
		}
		_, err := s.record(ctx, tx, team.ID, in.OwnerID, ActionTeamCreated, EntityTeam, team.ID, map[string]string{
			"name": team.Name,
		})
		return err
	})
	if err != nil {
		return Team{}, err
	}
	team.Version = 1
	return team, nil
}

// GetTeam returns a team the actor belongs to.
func (s *Service) GetTeam(ctx context.Context, actorID, teamID string) (Team, error) {
	var team Team
	err := s.view(ctx, func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ViewContent); err != nil {
			return err
		}
		var err error
		team, err = tx.GetTeam(ctx, teamID)
		return err
	})
	return team, err
}

// ListTeamsForUser returns every team userID is a member of.
func (s *Service) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	var teams []Team
	err := s.view(ctx, func(tx Tx) error {
		var err error
		teams, err = tx.ListTeamsForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []Team{}
	}
	return teams, nil
}

// UpdateTeam changes the team's name or description.
func (s *Service) UpdateTeam(ctx context.Context, actorID, teamID string, upd TeamUpdate) (Team, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Team{}, validationf("name is required")
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if err := validateStruct(upd); err != nil {
		return Team{}, err
	}

	var team Team
	err := s.run(ctx, "team.update", func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ManageTeam); err != nil {
			return err
		}
		cur, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}
		meta := map[string]string{}
		if upd.Name != nil && *upd.Name != cur.Name {
			meta["name"] = *upd.Name
			meta["previous_name"] = cur.Name
			cur.Name = *upd.Name
		}
		if upd.Description != nil && *upd.Description != cur.Description {
			meta["description"] = "changed"
			cur.Description = *upd.Description
		}
		if len(meta) == 0 {
			team = cur
			return nil
		}
		cur.UpdatedAt = s.now()
		if err := tx.UpdateTeam(ctx, cur); err != nil {
			return err
		}
		cur.Version++
		team = cur
		_, err = s.record(ctx, tx, teamID, actorID, ActionTeamUpdated, EntityTeam, teamID, meta)
		return err
	})
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

// DeleteTeam removes the team together with its memberships, invitations,
// assignments, approvals and activity. Only an owner may do this.
func (s *Service) DeleteTeam(ctx context.Context, actorID, teamID string) (Team, error) {
	var team Team
	err := s.run(ctx, "team.delete", func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.DeleteTeam); err != nil {
			return err
		}
		var err error
		team, err = tx.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}
		return tx.DeleteTeam(ctx, teamID, team.Version)
	})
	if err != nil {
		return Team{}, err
	}
	s.logger.Info("team deleted", zap.String("team_id", teamID), zap.String("actor_id", actorID))
	return team, nil
}

// ListMembers returns the team's memberships, oldest first.
func (s *Service) ListMembers(ctx context.Context, actorID, teamID string) ([]Membership, error) {
	var members []Membership
	err := s.view(ctx, func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ViewContent); err != nil {
			return err
		}
		var err error
		members, err = tx.ListMemberships(ctx, teamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []Membership{}
	}
	return members, nil
}

// UpdateMemberRole changes the role of targetUserID. Granting or revoking
// owner requires the ownership capability, and the last owner can never be
// demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, actorID, teamID, targetUserID string, newRole authz.Role) (Membership, error) {
	if !newRole.Valid() {
		return Membership{}, validationf("unknown role %q", newRole)
	}

	var updated Membership
	err := s.run(ctx, "member.update_role", func(tx Tx) error {
		actor, err := s.authorize(ctx, tx, actorID, teamID, authz.ManageTeam)
		if err != nil {
			return err
		}
		target, err := tx.GetMembership(ctx, teamID, targetUserID)
		if err != nil {
			return err
		}
		if target.Role == newRole {
			updated = target
			return nil
		}
		// The last-owner rule is checked first so demoting the sole owner
		// fails the same way whoever asks.
		if target.Role == authz.RoleOwner {
			if err := requireAnotherOwner(ctx, tx, teamID); err != nil {
				return err
			}
		}
		if (newRole == authz.RoleOwner || target.Role == authz.RoleOwner) && !authz.Can(actor.Role, authz.ManageOwnership) {
			return unauthorizedf("role %s may not change ownership", actor.Role)
		}
		team, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}

		previous := target.Role
		target.Role = newRole
		if err := tx.UpdateMembership(ctx, target); err != nil {
			return err
		}
		if err := tx.TouchTeam(ctx, teamID, team.Version, s.now()); err != nil {
			return err
		}
		target.Version++
		updated = target
		_, err = s.record(ctx, tx, teamID, actorID, ActionMemberRoleUpdated, EntityMembership, targetUserID, map[string]string{
			"from": string(previous),
			"to":   string(newRole),
		})
		return err
	})
	if err != nil {
		return Membership{}, err
	}
	return updated, nil
}

// RemoveMember deletes targetUserID's membership. Members may always remove
// themselves; removing anyone else requires the manage capability. The sole
// owner can never be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, teamID, targetUserID string) error {
	return s.run(ctx, "member.remove", func(tx Tx) error {
		action := authz.ManageTeam
		if actorID == targetUserID {
			action = authz.ViewContent
		}
		actor, err := s.authorize(ctx, tx, actorID, teamID, action)
		if err != nil {
			return err
		}
		target, err := tx.GetMembership(ctx, teamID, targetUserID)
		if err != nil {
			return err
		}
		team, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if target.Role == authz.RoleOwner {
			if err := requireAnotherOwner(ctx, tx, teamID); err != nil {
				return err
			}
			if actorID != targetUserID && !authz.Can(actor.Role, authz.ManageOwnership) {
				return unauthorizedf("role %s may not remove an owner", actor.Role)
			}
		}
		if err := tx.DeleteMembership(ctx, target); err != nil {
			return err
		}
		if err := tx.TouchTeam(ctx, teamID, team.Version, s.now()); err != nil {
			return err
		}
		verb := ActionMemberRemoved
		if actorID == targetUserID {
			verb = ActionMemberLeft
		}
		_, err = s.record(ctx, tx, teamID, actorID, verb, EntityMembership, targetUserID, map[string]string{
			"role": string(target.Role),
		})
		return err
	})
}

// TransferOwnership promotes newOwnerID to owner and demotes the acting
// owner to admin in the same transaction.
func (s *Service) TransferOwnership(ctx context.Context, actorID, teamID, newOwnerID string) ([]Membership, error) {
	if actorID == newOwnerID {
		return nil, validationf("cannot transfer ownership to yourself")
	}
	var result []Membership
	err := s.run(ctx, "ownership.transfer", func(tx Tx) error {
		actor, err := s.authorize(ctx, tx, actorID, teamID, authz.ManageOwnership)
		if err != nil {
			return err
		}
		target, err := tx.GetMembership(ctx, teamID, newOwnerID)
		if err != nil {
			return err
		}
		team, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}
		previous := target.Role
		if target.Role != authz.RoleOwner {
			target.Role = authz.RoleOwner
			if err := tx.UpdateMembership(ctx, target); err != nil {
				return err
			}
			target.Version++
		}
		actor.Role = authz.RoleAdmin
		if err := tx.UpdateMembership(ctx, actor); err != nil {
			return err
		}
		actor.Version++
		if err := tx.TouchTeam(ctx, teamID, team.Version, s.now()); err != nil {
			return err
		}
		result = []Membership{target, actor}
		_, err = s.record(ctx, tx, teamID, actorID, ActionOwnershipTransferred, EntityMembership, newOwnerID, map[string]string{
			"from_owner":    actorID,
			"previous_role": string(previous),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
