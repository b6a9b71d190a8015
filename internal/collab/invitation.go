package collab

import (
	"context"
	"errors"
	"time"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/ids"
	"postdesk.io/internal/notify"
)

// InviteMember offers role in teamID to email. A pending invitation that has
// outlived its TTL is marked expired so a fresh one can take its place.
func (s *Service) InviteMember(ctx context.Context, actorID, teamID, email string, role authz.Role) (Invitation, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return Invitation{}, err
	}
	if !role.Invitable() {
		return Invitation{}, validationf("role %q cannot be offered by invitation", role)
	}

	now := s.now()
	inv := Invitation{
		ID:        ids.NewAt(now),
		TeamID:    teamID,
		Email:     email,
		Role:      role,
		Status:    InvitationPending,
		InvitedBy: actorID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.invitationTTL),
	}
	err := s.run(ctx, "invitation.create", func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ManageTeam); err != nil {
			return err
		}
		members, err := tx.ListMemberships(ctx, teamID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.Email != "" && m.Email == email {
				return conflictf("%s is already a member of team %s", email, teamID)
			}
		}
		existing, err := tx.ListInvitations(ctx, teamID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Email != email || other.Status != InvitationPending {
				continue
			}
			if other.EffectiveStatus(now) == InvitationPending {
				return conflictf("%s already has a pending invitation", email)
			}
			other.Status = InvitationExpired
			resolved := now
			other.ResolvedAt = &resolved
			if err := tx.UpdateInvitation(ctx, other); err != nil {
				return err
			}
		}
		if err := tx.InsertInvitation(ctx, inv); err != nil {
			return err
		}
		_, err = s.record(ctx, tx, teamID, actorID, ActionMemberInvited, EntityInvitation, inv.ID, map[string]string{
			"email": email,
			"role":  string(role),
		})
		return err
	})
	if err != nil {
		return Invitation{}, err
	}
	inv.Version = 1

	s.publish(ctx, notify.Event{
		Kind:       notify.InvitationCreated,
		TeamID:     teamID,
		EntityID:   inv.ID,
		ActorID:    actorID,
		Recipient:  email,
		Data:       map[string]string{"role": string(role), "expires_at": inv.ExpiresAt.Format(time.RFC3339)},
		OccurredAt: now,
	})
	return inv, nil
}

// AcceptInvitation turns a live pending invitation into a membership for userID.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID, userID string) (Membership, error) {
	var member Membership
	err := s.run(ctx, "invitation.accept", func(tx Tx) error {
		inv, err := tx.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		now := s.now()
		switch status := inv.EffectiveStatus(now); status {
		case InvitationPending:
		case InvitationExpired:
			return statef("invitation %s has expired", inv.ID)
		default:
			return statef("invitation %s is %s", inv.ID, status)
		}
		if _, err := tx.GetMembership(ctx, inv.TeamID, userID); err == nil {
			return conflictf("user %s is already a member of team %s", userID, inv.TeamID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		team, err := tx.GetTeam(ctx, inv.TeamID)
		if err != nil {
			return err
		}

		inv.Status = InvitationAccepted
		inv.AcceptedBy = userID
		inv.ResolvedAt = &now
		if err := tx.UpdateInvitation(ctx, inv); err != nil {
			return err
		}
		member = Membership{
			TeamID:   inv.TeamID,
			UserID:   userID,
			Email:    inv.Email,
			Role:     inv.Role,
			JoinedAt: now,
		}
		if err := tx.InsertMembership(ctx, member); err != nil {
			return err
		}
		if err := tx.TouchTeam(ctx, inv.TeamID, team.Version, now); err != nil {
			return err
		}
		member.Version = 1
		_, err = s.record(ctx, tx, inv.TeamID, userID, ActionInvitationAccepted, EntityInvitation, inv.ID, map[string]string{
			"role":    string(inv.Role),
			"user_id": userID,
		})
		return err
	})
	if err != nil {
		return Membership{}, err
	}
	return member, nil
}

// GetInvitation returns an invitation with its status as of now.
func (s *Service) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	var inv Invitation
	err := s.view(ctx, func(tx Tx) error {
		var err error
		inv, err = tx.GetInvitation(ctx, invitationID)
		return err
	})
	if err != nil {
		return Invitation{}, err
	}
	inv.Status = inv.EffectiveStatus(s.now())
	return inv, nil
}

// RevokeInvitation withdraws a pending invitation.
func (s *Service) RevokeInvitation(ctx context.Context, actorID, invitationID string) (Invitation, error) {
	var inv Invitation
	err := s.run(ctx, "invitation.revoke", func(tx Tx) error {
		var err error
		inv, err = tx.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if _, err := s.authorize(ctx, tx, actorID, inv.TeamID, authz.ManageTeam); err != nil {
			return err
		}
		now := s.now()
		if status := inv.EffectiveStatus(now); status != InvitationPending {
			return statef("invitation %s is %s", inv.ID, status)
		}
		inv.Status = InvitationRevoked
		inv.ResolvedAt = &now
		if err := tx.UpdateInvitation(ctx, inv); err != nil {
			return err
		}
		inv.Version++
		_, err = s.record(ctx, tx, inv.TeamID, actorID, ActionInvitationRevoked, EntityInvitation, inv.ID, map[string]string{
			"email": inv.Email,
		})
		return err
	})
	if err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

// ListInvitations returns the team's invitations, newest first, with expiry
// applied as of now.
func (s *Service) ListInvitations(ctx context.Context, actorID, teamID string) ([]Invitation, error) {
	var out []Invitation
	err := s.view(ctx, func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ManageTeam); err != nil {
			return err
		}
		var err error
		out, err = tx.ListInvitations(ctx, teamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range out {
		out[i].Status = out[i].EffectiveStatus(now)
	}
	if out == nil {
		out = []Invitation{}
	}
	return out, nil
}
