package collab

import (
	"context"
	"strings"
	"time"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/ids"
	"postdesk.io/internal/notify"
)

// NewAssignment describes work to hand to a team member.
type NewAssignment struct {
	TeamID     string     `json:"team_id" validate:"required"`
	PostID     string     `json:"post_id" validate:"required,max=200"`
	AssigneeID string     `json:"assignee_id" validate:"required,max=128"`
	DueDate    *time.Time `json:"due_date"`
	Notes      string     `json:"notes" validate:"max=4000"`
}

// AssignmentQuery narrows ListAssignments.
type AssignmentQuery struct {
	AssigneeID  string
	PostID      string
	OverdueOnly bool
}

var assignmentTransitions = map[AssignmentStatus]AssignmentStatus{
	AssignmentPending:    AssignmentInProgress,
	AssignmentInProgress: AssignmentCompleted,
}

// ParseAssignmentStatus validates a status a caller asks to move to.
func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch st := AssignmentStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case AssignmentPending, AssignmentInProgress, AssignmentCompleted:
		return st, nil
	case AssignmentOverdue:
		return "", validationf("overdue is derived from the due date and cannot be set")
	default:
		return "", validationf("unknown assignment status %q", s)
	}
}

// CreateAssignment assigns a post to a member of the team.
func (s *Service) CreateAssignment(ctx context.Context, actorID string, in NewAssignment) (Assignment, error) {
	in.TeamID = strings.TrimSpace(in.TeamID)
	in.PostID = strings.TrimSpace(in.PostID)
	in.AssigneeID = strings.TrimSpace(in.AssigneeID)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := validateStruct(in); err != nil {
		return Assignment{}, err
	}

	now := s.now()
	a := Assignment{
		ID:         ids.NewAt(now),
		TeamID:     in.TeamID,
		PostID:     in.PostID,
		AssigneeID: in.AssigneeID,
		AssignerID: actorID,
		Notes:      in.Notes,
		Status:     AssignmentPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.DueDate != nil {
		due := in.DueDate.UTC().Truncate(time.Microsecond)
		a.DueDate = &due
	}
	err := s.run(ctx, "assignment.create", func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, a.TeamID, authz.EditContent); err != nil {
			return err
		}
		if _, err := tx.GetMembership(ctx, a.TeamID, a.AssigneeID); err != nil {
			if Kind(err) == ErrNotFound {
				return validationf("assignee %s is not a member of team %s", a.AssigneeID, a.TeamID)
			}
			return err
		}
		if err := tx.InsertAssignment(ctx, a); err != nil {
			return err
		}
		meta := map[string]string{
			"post_id":     a.PostID,
			"assignee_id": a.AssigneeID,
		}
		if a.DueDate != nil {
			meta["due_date"] = a.DueDate.Format(time.RFC3339)
		}
		_, err := s.record(ctx, tx, a.TeamID, actorID, ActionAssignmentCreated, EntityAssignment, a.ID, meta)
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	a.Version = 1

	s.publish(ctx, notify.Event{
		Kind:       notify.AssignmentCreated,
		TeamID:     a.TeamID,
		EntityID:   a.ID,
		ActorID:    actorID,
		Recipient:  a.AssigneeID,
		Data:       map[string]string{"post_id": a.PostID},
		OccurredAt: now,
	})
	return a, nil
}

// UpdateAssignmentStatus moves an assignment one step along
// pending -> in_progress -> completed. Only the assignee or a member who can
// manage the team may do so.
func (s *Service) UpdateAssignmentStatus(ctx context.Context, actorID, assignmentID string, next AssignmentStatus) (Assignment, error) {
	if _, err := ParseAssignmentStatus(string(next)); err != nil {
		return Assignment{}, err
	}

	var a Assignment
	err := s.run(ctx, "assignment.update_status", func(tx Tx) error {
		var err error
		a, err = tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		actor, err := s.authorize(ctx, tx, actorID, a.TeamID, authz.ViewContent)
		if err != nil {
			return err
		}
		if actorID != a.AssigneeID && !authz.Can(actor.Role, authz.ManageTeam) {
			return unauthorizedf("only the assignee or a team manager may update assignment %s", a.ID)
		}
		if allowed, ok := assignmentTransitions[a.Status]; !ok || allowed != next {
			return statef("assignment %s cannot move from %s to %s", a.ID, a.Status, next)
		}

		previous := a.Status
		now := s.now()
		a.Status = next
		a.UpdatedAt = now
		if next == AssignmentCompleted {
			a.CompletedAt = &now
		}
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		a.Version++
		_, err = s.record(ctx, tx, a.TeamID, actorID, ActionAssignmentStatus, EntityAssignment, a.ID, map[string]string{
			"from": string(previous),
			"to":   string(next),
		})
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// GetAssignment returns one assignment of a team the actor belongs to.
func (s *Service) GetAssignment(ctx context.Context, actorID, assignmentID string) (Assignment, error) {
	var a Assignment
	err := s.view(ctx, func(tx Tx) error {
		var err error
		a, err = tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		_, err = s.authorize(ctx, tx, actorID, a.TeamID, authz.ViewContent)
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// ListAssignments returns the team's assignments, newest first.
func (s *Service) ListAssignments(ctx context.Context, actorID, teamID string, q AssignmentQuery) ([]Assignment, error) {
	var all []Assignment
	err := s.view(ctx, func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ViewContent); err != nil {
			return err
		}
		var err error
		all, err = tx.ListAssignments(ctx, AssignmentFilter{TeamID: teamID, AssigneeID: q.AssigneeID, PostID: q.PostID})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(all))
	now := s.now()
	for _, a := range all {
		if q.OverdueOnly && !a.IsOverdue(now) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// AssignmentsForUser returns the assignments handed to userID in the team.
func (s *Service) AssignmentsForUser(ctx context.Context, actorID, teamID, userID string) ([]Assignment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationf("user id is required")
	}
	return s.ListAssignments(ctx, actorID, teamID, AssignmentQuery{AssigneeID: userID})
}

// OverdueAssignments returns unfinished assignments past their due date.
func (s *Service) OverdueAssignments(ctx context.Context, actorID, teamID string) ([]Assignment, error) {
	return s.ListAssignments(ctx, actorID, teamID, AssignmentQuery{OverdueOnly: true})
}

// Now exposes the service clock so callers can render derived statuses
// consistently with the queries above.
func (s *Service) Now() time.Time {
	return s.now()
}
