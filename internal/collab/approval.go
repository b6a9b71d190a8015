package collab

import (
	"context"
	"strings"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/ids"
	"postdesk.io/internal/notify"
)

// ApprovalQuery narrows ListApprovals.
type ApprovalQuery struct {
	PostID string
	Status ApprovalStatus
}

// ParseDecision validates an approval decision.
func ParseDecision(s string) (ApprovalStatus, error) {
	switch d := ApprovalStatus(strings.ToLower(strings.TrimSpace(s))); d {
	case ApprovalApproved, ApprovalRejected:
		return d, nil
	default:
		return "", validationf("decision must be approved or rejected")
	}
}

// RequestApproval opens an approval for postID. Only one may be pending per
// post at a time.
func (s *Service) RequestApproval(ctx context.Context, actorID, teamID, postID string) (Approval, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return Approval{}, validationf("post_id is required")
	}
	if len(postID) > 200 {
		return Approval{}, validationf("post_id must be at most 200 characters")
	}

	now := s.now()
	a := Approval{
		ID:          ids.NewAt(now),
		TeamID:      teamID,
		PostID:      postID,
		RequesterID: actorID,
		Status:      ApprovalPending,
		CreatedAt:   now,
	}
	err := s.run(ctx, "approval.request", func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.EditContent); err != nil {
			return err
		}
		pending, err := tx.ListApprovals(ctx, ApprovalFilter{TeamID: teamID, PostID: postID, Status: ApprovalPending})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return conflictf("post %s already has pending approval %s", postID, pending[0].ID)
		}
		if err := tx.InsertApproval(ctx, a); err != nil {
			return err
		}
		_, err = s.record(ctx, tx, teamID, actorID, ActionApprovalRequested, EntityApproval, a.ID, map[string]string{
			"post_id": postID,
		})
		return err
	})
	if err != nil {
		return Approval{}, err
	}
	a.Version = 1
	return a, nil
}

// UpdateApproval resolves a pending approval. It records the decision only;
// publishing the post is left to whoever watches for approved posts.
func (s *Service) UpdateApproval(ctx context.Context, actorID, approvalID string, decision ApprovalStatus, feedback string) (Approval, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return Approval{}, err
	}
	feedback = strings.TrimSpace(feedback)
	if len(feedback) > 4000 {
		return Approval{}, validationf("feedback must be at most 4000 characters")
	}

	var a Approval
	err := s.run(ctx, "approval.update", func(tx Tx) error {
		var err error
		a, err = tx.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		if _, err := s.authorize(ctx, tx, actorID, a.TeamID, authz.ApproveContent); err != nil {
			return err
		}
		if a.Status != ApprovalPending {
			return statef("approval %s is already %s", a.ID, a.Status)
		}
		now := s.now()
		a.Status = decision
		a.ApproverID = actorID
		a.Feedback = feedback
		a.ResolvedAt = &now
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}
		a.Version++
		action := ActionApprovalApproved
		if decision == ApprovalRejected {
			action = ActionApprovalRejected
		}
		meta := map[string]string{"post_id": a.PostID}
		if feedback != "" {
			meta["feedback"] = feedback
		}
		_, err = s.record(ctx, tx, a.TeamID, actorID, action, EntityApproval, a.ID, meta)
		return err
	})
	if err != nil {
		return Approval{}, err
	}

	s.publish(ctx, notify.Event{
		Kind:       notify.ApprovalResolved,
		TeamID:     a.TeamID,
		EntityID:   a.ID,
		ActorID:    actorID,
		Recipient:  a.RequesterID,
		Data:       map[string]string{"post_id": a.PostID, "status": string(a.Status)},
		OccurredAt: *a.ResolvedAt,
	})
	return a, nil
}

// GetApproval returns one approval of a team the actor belongs to.
func (s *Service) GetApproval(ctx context.Context, actorID, approvalID string) (Approval, error) {
	var a Approval
	err := s.view(ctx, func(tx Tx) error {
		var err error
		a, err = tx.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		_, err = s.authorize(ctx, tx, actorID, a.TeamID, authz.ViewContent)
		return err
	})
	if err != nil {
		return Approval{}, err
	}
	return a, nil
}

// ListApprovals returns the team's approvals, newest first.
func (s *Service) ListApprovals(ctx context.Context, actorID, teamID string, q ApprovalQuery) ([]Approval, error) {
	var out []Approval
	err := s.view(ctx, func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ViewContent); err != nil {
			return err
		}
		var err error
		out, err = tx.ListApprovals(ctx, ApprovalFilter{TeamID: teamID, PostID: strings.TrimSpace(q.PostID), Status: q.Status})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Approval{}
	}
	return out, nil
}

// PendingApprovals returns approvals awaiting a decision.
func (s *Service) PendingApprovals(ctx context.Context, actorID, teamID string) ([]Approval, error) {
	return s.ListApprovals(ctx, actorID, teamID, ApprovalQuery{Status: ApprovalPending})
}
