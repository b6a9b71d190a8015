package collab

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/ids"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// Activity actions.
const (
	ActionTeamCreated          = "team.created"
	ActionTeamUpdated          = "team.updated"
	ActionMemberInvited        = "member.invited"
	ActionInvitationAccepted   = "invitation.accepted"
	ActionInvitationRevoked    = "invitation.revoked"
	ActionMemberRoleUpdated    = "member.role_updated"
	ActionMemberRemoved        = "member.removed"
	ActionMemberLeft           = "member.left"
	ActionOwnershipTransferred = "ownership.transferred"
	ActionAssignmentCreated    = "assignment.created"
	ActionAssignmentStatus     = "assignment.status_updated"
	ActionApprovalRequested    = "approval.requested"
	ActionApprovalApproved     = "approval.approved"
	ActionApprovalRejected     = "approval.rejected"
)

// ActivityCursor is a position in a team's newest-first activity order.
type ActivityCursor struct {
	CreatedAt time.Time
	Seq       int64
}

// Older reports whether rec sorts strictly after the cursor position, that is,
// whether it is older than the last record the caller has seen.
func (c ActivityCursor) Older(rec ActivityRecord) bool {
	if rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.Seq < c.Seq
	}
	return rec.CreatedAt.Before(c.CreatedAt)
}

// Encode renders the cursor as an opaque token.
func (c ActivityCursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "." + strconv.FormatInt(c.Seq, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeActivityCursor parses a token produced by Encode.
func DecodeActivityCursor(token string) (ActivityCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return ActivityCursor{}, validationf("malformed cursor")
	}
	nanos, seq, ok := strings.Cut(string(raw), ".")
	if !ok {
		return ActivityCursor{}, validationf("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return ActivityCursor{}, validationf("malformed cursor")
	}
	s, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || s < 0 {
		return ActivityCursor{}, validationf("malformed cursor")
	}
	return ActivityCursor{CreatedAt: time.Unix(0, n).UTC(), Seq: s}, nil
}

// record appends one activity entry inside the caller's transaction. A
// failure here fails the whole operation.
func (s *Service) record(ctx context.Context, tx Tx, teamID, actorID, action, entityType, entityID string, metadata map[string]string) (ActivityRecord, error) {
	now := s.now()
	rec := ActivityRecord{
		ID:         ids.NewAt(now),
		TeamID:     teamID,
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  now,
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	return tx.AppendActivity(ctx, rec)
}

// ListActivity returns up to limit records of the team, newest first. Pass
// the returned NextCursor back to continue where the page ended.
func (s *Service) ListActivity(ctx context.Context, actorID, teamID string, limit int, cursor string) (ActivityPage, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	var before *ActivityCursor
	if strings.TrimSpace(cursor) != "" {
		c, err := DecodeActivityCursor(cursor)
		if err != nil {
			return ActivityPage{}, err
		}
		before = &c
	}

	var page ActivityPage
	err := s.view(ctx, func(tx Tx) error {
		if _, err := s.authorize(ctx, tx, actorID, teamID, authz.ViewContent); err != nil {
			return err
		}
		// One extra row tells us whether another page exists.
		items, err := tx.ListActivity(ctx, teamID, limit+1, before)
		if err != nil {
			return err
		}
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			page.NextCursor = ActivityCursor{CreatedAt: last.CreatedAt, Seq: last.Seq}.Encode()
		}
		page.Items = items
		return nil
	})
	if err != nil {
		return ActivityPage{}, err
	}
	if page.Items == nil {
		page.Items = []ActivityRecord{}
	}
	return page, nil
}
