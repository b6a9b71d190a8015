// Package collab implements teams, memberships, invitations, assignments,
// approvals and the per-team activity log on top of a transactional Store.
package collab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/notify"
	"postdesk.io/internal/obs"
)

// DefaultInvitationTTL applies when no TTL is configured.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// Service exposes every team operation. It holds no per-team state of its
// own; all of it lives in the Store.
type Service struct {
	store         Store
	notifier      notify.Notifier
	logger        *zap.Logger
	clock         func() time.Time
	invitationTTL time.Duration
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithInvitationTTL sets how long an invitation stays acceptable.
func WithInvitationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.invitationTTL = ttl
		}
	}
}

// WithNotifier sets where post-commit events go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		notifier:      notify.Nop{},
		logger:        obs.Logger(),
		clock:         time.Now,
		invitationTTL: DefaultInvitationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now is truncated to microseconds so values survive a round trip through
// timestamptz unchanged.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// countingTx counts activity appends so committed records can be observed.
type countingTx struct {
	Tx
	appended int
}

func (c *countingTx) AppendActivity(ctx context.Context, rec ActivityRecord) (ActivityRecord, error) {
	out, err := c.Tx.AppendActivity(ctx, rec)
	if err == nil {
		c.appended++
	}
	return out, err
}

// run executes a mutating operation in one transaction.
func (s *Service) run(ctx context.Context, op string, fn func(tx Tx) error) error {
	var appended int
	err := s.store.InTx(ctx, func(tx Tx) error {
		ct := &countingTx{Tx: tx}
		if err := fn(ct); err != nil {
			return err
		}
		appended = ct.appended
		return nil
	})
	obs.ObserveOperation(op, resultLabel(err))
	if err != nil {
		if Kind(err) == nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
		}
		return err
	}
	obs.ObserveActivity(appended)
	return nil
}

// view executes a read-only operation.
func (s *Service) view(ctx context.Context, fn func(tx Tx) error) error {
	return s.store.InTx(ctx, fn)
}

// authorize loads the actor's membership and checks action against its role.
func (s *Service) authorize(ctx context.Context, tx Tx, actorID, teamID string, action authz.Action) (Membership, error) {
	m, err := tx.GetMembership(ctx, teamID, actorID)
	if errors.Is(err, ErrNotFound) {
		if _, terr := tx.GetTeam(ctx, teamID); terr != nil {
			return Membership{}, terr
		}
		return Membership{}, unauthorizedf("user %s is not a member of team %s", actorID, teamID)
	}
	if err != nil {
		return Membership{}, err
	}
	if !authz.Can(m.Role, action) {
		return Membership{}, unauthorizedf("role %s may not %s", m.Role, action)
	}
	return m, nil
}

// publish hands evt to the notifier. Delivery problems never reach the caller.
func (s *Service) publish(ctx context.Context, evt notify.Event) {
	if err := s.notifier.Notify(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("notification not delivered",
			zap.String("kind", string(evt.Kind)),
			zap.String("team_id", evt.TeamID),
			zap.String("entity_id", evt.EntityID),
			zap.Error(err),
		)
	}
}

// requireAnotherOwner fails with ErrValidation when teamID has a single owner.
func requireAnotherOwner(ctx context.Context, tx Tx, teamID string) error {
	members, err := tx.ListMemberships(ctx, teamID)
	if err != nil {
		return err
	}
	if countOwners(members) <= 1 {
		return validationf("team %s must keep at least one owner", teamID)
	}
	return nil
}

func countOwners(members []Membership) int {
	n := 0
	for _, m := range members {
		if m.Role == authz.RoleOwner {
			n++
		}
	}
	return n
}
