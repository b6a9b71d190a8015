// Package notify delivers best-effort notifications about team events to
// external collaborators. Delivery never blocks or fails the operation that
// produced the event.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind identifies what happened.
type Kind string

const (
	InvitationCreated Kind = "invitation.created"
	AssignmentCreated Kind = "assignment.created"
	ApprovalResolved  Kind = "approval.resolved"
)

// Event is the payload handed to notifiers after a transaction commits.
type Event struct {
	Kind       Kind              `json:"kind"`
	TeamID     string            `json:"team_id"`
	EntityID   string            `json:"entity_id"`
	ActorID    string            `json:"actor_id"`
	Recipient  string            `json:"recipient"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier receives events.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, evt Event) error

func (f Func) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
