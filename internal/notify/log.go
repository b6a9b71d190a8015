package notify

import (
	"context"

	"go.uber.org/zap"
)

// Logger writes every event to a zap logger. Useful in development where no
// delivery backend is configured.
type Logger struct {
	L *zap.Logger
}

func (n Logger) Notify(_ context.Context, evt Event) error {
	l := n.L
	if l == nil {
		l = zap.NewNop()
	}
	l.Info("notification",
		zap.String("kind", string(evt.Kind)),
		zap.String("team_id", evt.TeamID),
		zap.String("entity_id", evt.EntityID),
		zap.String("recipient", evt.Recipient),
		zap.Time("occurred_at", evt.OccurredAt),
	)
	return nil
}
