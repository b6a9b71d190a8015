package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"postdesk.io/internal/obs"
)

// ErrDropped is returned when the queue is full or closed.
var ErrDropped = errors.New("notify: event dropped")

const defaultDeliveryTimeout = 5 * time.Second

// Queue hands events to a downstream Notifier on a background worker so the
// caller never waits on delivery. Events are dropped when the buffer is full.
type Queue struct {
	next    Notifier
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	done   chan struct{}
}

// NewQueue starts a worker delivering to next with a buffer of size events.
func NewQueue(next Notifier, size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		next:    next,
		logger:  logger,
		timeout: defaultDeliveryTimeout,
		ch:      make(chan Event, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Notify enqueues evt without blocking.
func (q *Queue) Notify(_ context.Context, evt Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		obs.ObserveNotification(string(evt.Kind), "dropped")
		return ErrDropped
	}
	select {
	case q.ch <- evt:
		return nil
	default:
		obs.ObserveNotification(string(evt.Kind), "dropped")
		return ErrDropped
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for evt := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.next.Notify(ctx, evt)
		cancel()
		if err != nil {
			obs.ObserveNotification(string(evt.Kind), "error")
			q.logger.Warn("notification delivery failed",
				zap.String("kind", string(evt.Kind)),
				zap.String("team_id", evt.TeamID),
				zap.String("entity_id", evt.EntityID),
				zap.Error(err),
			)
			continue
		}
		obs.ObserveNotification(string(evt.Kind), "ok")
	}
}
