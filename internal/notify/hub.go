package notify

import (
	"context"
	"strings"
	"sync"
)

// Hub fans events out to in-process subscribers such as Server-Sent Events
// clients. A subscriber sees only events addressed to one of its recipients.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	closed bool
	done   chan struct{}
}

type subscriber struct {
	recipients map[string]struct{}
	ch         chan Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber), done: make(chan struct{})}
}

// Subscribe registers a subscriber for the given recipients (a user id and
// its email, typically) and returns a channel which will receive their
// events. Recipients compare case-insensitively. The channel is closed when
// ctx ends or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, recipients ...string) <-chan Event {
	ch := make(chan Event, 16)
	set := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if r = normalizeRecipient(r); r != "" {
			set[r] = struct{}{}
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	id := h.next
	h.next++
	h.subs[id] = subscriber{recipients: set, ch: ch}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}()

	return ch
}

// Close ends every subscription and refuses new ones. Streams reading from
// the hub return once their channel drains.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
	close(h.done)
}

// Subscribers reports how many subscribers are attached.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify hands evt to every matching subscriber. Slow subscribers miss events
// instead of blocking the sender.
func (h *Hub) Notify(_ context.Context, evt Event) error {
	recipient := normalizeRecipient(evt.Recipient)
	if recipient == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if _, ok := s.recipients[recipient]; !ok {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
	return nil
}

func normalizeRecipient(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}
