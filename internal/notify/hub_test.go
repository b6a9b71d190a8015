package notify

import (
	"context"
	"testing"
	"time"
)

func TestHubRoutesByRecipient(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")

	_ = hub.Notify(context.Background(), Event{Kind: AssignmentCreated, Recipient: "alice", EntityID: "X1"})

	select {
	case evt := <-alice:
		if evt.EntityID != "X1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("alice did not receive her event")
	}
	select {
	case evt := <-bob:
		t.Fatalf("bob received someone else's event: %+v", evt)
	default:
	}
}

func TestHubClosesOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "alice")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := hub.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestHubMatchesAnyRecipient(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, "u-42", "Newbie@Example.com")
	_ = hub.Notify(context.Background(), Event{Kind: InvitationCreated, Recipient: "newbie@example.com", EntityID: "I1"})
	_ = hub.Notify(context.Background(), Event{Kind: AssignmentCreated, Recipient: "u-42", EntityID: "A1"})

	for _, want := range []string{"I1", "A1"} {
		select {
		case evt := <-ch:
			if evt.EntityID != want {
				t.Fatalf("expected %s, got %+v", want, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %s not delivered", want)
		}
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, "alice")
	hub.Close()
	hub.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed by hub.Close")
	}
	if _, ok := <-hub.Subscribe(ctx, "bob"); ok {
		t.Fatal("subscribe after Close should return a closed channel")
	}
	if n := hub.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}
