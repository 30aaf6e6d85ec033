package realtime

import (
	"context"
	"testing"
	"time"
)

func TestHubGroupIsolation(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ctx := context.Background()

	chA, unsubA := h.Subscribe("org-1", 4)
	defer unsubA()
	chB, unsubB := h.Subscribe("org-2", 4)
	defer unsubB()

	if err := h.Publish(ctx, "org-1", "announcement", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-chA:
		if e.Group != "org-1" || e.Type != "announcement" || e.Payload != "hello" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	select {
	case e := <-chB:
		t.Fatalf("wrong group received event: %+v", e)
	default:
	}
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ctx := context.Background()

	ch, unsub := h.Subscribe("org-1", 1)
	defer unsub()

	// Second publish overflows the buffer and is dropped, never blocks.
	_ = h.Publish(ctx, "org-1", "announcement", "first")
	_ = h.Publish(ctx, "org-1", "announcement", "second")

	if e := <-ch; e.Payload != "first" {
		t.Fatalf("payload = %v, want first", e.Payload)
	}
	select {
	case e := <-ch:
		t.Fatalf("dropped event delivered: %+v", e)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ctx := context.Background()

	ch, unsub := h.Subscribe("org-1", 1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	// Publishing to a group with no subscribers is a no-op.
	if err := h.Publish(ctx, "org-1", "announcement", "x"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
