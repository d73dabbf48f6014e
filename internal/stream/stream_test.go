package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)

	h.Publish("claim.paid", map[string]string{"id": "c1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.Topic != "claim.paid" {
				t.Fatalf("topic %q", evt.Topic)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSubscriberRemovedOnContextEnd(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		if _, open := <-ch; !open {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("channel never closed")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("claim.failed", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
