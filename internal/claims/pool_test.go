package claims

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, 8)
	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		if !p.Submit(func(ctx context.Context) { ran.Add(1) }) {
			t.Fatal("submit rejected")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := ran.Load(); got != 5 {
		t.Fatalf("tasks run: %d", got)
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1)
	block := make(chan struct{})
	p.Submit(func(ctx context.Context) { <-block }) // occupies the worker
	p.Submit(func(ctx context.Context) {})          // fills the queue

	// May need a moment for the worker to pick up the first task.
	deadline := time.Now().Add(2 * time.Second)
	for p.Submit(func(ctx context.Context) {}) {
		if time.Now().After(deadline) {
			t.Fatal("queue never filled")
		}
	}

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := NewPool(1, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	// A submission after shutdown must report false, never panic on the
	// closed queue.
	if p.Submit(func(ctx context.Context) {}) {
		t.Fatal("submit accepted after shutdown")
	}
	p.Shutdown(ctx) // repeat shutdown stays safe too
}
