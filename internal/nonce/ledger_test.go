package nonce

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyNormalizesPayerCase(t *testing.T) {
	a := Key("0xABCDef", "n1")
	b := Key(" 0xabcdef ", "n1")
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
}

func TestMarkUsedRejectsSecondMark(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if err := l.MarkUsed(ctx, "payer", "n1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkUsed(ctx, "payer", "n1", time.Now()); !errors.Is(err, ErrUsed) {
		t.Fatalf("expected ErrUsed, got %v", err)
	}
	used, err := l.IsUsed(ctx, "PAYER", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if !used {
		t.Fatal("nonce not visible under different payer casing")
	}
}

func TestConcurrentMarkOnlyOneSucceeds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	var successes atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.MarkUsed(ctx, "payer", "shared", time.Now()); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one successful mark, got %d", got)
	}
}

func TestGCKeepsFreshEntries(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	_ = l.MarkUsed(ctx, "payer", "old", time.Now().Add(-2*time.Hour))
	_ = l.MarkUsed(ctx, "payer", "fresh", time.Now())

	removed, err := l.GC(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if used, _ := l.IsUsed(ctx, "payer", "fresh"); !used {
		t.Fatal("fresh nonce was garbage collected")
	}
	if used, _ := l.IsUsed(ctx, "payer", "old"); used {
		t.Fatal("stale nonce survived GC")
	}
}

func TestFileLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	ctx := context.Background()

	l, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.MarkUsed(ctx, "payer", "n1", time.Now()); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.MarkUsed(ctx, "payer", "n1", time.Now()); !errors.Is(err, ErrUsed) {
		t.Fatalf("mark did not survive restart: %v", err)
	}
}

func TestFileLedgerGCPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.json")
	ctx := context.Background()

	l, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.MarkUsed(ctx, "payer", "old", time.Now().Add(-2*time.Hour))

	if removed, err := l.GC(ctx, time.Hour); err != nil || removed != 1 {
		t.Fatalf("gc: removed=%d err=%v", removed, err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.MarkUsed(ctx, "payer", "old", time.Now()); err != nil {
		t.Fatalf("gc'd nonce should be markable again: %v", err)
	}
}
