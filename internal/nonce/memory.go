package nonce

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Ledger for tests and ephemeral deployments. Marks do
// not survive restarts; production profiles use the file or Redis backend.
type InMemory struct {
	mu   sync.Mutex
	used map[string]time.Time
}

var _ Ledger = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{used: make(map[string]time.Time)}
}

func (l *InMemory) IsUsed(ctx context.Context, payer, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.used[Key(payer, nonce)]
	return ok, nil
}

func (l *InMemory) MarkUsed(ctx context.Context, payer, nonce string, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := Key(payer, nonce)
	if _, ok := l.used[key]; ok {
		return ErrUsed
	}
	l.used[key] = ts.UTC()
	return nil
}

func (l *InMemory) GC(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, ts := range l.used {
		if ts.Before(cutoff) {
			delete(l.used, key)
			removed++
		}
	}
	return removed, nil
}
