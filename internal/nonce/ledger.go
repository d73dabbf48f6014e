package nonce

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUsed is returned by MarkUsed when the (payer, nonce) pair has
	// already been consumed.
	ErrUsed = errors.New("nonce already used")
)

// Ledger records consumed (payer, nonce) pairs. MarkUsed is the atomic
// check-and-mark: two concurrent calls for the same pair must not both
// succeed, and a successful mark must survive a process restart.
type Ledger interface {
	IsUsed(ctx context.Context, payer, nonce string) (bool, error)
	MarkUsed(ctx context.Context, payer, nonce string, ts time.Time) error
	// GC removes entries older than the retention window. Safe to run
	// concurrently with lookups and marks.
	GC(ctx context.Context, retention time.Duration) (int, error)
}

// Key composes the ledger key. Payer addresses are case-normalized so the
// same payer cannot replay a nonce under a different address casing.
func Key(payer, nonce string) string {
	return strings.ToLower(strings.TrimSpace(payer)) + ":" + strings.TrimSpace(nonce)
}
