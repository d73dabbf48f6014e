package policy

import (
	"context"
	"time"
)

// Store persists policies. Implementations must make the transition
// operations atomic: a Renew or MarkClaimed either applies its state
// check and its write together or returns the sentinel error unchanged.
type Store interface {
	Insert(ctx context.Context, p Policy) error
	Get(ctx context.Context, id string) (Policy, error)
	ListByPayer(ctx context.Context, payer string) ([]Policy, error)

	// Renew extends an active, unexpired policy and records the fee paid.
	Renew(ctx context.Context, id string, extend time.Duration, feeUnits int64, now time.Time) (Policy, error)

	// MarkClaimed moves an active, unexpired policy to claimed.
	MarkClaimed(ctx context.Context, id string, now time.Time) (Policy, error)

	// ExpireDue marks every active policy past its expiry as expired and
	// reports how many changed.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
