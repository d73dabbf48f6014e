package claims

import "context"

// Store persists claims. Insert must enforce idempotency-key uniqueness
// atomically: a second insert with the same key fails with
// ErrDuplicateKey, regardless of policy or payer.
type Store interface {
	Insert(ctx context.Context, c Claim) error
	Update(ctx context.Context, c Claim) error
	Get(ctx context.Context, id string) (Claim, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Claim, error)
	ListByPolicy(ctx context.Context, policyID string) ([]Claim, error)
	ListNeedingReconciliation(ctx context.Context) ([]Claim, error)
}
