package jsonfile

import (
	"context"
	"sort"

	"apishield.io/internal/claims"
)

type ClaimStore struct {
	s *Store
}

var _ claims.Store = (*ClaimStore)(nil)

func (cs *ClaimStore) Insert(ctx context.Context, c claims.Claim) error {
	return cs.s.mutate(func(d *payload) error {
		if c.IdempotencyKey != "" {
			if _, exists := d.ClaimKeys[c.IdempotencyKey]; exists {
				return claims.ErrDuplicateKey
			}
			d.ClaimKeys[c.IdempotencyKey] = c.ID
		}
		d.Claims[c.ID] = c
		return nil
	})
}

func (cs *ClaimStore) Update(ctx context.Context, c claims.Claim) error {
	return cs.s.mutate(func(d *payload) error {
		if _, ok := d.Claims[c.ID]; !ok {
			return claims.ErrNotFound
		}
		d.Claims[c.ID] = c
		return nil
	})
}

func (cs *ClaimStore) Get(ctx context.Context, id string) (claims.Claim, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	c, ok := cs.s.data.Claims[id]
	if !ok {
		return claims.Claim{}, claims.ErrNotFound
	}
	return c, nil
}

func (cs *ClaimStore) GetByIdempotencyKey(ctx context.Context, key string) (claims.Claim, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	id, ok := cs.s.data.ClaimKeys[key]
	if !ok {
		return claims.Claim{}, claims.ErrNotFound
	}
	return cs.s.data.Claims[id], nil
}

func (cs *ClaimStore) ListByPolicy(ctx context.Context, policyID string) ([]claims.Claim, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var out []claims.Claim
	for _, c := range cs.s.data.Claims {
		if c.PolicyID == policyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (cs *ClaimStore) ListNeedingReconciliation(ctx context.Context) ([]claims.Claim, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var out []claims.Claim
	for _, c := range cs.s.data.Claims {
		if c.NeedsReconciliation {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
