package claims

import (
	"context"
	"sort"
	"sync"
)

// InMemory is the non-durable claim Store for the development profile
// and tests.
type InMemory struct {
	mu     sync.RWMutex
	claims map[string]Claim
	byKey  map[string]string // idempotency key -> claim id
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		claims: make(map[string]Claim),
		byKey:  make(map[string]string),
	}
}

func (s *InMemory) Insert(ctx context.Context, c Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.IdempotencyKey != "" {
		if _, exists := s.byKey[c.IdempotencyKey]; exists {
			return ErrDuplicateKey
		}
		s.byKey[c.IdempotencyKey] = c.ID
	}
	s.claims[c.ID] = c
	return nil
}

func (s *InMemory) Update(ctx context.Context, c Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[c.ID]; !ok {
		return ErrNotFound
	}
	s.claims[c.ID] = c
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemory) GetByIdempotencyKey(ctx context.Context, key string) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return s.claims[id], nil
}

func (s *InMemory) ListByPolicy(ctx context.Context, policyID string) ([]Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Claim
	for _, c := range s.claims {
		if c.PolicyID == policyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) ListNeedingReconciliation(ctx context.Context) ([]Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Claim
	for _, c := range s.claims {
		if c.NeedsReconciliation {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
