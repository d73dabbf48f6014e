package policy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory is the non-durable Store used by the development profile and
// by tests. All methods are safe for concurrent use.
type InMemory struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{policies: make(map[string]Policy)}
}

func (s *InMemory) Insert(ctx context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemory) ListByPayer(ctx context.Context, payer string) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Policy
	for _, p := range s.policies {
		if strings.EqualFold(p.Payer, payer) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Renew(ctx context.Context, id string, extend time.Duration, feeUnits int64, now time.Time) (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return Policy{}, ErrNotFound
	}
	if err := p.Claimable(now); err != nil {
		return Policy{}, err
	}
	p.ExpiresAt = p.ExpiresAt.Add(extend)
	p.RenewalCount++
	p.TotalPaidUnits += feeUnits
	s.policies[id] = p
	return p, nil
}

func (s *InMemory) MarkClaimed(ctx context.Context, id string, now time.Time) (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return Policy{}, ErrNotFound
	}
	if err := p.Claimable(now); err != nil {
		return Policy{}, err
	}
	p.Status = StatusClaimed
	s.policies[id] = p
	return p, nil
}

func (s *InMemory) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.policies {
		if p.Status == StatusActive && now.After(p.ExpiresAt) {
			p.Status = StatusExpired
			s.policies[id] = p
			n++
		}
	}
	return n, nil
}
