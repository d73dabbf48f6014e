package jsonfile

import (
	"context"
	"sort"
	"strings"
	"time"

	"apishield.io/internal/policy"
)

type PolicyStore struct {
	s *Store
}

var _ policy.Store = (*PolicyStore)(nil)

func (ps *PolicyStore) Insert(ctx context.Context, p policy.Policy) error {
	return ps.s.mutate(func(d *payload) error {
		d.Policies[p.ID] = p
		return nil
	})
}

func (ps *PolicyStore) Get(ctx context.Context, id string) (policy.Policy, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.data.Policies[id]
	if !ok {
		return policy.Policy{}, policy.ErrNotFound
	}
	return p, nil
}

func (ps *PolicyStore) ListByPayer(ctx context.Context, payer string) ([]policy.Policy, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	var out []policy.Policy
	for _, p := range ps.s.data.Policies {
		if strings.EqualFold(p.Payer, payer) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (ps *PolicyStore) Renew(ctx context.Context, id string, extend time.Duration, feeUnits int64, now time.Time) (policy.Policy, error) {
	var renewed policy.Policy
	err := ps.s.mutate(func(d *payload) error {
		p, ok := d.Policies[id]
		if !ok {
			return policy.ErrNotFound
		}
		if err := p.Claimable(now); err != nil {
			return err
		}
		p.ExpiresAt = p.ExpiresAt.Add(extend)
		p.RenewalCount++
		p.TotalPaidUnits += feeUnits
		d.Policies[id] = p
		renewed = p
		return nil
	})
	return renewed, err
}

func (ps *PolicyStore) MarkClaimed(ctx context.Context, id string, now time.Time) (policy.Policy, error) {
	var claimed policy.Policy
	err := ps.s.mutate(func(d *payload) error {
		p, ok := d.Policies[id]
		if !ok {
			return policy.ErrNotFound
		}
		if err := p.Claimable(now); err != nil {
			return err
		}
		p.Status = policy.StatusClaimed
		d.Policies[id] = p
		claimed = p
		return nil
	})
	return claimed, err
}

func (ps *PolicyStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	n := 0
	err := ps.s.mutate(func(d *payload) error {
		for id, p := range d.Policies {
			if p.Status == policy.StatusActive && now.After(p.ExpiresAt) {
				p.Status = policy.StatusExpired
				d.Policies[id] = p
				n++
			}
		}
		return nil
	})
	return n, err
}
