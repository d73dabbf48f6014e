// Package jsonfile is a single-node durable store: policies and claims
// in one JSON file, rewritten atomically on every change. It backs the
// development profile when a data directory is configured but PostgreSQL
// is not.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"apishield.io/internal/claims"
	"apishield.io/internal/policy"
)

type payload struct {
	Policies  map[string]policy.Policy `json:"policies"`
	Claims    map[string]claims.Claim  `json:"claims"`
	ClaimKeys map[string]string        `json:"claimKeys"` // idempotency key -> claim id
}

type Store struct {
	mu   sync.Mutex
	path string
	data payload
}

func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: payload{
			Policies:  make(map[string]policy.Policy),
			Claims:    make(map[string]claims.Claim),
			ClaimKeys: make(map[string]string),
		},
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) Policies() *PolicyStore { return &PolicyStore{s: s} }
func (s *Store) Claims() *ClaimStore    { return &ClaimStore{s: s} }

// mutate applies fn under the lock and persists the result. When the
// write fails the previous state is restored, so callers never observe a
// change that did not reach disk.
func (s *Store) mutate(fn func(*payload) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	if err := fn(&s.data); err != nil {
		return err
	}
	if err := s.persistLocked(); err != nil {
		var restored payload
		if rerr := json.Unmarshal(before, &restored); rerr == nil {
			s.data = restored
		}
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".apishield-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
