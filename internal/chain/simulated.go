package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"apishield.io/internal/ids"
	"apishield.io/internal/obs"
)

// Cost in fee units of anchoring one attestation.
const attestationFee = 1

// Simulated keeps reserve and fee balances in memory and fabricates
// transaction references. It is the transactor for the development
// profile, the demo and tests.
type Simulated struct {
	mu           sync.Mutex
	reserveUnits int64
	feeUnits     int64
}

var _ Transactor = (*Simulated)(nil)

func NewSimulated(reserveUnits, feeUnits int64) *Simulated {
	return &Simulated{reserveUnits: reserveUnits, feeUnits: feeUnits}
}

func (s *Simulated) StoreAttestation(ctx context.Context, claimID, proofID string, outputs [4]int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeUnits < attestationFee {
		return "", fmt.Errorf("attestation: %w", ErrInsufficientFunds)
	}
	s.feeUnits -= attestationFee

	ref := txRef("attest", claimID, proofID)
	obs.Event("info", "attestation stored", map[string]any{
		"claim_id": claimID,
		"proof_id": proofID,
		"tx":       ref,
	})
	return ref, nil
}

func (s *Simulated) IssueRefund(ctx context.Context, to string, amountUnits int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amountUnits > s.reserveUnits {
		return "", fmt.Errorf("refund of %d: %w", amountUnits, ErrInsufficientFunds)
	}
	s.reserveUnits -= amountUnits

	ref := txRef("refund", to)
	obs.Event("info", "refund issued", map[string]any{
		"to":     to,
		"amount": amountUnits,
		"tx":     ref,
	})
	return ref, nil
}

func (s *Simulated) Credit(ctx context.Context, amountUnits int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveUnits += amountUnits
	return nil
}

func (s *Simulated) Balance(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveUnits, nil
}

func (s *Simulated) FeeBalance(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeUnits, nil
}

func txRef(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	h.Write([]byte(ids.New()))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
