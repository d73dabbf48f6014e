package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"apishield.io/internal/obs"
)

// Signer is a Transactor backed by a local secp256k1 key. Transaction
// references are real signatures over the settlement payload, so an
// auditor holding the operator address can check that every reference
// stored on a claim was produced by this service. Balances are tracked
// the same way the simulated transactor tracks them; broadcasting to a
// node is out of scope here.
type Signer struct {
	*Simulated
	key     *ecdsa.PrivateKey
	address string
}

var _ Transactor = (*Signer)(nil)

// NewSigner loads a hex-encoded secp256k1 key from keyPath.
func NewSigner(keyPath string, reserveUnits, feeUnits int64) (*Signer, error) {
	key, err := crypto.LoadECDSA(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	s := &Signer{
		Simulated: NewSimulated(reserveUnits, feeUnits),
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	obs.Event("info", "transactor signer loaded", map[string]any{"address": s.address})
	return s, nil
}

// Address returns the operator address derived from the signing key.
func (s *Signer) Address() string { return s.address }

func (s *Signer) StoreAttestation(ctx context.Context, claimID, proofID string, outputs [4]int64) (string, error) {
	if _, err := s.Simulated.StoreAttestation(ctx, claimID, proofID, outputs); err != nil {
		return "", err
	}
	var packed [32]byte
	for i, v := range outputs {
		binary.BigEndian.PutUint64(packed[i*8:], uint64(v))
	}
	return s.sign("attest", []byte(claimID), []byte(proofID), packed[:])
}

func (s *Signer) IssueRefund(ctx context.Context, to string, amountUnits int64) (string, error) {
	if _, err := s.Simulated.IssueRefund(ctx, to, amountUnits); err != nil {
		return "", err
	}
	var amount [8]byte
	binary.BigEndian.PutUint64(amount[:], uint64(amountUnits))
	return s.sign("refund", []byte(to), amount[:])
}

func (s *Signer) sign(kind string, parts ...[]byte) (string, error) {
	data := []byte(kind)
	for _, p := range parts {
		data = append(data, p...)
	}
	sig, err := crypto.Sign(crypto.Keccak256(data), s.key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", kind, err)
	}
	return hexutil.Encode(sig), nil
}
