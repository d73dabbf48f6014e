package payment

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/mr-tron/base58"
)

// signedMessage is the payload covered by the solana-family signature. It is
// serialized with RFC 8785 canonical JSON (lexicographically sorted keys, no
// insignificant whitespace); clients must sign exactly this encoding.
type signedMessage struct {
	Payer     string `json:"payer"`
	Amount    int64  `json:"amount"`
	Asset     string `json:"asset"`
	PayTo     string `json:"payTo"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// SolanaScheme verifies raw ed25519 signatures over the canonical JSON
// message. Addresses and signatures travel base58-encoded.
type SolanaScheme struct{}

var _ Scheme = (*SolanaScheme)(nil)

func NewSolanaScheme() *SolanaScheme { return &SolanaScheme{} }

func (s *SolanaScheme) Family() string { return "solana" }

func (s *SolanaScheme) NormalizeAddress(addr string) (string, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return "", fmt.Errorf("malformed solana address %q: %w", addr, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("solana address %q is not 32 bytes", addr)
	}
	// Base58 is case-sensitive; the decoded form is already canonical.
	return addr, nil
}

// SignedBytes returns the canonical message bytes for an authorization.
// Exported so clients and tests produce the exact bytes the verifier checks.
func (s *SolanaScheme) SignedBytes(a Authorization) ([]byte, error) {
	raw, err := json.Marshal(signedMessage{
		Payer:     a.Payer,
		Amount:    a.Amount,
		Asset:     a.Asset,
		PayTo:     a.PayTo,
		Timestamp: a.Timestamp,
		Nonce:     a.Nonce,
	})
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

func (s *SolanaScheme) VerifySignature(a Authorization) error {
	message, err := s.SignedBytes(a)
	if err != nil {
		return fmt.Errorf("%w: canonicalize: %v", ErrBadSignature, err)
	}

	pub, err := base58.Decode(a.Payer)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed payer key", ErrBadSignature)
	}
	sig, err := base58.Decode(a.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return ErrBadSignature
	}
	return nil
}
