package payment

import "errors"

// ErrBadSignature is returned by a Scheme when the signature does not
// verify or the recovered signer does not match the payer.
var ErrBadSignature = errors.New("signature verification failed")

// Scheme binds address normalization and signature verification to an asset
// family. The signed message covers {payer, amount, asset, payTo,
// timestamp, nonce}; the encoding is scheme-specific.
type Scheme interface {
	Family() string
	// NormalizeAddress canonicalizes an address for comparison. Returns
	// an error for addresses that are malformed for the family.
	NormalizeAddress(addr string) (string, error)
	// VerifySignature checks a.Signature over the canonical encoding and
	// confirms the signer equals a.Payer.
	VerifySignature(a Authorization) error
}
