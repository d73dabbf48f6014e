// Package chain abstracts the settlement side effects of a claim:
// anchoring the oracle attestation and paying the refund. Both return an
// opaque transaction reference that is stored on the claim record.
package chain

import (
	"context"
	"errors"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type Transactor interface {
	// StoreAttestation anchors the proof commitment before any payout.
	StoreAttestation(ctx context.Context, claimID, proofID string, outputs [4]int64) (string, error)

	// IssueRefund transfers amountUnits of the settlement asset to the
	// payer. Returns ErrInsufficientFunds when the reserve cannot cover it.
	IssueRefund(ctx context.Context, to string, amountUnits int64) (string, error)

	// Credit adds collected premiums to the reserve.
	Credit(ctx context.Context, amountUnits int64) error

	// Balance is the refund reserve; FeeBalance funds attestation writes.
	Balance(ctx context.Context) (int64, error)
	FeeBalance(ctx context.Context) (int64, error)
}
