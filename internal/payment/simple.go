package payment

import (
	"context"
	"strconv"
	"time"

	"apishield.io/internal/obs"
)

// SimpleVerifier validates only amount equality and skips replay and
// signature checks. Development and testing profiles only; the config
// loader refuses to select it under a production profile.
type SimpleVerifier struct {
	payTo string
	asset string
	now   func() time.Time
}

var _ Verifier = (*SimpleVerifier)(nil)

func NewSimpleVerifier(payTo, asset string) *SimpleVerifier {
	return &SimpleVerifier{
		payTo: payTo,
		asset: asset,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (v *SimpleVerifier) Verify(ctx context.Context, header, claimedPayer string, requiredAmount int64, maxAge time.Duration) Result {
	parts := ParseHeader(header)
	amount, _ := strconv.ParseInt(parts["amount"], 10, 64)

	a := Authorization{
		Payer:     claimedPayer,
		Amount:    amount,
		Asset:     v.asset,
		PayTo:     v.payTo,
		Timestamp: v.now().Unix(),
		Nonce:     parts["nonce"],
		Signature: parts["signature"],
	}
	if payer := parts["payer"]; payer != "" {
		a.Payer = payer
	}

	if amount == 0 || amount != requiredAmount {
		obs.PaymentVerificationsTotal.WithLabelValues("invalid").Inc()
		return Result{Authorization: a, Valid: false, Reason: "amount mismatch"}
	}

	obs.PaymentVerificationsTotal.WithLabelValues("ok").Inc()
	return Result{Authorization: a, Valid: true}
}
