package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"apishield.io/internal/nonce"
	"apishield.io/internal/obs"
)

const clockSkewAllowance = 60 * time.Second

// Verifier validates a presented payment authorization against the required
// amount. A valid result has the durable side effect of consuming the
// nonce; an invalid result has no persisted side effect.
type Verifier interface {
	Verify(ctx context.Context, header, claimedPayer string, requiredAmount int64, maxAge time.Duration) Result
}

// FullVerifier performs the complete check sequence: field presence, exact
// amount, recipient, asset, timestamp freshness, replay status and the
// detached signature, in that order. Every check short-circuits to an
// invalid result; the failing check is only disclosed in the log.
type FullVerifier struct {
	scheme Scheme
	ledger nonce.Ledger
	payTo  string
	asset  string
	now    func() time.Time
}

var _ Verifier = (*FullVerifier)(nil)

// NewFullVerifier normalizes and pins the settlement recipient and asset at
// construction time.
func NewFullVerifier(scheme Scheme, ledger nonce.Ledger, payTo, asset string) (*FullVerifier, error) {
	normalizedPayTo, err := scheme.NormalizeAddress(payTo)
	if err != nil {
		return nil, fmt.Errorf("backend address: %w", err)
	}
	normalizedAsset, err := scheme.NormalizeAddress(asset)
	if err != nil {
		return nil, fmt.Errorf("settlement asset: %w", err)
	}
	return &FullVerifier{
		scheme: scheme,
		ledger: ledger,
		payTo:  normalizedPayTo,
		asset:  normalizedAsset,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (v *FullVerifier) Verify(ctx context.Context, header, claimedPayer string, requiredAmount int64, maxAge time.Duration) Result {
	parts := ParseHeader(header)

	a := Authorization{
		Payer:     parts["payer"],
		Asset:     parts["asset"],
		PayTo:     parts["payTo"],
		Nonce:     parts["nonce"],
		Signature: parts["signature"],
	}
	if a.Payer == "" {
		a.Payer = claimedPayer
	}
	a.Amount, _ = strconv.ParseInt(parts["amount"], 10, 64)
	a.Timestamp, _ = strconv.ParseInt(parts["timestamp"], 10, 64)

	if a.Payer == "" || a.Amount == 0 || a.Asset == "" || a.PayTo == "" ||
		a.Timestamp == 0 || a.Nonce == "" || a.Signature == "" {
		return v.reject(a, "missing required payment fields")
	}

	if a.Amount != requiredAmount {
		return v.reject(a, fmt.Sprintf("amount mismatch: provided=%d required=%d", a.Amount, requiredAmount))
	}

	payTo, err := v.scheme.NormalizeAddress(a.PayTo)
	if err != nil || payTo != v.payTo {
		return v.reject(a, "recipient mismatch")
	}

	asset, err := v.scheme.NormalizeAddress(a.Asset)
	if err != nil || asset != v.asset {
		return v.reject(a, "asset mismatch")
	}

	now := v.now().Unix()
	if a.Timestamp > now+int64(clockSkewAllowance.Seconds()) {
		return v.reject(a, "timestamp in the future")
	}
	if now-a.Timestamp > int64(maxAge.Seconds()) {
		return v.reject(a, fmt.Sprintf("timestamp too old: %ds (max %ds)", now-a.Timestamp, int64(maxAge.Seconds())))
	}

	used, err := v.ledger.IsUsed(ctx, a.Payer, a.Nonce)
	if err != nil {
		return v.reject(a, "nonce ledger unavailable")
	}
	if used {
		obs.NonceReplaysTotal.Inc()
		return v.reject(a, "nonce already used")
	}

	if err := v.scheme.VerifySignature(a); err != nil {
		return v.reject(a, err.Error())
	}

	// The authoritative replay gate: MarkUsed is atomic per key, so of two
	// concurrent verifications for the same (payer, nonce) at most one can
	// get past this point.
	if err := v.ledger.MarkUsed(ctx, a.Payer, a.Nonce, time.Unix(a.Timestamp, 0)); err != nil {
		if errors.Is(err, nonce.ErrUsed) {
			obs.NonceReplaysTotal.Inc()
			return v.reject(a, "nonce already used (concurrent)")
		}
		return v.reject(a, "nonce mark failed")
	}

	obs.PaymentVerificationsTotal.WithLabelValues("ok").Inc()
	obs.Event("info", "payment verified", map[string]any{
		"payer":  a.Payer,
		"amount": a.Amount,
	})
	return Result{Authorization: a, Valid: true}
}

func (v *FullVerifier) reject(a Authorization, reason string) Result {
	obs.PaymentVerificationsTotal.WithLabelValues("invalid").Inc()
	obs.Event("warn", "payment verification failed", map[string]any{
		"payer":  a.Payer,
		"reason": reason,
	})
	return Result{Authorization: a, Valid: false, Reason: reason}
}
