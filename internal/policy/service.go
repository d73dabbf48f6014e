package policy

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"apishield.io/internal/obs"
)

// Service prices and manages policies on top of a Store. Premiums are a
// flat fraction of the covered amount, rounded up, never below one unit.
type Service struct {
	store       Store
	premiumRate float64
	maxCoverage int64
	duration    time.Duration
	now         func() time.Time
}

func NewService(store Store, premiumRate float64, maxCoverageUnits int64, duration time.Duration) *Service {
	return &Service{
		store:       store,
		premiumRate: premiumRate,
		maxCoverage: maxCoverageUnits,
		duration:    duration,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Quote returns the premium for the requested coverage. Callers quote
// first, collect payment for exactly the quoted amount, then Create.
func (s *Service) Quote(coverageUnits int64) (int64, error) {
	if coverageUnits <= 0 {
		return 0, fmt.Errorf("%w: coverage must be positive", ErrValidation)
	}
	if coverageUnits > s.maxCoverage {
		return 0, fmt.Errorf("%w: coverage exceeds maximum %d", ErrValidation, s.maxCoverage)
	}
	premium := int64(math.Ceil(float64(coverageUnits) * s.premiumRate))
	if premium < 1 {
		premium = 1
	}
	return premium, nil
}

func (s *Service) Create(ctx context.Context, payer, merchantURL string, coverageUnits int64) (Policy, error) {
	payer = strings.TrimSpace(payer)
	merchantURL = strings.TrimSpace(merchantURL)
	if payer == "" {
		return Policy{}, fmt.Errorf("%w: payer required", ErrValidation)
	}
	u, err := url.Parse(merchantURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Policy{}, fmt.Errorf("%w: merchant url must be absolute http(s)", ErrValidation)
	}

	premium, err := s.Quote(coverageUnits)
	if err != nil {
		return Policy{}, err
	}

	now := s.now()
	p := Policy{
		ID:             uuid.NewString(),
		Payer:          payer,
		MerchantURL:    merchantURL,
		MerchantHash:   MerchantHash(merchantURL),
		CoverageUnits:  coverageUnits,
		PremiumUnits:   premium,
		Status:         StatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.duration),
		TotalPaidUnits: premium,
	}
	if err := s.store.Insert(ctx, p); err != nil {
		return Policy{}, err
	}

	obs.PoliciesCreatedTotal.Inc()
	obs.Event("info", "policy created", map[string]any{
		"policy_id": p.ID,
		"payer":     p.Payer,
		"coverage":  p.CoverageUnits,
	})
	return p, nil
}

// RenewalQuote returns the policy and the fee a renewal would cost. The
// fee equals the original premium. Ownership is checked so one payer
// cannot probe another's policies.
func (s *Service) RenewalQuote(ctx context.Context, id, payer string) (Policy, int64, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return Policy{}, 0, err
	}
	if !strings.EqualFold(p.Payer, strings.TrimSpace(payer)) {
		return Policy{}, 0, ErrNotFound
	}
	if err := p.Claimable(s.now()); err != nil {
		return Policy{}, 0, err
	}
	return p, p.PremiumUnits, nil
}

// Renew extends the policy by one full coverage period after the renewal
// fee has been collected.
func (s *Service) Renew(ctx context.Context, id, payer string) (Policy, error) {
	p, fee, err := s.RenewalQuote(ctx, id, payer)
	if err != nil {
		return Policy{}, err
	}
	renewed, err := s.store.Renew(ctx, p.ID, s.duration, fee, s.now())
	if err != nil {
		return Policy{}, err
	}

	obs.PoliciesRenewedTotal.Inc()
	obs.Event("info", "policy renewed", map[string]any{
		"policy_id": renewed.ID,
		"renewals":  renewed.RenewalCount,
		"expires":   renewed.ExpiresAt.Format(time.RFC3339),
	})
	return renewed, nil
}

func (s *Service) Get(ctx context.Context, id string) (Policy, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByPayer(ctx context.Context, payer string) ([]Policy, error) {
	return s.store.ListByPayer(ctx, strings.TrimSpace(payer))
}

// ExpireDue sweeps expired policies. Run periodically by the server.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.Event("info", "policies expired", map[string]any{"count": n})
	}
	return n, nil
}
