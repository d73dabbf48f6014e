package jsonfile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"apishield.io/internal/claims"
	"apishield.io/internal/policy"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return s, path
}

func TestStateSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := policy.Policy{
		ID: "pol1", Payer: "payer", MerchantURL: "https://api.example.com",
		CoverageUnits: 1000, Status: policy.StatusActive,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.Policies().Insert(ctx, p); err != nil {
		t.Fatal(err)
	}
	c := claims.Claim{
		ID: "c1", PolicyID: "pol1", IdempotencyKey: "k1", Payer: "payer",
		Status: claims.StatusProcessing, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.Claims().Insert(ctx, c); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	gotP, err := reopened.Policies().Get(ctx, "pol1")
	if err != nil || gotP.CoverageUnits != 1000 {
		t.Fatalf("policy after reopen: %+v %v", gotP, err)
	}
	gotC, err := reopened.Claims().GetByIdempotencyKey(ctx, "k1")
	if err != nil || gotC.ID != "c1" {
		t.Fatalf("claim after reopen: %+v %v", gotC, err)
	}
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	if err := s.Claims().Insert(ctx, claims.Claim{ID: "c1", IdempotencyKey: "k1"}); err != nil {
		t.Fatal(err)
	}
	err := s.Claims().Insert(ctx, claims.Claim{ID: "c2", IdempotencyKey: "k1"})
	if !errors.Is(err, claims.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	// The losing insert must not leave a claim behind.
	if _, err := s.Claims().Get(ctx, "c2"); !errors.Is(err, claims.ErrNotFound) {
		t.Fatalf("orphan claim: %v", err)
	}
}

func TestRenewAndClaimTransitions(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := policy.Policy{ID: "pol1", Payer: "payer", Status: policy.StatusActive, ExpiresAt: now.Add(time.Hour)}
	if err := s.Policies().Insert(ctx, p); err != nil {
		t.Fatal(err)
	}

	renewed, err := s.Policies().Renew(ctx, "pol1", time.Hour, 5, now)
	if err != nil || renewed.RenewalCount != 1 || renewed.TotalPaidUnits != 5 {
		t.Fatalf("renew: %+v %v", renewed, err)
	}

	if _, err := s.Policies().MarkClaimed(ctx, "pol1", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Policies().Renew(ctx, "pol1", time.Hour, 5, now); !errors.Is(err, policy.ErrAlreadyClaimed) {
		t.Fatalf("renew after claim: %v", err)
	}
}

func TestExpireDuePersists(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := policy.Policy{ID: "pol1", Payer: "payer", Status: policy.StatusActive, ExpiresAt: now.Add(-time.Minute)}
	if err := s.Policies().Insert(ctx, p); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Policies().ExpireDue(ctx, now); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Policies().Get(ctx, "pol1")
	if err != nil || got.Status != policy.StatusExpired {
		t.Fatalf("after reopen: %+v %v", got, err)
	}
}
