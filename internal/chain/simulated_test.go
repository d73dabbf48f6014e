package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRefundDebitsReserve(t *testing.T) {
	s := NewSimulated(1000, 10)
	ctx := context.Background()

	ref, err := s.IssueRefund(ctx, "payer", 400)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "0x") || len(ref) != 66 {
		t.Fatalf("tx ref %q", ref)
	}
	if bal, _ := s.Balance(ctx); bal != 600 {
		t.Fatalf("balance %d", bal)
	}

	if _, err := s.IssueRefund(ctx, "payer", 601); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft: %v", err)
	}
	if bal, _ := s.Balance(ctx); bal != 600 {
		t.Fatal("failed refund changed the balance")
	}
}

func TestAttestationConsumesFees(t *testing.T) {
	s := NewSimulated(0, 1)
	ctx := context.Background()

	if _, err := s.StoreAttestation(ctx, "c1", "p1", [4]int64{1, 503, 0, 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreAttestation(ctx, "c2", "p2", [4]int64{1, 503, 0, 100}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("empty fee balance: %v", err)
	}
}

func TestCreditGrowsReserve(t *testing.T) {
	s := NewSimulated(10, 10)
	ctx := context.Background()

	if err := s.Credit(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if bal, _ := s.Balance(ctx); bal != 15 {
		t.Fatalf("balance %d", bal)
	}
}
