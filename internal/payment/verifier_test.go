package payment

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"apishield.io/internal/nonce"
)

type solanaParty struct {
	pub  string
	priv ed25519.PrivateKey
}

func newSolanaParty(t *testing.T) solanaParty {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return solanaParty{pub: base58.Encode(pub), priv: priv}
}

type fixture struct {
	verifier *FullVerifier
	ledger   *nonce.InMemory
	payer    solanaParty
	payTo    string
	asset    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	payer := newSolanaParty(t)
	backend := newSolanaParty(t)
	mint := newSolanaParty(t)

	ledger := nonce.NewInMemory()
	v, err := NewFullVerifier(NewSolanaScheme(), ledger, backend.pub, mint.pub)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{verifier: v, ledger: ledger, payer: payer, payTo: backend.pub, asset: mint.pub}
}

func (f *fixture) authorization(t *testing.T, amount, ts int64, nonceVal string) Authorization {
	t.Helper()
	a := Authorization{
		Payer:     f.payer.pub,
		Amount:    amount,
		Asset:     f.asset,
		PayTo:     f.payTo,
		Timestamp: ts,
		Nonce:     nonceVal,
	}
	message, err := NewSolanaScheme().SignedBytes(a)
	if err != nil {
		t.Fatal(err)
	}
	a.Signature = base58.Encode(ed25519.Sign(f.payer.priv, message))
	return a
}

func TestVerifySucceedsAndConsumesNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.authorization(t, 100, time.Now().Unix(), "nonce-1")

	res := f.verifier.Verify(ctx, EncodeHeader(a), "", 100, 5*time.Minute)
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
	if res.Payer != f.payer.pub || res.Amount != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if used, _ := f.ledger.IsUsed(ctx, f.payer.pub, "nonce-1"); !used {
		t.Fatal("nonce was not consumed")
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.authorization(t, 100, time.Now().Unix(), "nonce-replay")
	header := EncodeHeader(a)

	if res := f.verifier.Verify(ctx, header, "", 100, 5*time.Minute); !res.Valid {
		t.Fatalf("first attempt should pass: %q", res.Reason)
	}
	if res := f.verifier.Verify(ctx, header, "", 100, 5*time.Minute); res.Valid {
		t.Fatal("replay accepted")
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	f := newFixture(t)
	a := f.authorization(t, 100, time.Now().Unix()-301, "nonce-stale")

	res := f.verifier.Verify(context.Background(), EncodeHeader(a), "", 100, 300*time.Second)
	if res.Valid {
		t.Fatal("stale authorization accepted")
	}
	if used, _ := f.ledger.IsUsed(context.Background(), f.payer.pub, "nonce-stale"); used {
		t.Fatal("rejected authorization consumed the nonce")
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	f := newFixture(t)
	a := f.authorization(t, 100, time.Now().Unix()+120, "nonce-future")

	if res := f.verifier.Verify(context.Background(), EncodeHeader(a), "", 100, 300*time.Second); res.Valid {
		t.Fatal("future-dated authorization accepted")
	}
}

func TestVerifyRejectsAmountMismatchWithoutSideEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.authorization(t, 99, time.Now().Unix(), "nonce-amt")

	if res := f.verifier.Verify(ctx, EncodeHeader(a), "", 100, 5*time.Minute); res.Valid {
		t.Fatal("amount mismatch accepted")
	}
	// The nonce must remain fresh: a later, correct authorization with the
	// same nonce should still verify.
	a2 := f.authorization(t, 100, time.Now().Unix(), "nonce-amt")
	if res := f.verifier.Verify(ctx, EncodeHeader(a2), "", 100, 5*time.Minute); !res.Valid {
		t.Fatalf("fresh nonce rejected after failed attempt: %q", res.Reason)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	a := f.authorization(t, 100, time.Now().Unix(), "nonce-sig")
	a.Amount = 100
	a.Nonce = "nonce-sig-tampered" // signature no longer covers this nonce

	if res := f.verifier.Verify(context.Background(), EncodeHeader(a), "", 100, 5*time.Minute); res.Valid {
		t.Fatal("tampered authorization accepted")
	}
}

func TestVerifyRejectsWrongRecipient(t *testing.T) {
	f := newFixture(t)
	other := newSolanaParty(t)
	a := f.authorization(t, 100, time.Now().Unix(), "nonce-recipient")
	a.PayTo = other.pub

	if res := f.verifier.Verify(context.Background(), EncodeHeader(a), "", 100, 5*time.Minute); res.Valid {
		t.Fatal("wrong recipient accepted")
	}
}

func TestConcurrentVerificationsSameNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.authorization(t, 100, time.Now().Unix(), "nonce-race")
	header := EncodeHeader(a)

	var wg sync.WaitGroup
	var valid atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := f.verifier.Verify(ctx, header, "", 100, 5*time.Minute); res.Valid {
				valid.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := valid.Load(); got != 1 {
		t.Fatalf("expected exactly one valid verification, got %d", got)
	}
}

func TestSimpleVerifierChecksAmountOnly(t *testing.T) {
	v := NewSimpleVerifier("backend", "asset")
	ctx := context.Background()

	if res := v.Verify(ctx, "amount=100,nonce=x", "payer", 100, time.Minute); !res.Valid {
		t.Fatalf("expected valid: %q", res.Reason)
	}
	if res := v.Verify(ctx, "amount=99,nonce=x", "payer", 100, time.Minute); res.Valid {
		t.Fatal("wrong amount accepted")
	}
}
