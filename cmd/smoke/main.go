package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"apishield.io/internal/payment"
)

// One sequential pass over the whole surface against a running service:
// purchase, claim against a broken merchant, proof check, idempotent
// replay. Exits non-zero on the first broken invariant.
func main() {
	log.SetFlags(0)
	var (
		baseURL = flag.String("base-url", envOr("APISHIELD_API_URL", "http://localhost:8080"), "API base URL")
		chainID = flag.Int64("chain-id", 8453, "EIP-712 chain id")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	client := &http.Client{Timeout: 10 * time.Second}

	mustGet(ctx, client, *baseURL+"/healthz", http.StatusOK, nil)

	var info struct {
		Asset string `json:"asset"`
		PayTo string `json:"payTo"`
	}
	mustGet(ctx, client, *baseURL+"/v1/info", http.StatusOK, &info)

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	scheme := payment.NewEVMScheme(*chainID)

	merchant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "smoke outage", http.StatusServiceUnavailable)
	}))
	defer merchant.Close()

	// Purchase: challenge, then pay the quoted premium.
	policyBody := map[string]any{
		"payer":          payer,
		"merchant_url":   merchant.URL,
		"coverage_units": int64(250_000),
	}
	status, headers, _ := do(ctx, client, http.MethodPost, *baseURL+"/v1/policies", policyBody, nil)
	if status != http.StatusPaymentRequired {
		log.Fatalf("expected 402 challenge, got %d", status)
	}
	challenge := payment.ParseHeader(headers.Get("X-Payment-Required"))
	premium, err := strconv.ParseInt(challenge["amount"], 10, 64)
	if err != nil || premium <= 0 {
		log.Fatalf("bad challenge: %q", headers.Get("X-Payment-Required"))
	}

	a := payment.Authorization{
		Payer:     payer,
		Amount:    premium,
		Asset:     info.Asset,
		PayTo:     info.PayTo,
		Timestamp: time.Now().Unix(),
		Nonce:     uuid.NewString(),
	}
	digest, err := scheme.SigningHash(a)
	if err != nil {
		log.Fatalf("signing hash: %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		log.Fatalf("sign payment: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	a.Signature = hexutil.Encode(sig)

	var p struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PremiumUnits  int64  `json:"premiumUnits"`
		CoverageUnits int64  `json:"coverageUnits"`
	}
	status, _, raw := do(ctx, client, http.MethodPost, *baseURL+"/v1/policies", policyBody,
		map[string]string{"X-Payment": payment.EncodeHeader(a)})
	if status != http.StatusCreated {
		log.Fatalf("create policy: status %d body %s", status, raw)
	}
	mustUnmarshal(raw, &p)
	if p.Status != "active" || p.PremiumUnits != premium {
		log.Fatalf("unexpected policy: %+v", p)
	}

	// Claim: the merchant is down, so the claim must settle paid.
	idem := uuid.NewString()
	claimBody := map[string]any{"policy_id": p.ID, "payer": payer}
	var cl struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		AttestationTx string `json:"attestationTx"`
		PayoutTx      string `json:"payoutTx"`
		PayoutUnits   int64  `json:"payoutUnits"`
	}
	status, _, raw = do(ctx, client, http.MethodPost, *baseURL+"/v1/claims", claimBody,
		map[string]string{"Idempotency-Key": idem})
	if status != http.StatusCreated {
		log.Fatalf("submit claim: status %d body %s", status, raw)
	}
	mustUnmarshal(raw, &cl)
	if cl.Status != "paid" || cl.AttestationTx == "" || cl.PayoutTx == "" {
		log.Fatalf("claim did not pay out: %+v", cl)
	}
	if cl.PayoutUnits != p.CoverageUnits {
		log.Fatalf("payout %d != coverage %d", cl.PayoutUnits, p.CoverageUnits)
	}

	// Replay must return the same settlement, not a second payout.
	var replay struct {
		ID       string `json:"id"`
		PayoutTx string `json:"payoutTx"`
	}
	status, _, raw = do(ctx, client, http.MethodPost, *baseURL+"/v1/claims", claimBody,
		map[string]string{"Idempotency-Key": idem})
	if status != http.StatusOK {
		log.Fatalf("replay: status %d", status)
	}
	mustUnmarshal(raw, &replay)
	if replay.ID != cl.ID || replay.PayoutTx != cl.PayoutTx {
		log.Fatalf("replay diverged: %+v vs %+v", replay, cl)
	}

	// Proof must re-verify.
	var proof struct {
		Verified      bool     `json:"verified"`
		PublicOutputs [4]int64 `json:"public_outputs"`
	}
	mustGet(ctx, client, *baseURL+"/v1/claims/"+cl.ID+"/proof", http.StatusOK, &proof)
	if !proof.Verified || proof.PublicOutputs[0] != 1 {
		log.Fatalf("proof check failed: %+v", proof)
	}

	fmt.Printf("✅ smoke passed: policy=%s claim=%s payout=%d\n", p.ID, cl.ID, cl.PayoutUnits)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func do(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string) (int, http.Header, []byte) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, resp.Header, buf.Bytes()
}

func mustGet(ctx context.Context, client *http.Client, url string, wantStatus int, dst any) {
	status, _, raw := do(ctx, client, http.MethodGet, url, nil, nil)
	if status != wantStatus {
		log.Fatalf("GET %s: status %d body %s", url, status, raw)
	}
	if dst != nil {
		mustUnmarshal(raw, dst)
	}
}

func mustUnmarshal(raw []byte, dst any) {
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Fatalf("decode %s: %v", raw, err)
	}
}
