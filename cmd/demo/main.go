package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	mrand "math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"apishield.io/internal/payment"
)

// The demo exercises a running service end to end: it buys policies
// through the 402 challenge flow, files claims against two local
// merchants (one broken, one healthy) and tallies the outcomes.
func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent worker count")
		duration = flag.Duration("duration", time.Minute, "Duration of the run")
		family   = flag.String("family", "evm", "Payment scheme family: evm or solana")
		chainID  = flag.Int64("chain-id", 8453, "EIP-712 chain id (evm family)")
		coverage = flag.Int64("coverage", 500_000, "Coverage per policy, micro units")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching demo: base=%s workers=%d duration=%s family=%s", *baseURL, *workers, *duration, *family)

	client := &http.Client{Timeout: 10 * time.Second}

	info, err := fetchInfo(ctx, client, *baseURL)
	if err != nil {
		log.Fatalf("fetch info: %v", err)
	}
	log.Printf("Service %s %s, asset=%s payTo=%s", info.Name, info.Version, info.Asset, info.PayTo)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "all good")
	}))
	defer healthy.Close()

	var paid, denied, conflicts, rateLimited, failures int64
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		signer, err := newSigner(*family, *chainID, info.Asset, info.PayTo)
		if err != nil {
			log.Fatalf("worker signer: %v", err)
		}
		wg.Add(1)
		go func(id int, signer *payerSigner) {
			defer wg.Done()
			rnd := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}

				merchant := broken.URL
				wantPayout := true
				if rnd.Intn(3) == 0 {
					merchant = healthy.URL
					wantPayout = false
				}

				status, err := runScenario(ctx, client, *baseURL, signer, merchant, *coverage)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
					log.Printf("worker %d: %v", id, err)
					time.Sleep(200 * time.Millisecond)
				case status == http.StatusTooManyRequests:
					atomic.AddInt64(&rateLimited, 1)
					time.Sleep(250 * time.Millisecond)
				case status == http.StatusConflict:
					atomic.AddInt64(&conflicts, 1)
				case status >= 400:
					atomic.AddInt64(&failures, 1)
					log.Printf("worker %d: unexpected status %d", id, status)
				case wantPayout:
					atomic.AddInt64(&paid, 1)
				default:
					atomic.AddInt64(&denied, 1)
				}
				time.Sleep(time.Duration(50+rnd.Intn(150)) * time.Millisecond)
			}
		}(i, signer)
	}

	wg.Wait()
	log.Printf("Run complete: paid=%d denied=%d conflicts=%d rate_limited=%d failures=%d",
		paid, denied, conflicts, rateLimited, failures)
}

type serviceInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Asset   string `json:"asset"`
	PayTo   string `json:"payTo"`
}

func fetchInfo(ctx context.Context, client *http.Client, baseURL string) (serviceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/info", nil)
	if err != nil {
		return serviceInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return serviceInfo{}, err
	}
	defer resp.Body.Close()
	var info serviceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return serviceInfo{}, err
	}
	return info, nil
}

// payerSigner produces signed X-Payment headers for one payer identity.
type payerSigner struct {
	family  string
	payer   string
	asset   string
	payTo   string
	evm     *payment.EVMScheme
	solana  *payment.SolanaScheme
	signEVM func(digest []byte) ([]byte, error)
	signSol func(message []byte) []byte
}

func newSigner(family string, chainID int64, asset, payTo string) (*payerSigner, error) {
	s := &payerSigner{family: family, asset: asset, payTo: payTo}
	switch family {
	case "solana":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		s.payer = base58.Encode(pub)
		s.solana = payment.NewSolanaScheme()
		s.signSol = func(message []byte) []byte { return ed25519.Sign(priv, message) }
	case "evm":
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		s.payer = crypto.PubkeyToAddress(key.PublicKey).Hex()
		s.evm = payment.NewEVMScheme(chainID)
		s.signEVM = func(digest []byte) ([]byte, error) { return crypto.Sign(digest, key) }
	default:
		return nil, fmt.Errorf("unknown family %q", family)
	}
	return s, nil
}

func (s *payerSigner) header(amount int64) (string, error) {
	a := payment.Authorization{
		Payer:     s.payer,
		Amount:    amount,
		Asset:     s.asset,
		PayTo:     s.payTo,
		Timestamp: time.Now().Unix(),
		Nonce:     uuid.NewString(),
	}
	switch s.family {
	case "solana":
		message, err := s.solana.SignedBytes(a)
		if err != nil {
			return "", err
		}
		a.Signature = base58.Encode(s.signSol(message))
	case "evm":
		digest, err := s.evm.SigningHash(a)
		if err != nil {
			return "", err
		}
		sig, err := s.signEVM(digest)
		if err != nil {
			return "", err
		}
		sig[crypto.RecoveryIDOffset] += 27
		a.Signature = hexutil.Encode(sig)
	}
	return payment.EncodeHeader(a), nil
}

// runScenario buys a policy and immediately files a claim against it.
// The returned status is the claim submission's, or the first non-2xx
// status along the way.
func runScenario(ctx context.Context, client *http.Client, baseURL string, signer *payerSigner, merchant string, coverage int64) (int, error) {
	body := map[string]any{
		"payer":          signer.payer,
		"merchant_url":   merchant,
		"coverage_units": coverage,
	}

	status, headers, _, err := post(ctx, client, baseURL+"/v1/policies", body, nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusPaymentRequired {
		return status, nil
	}
	challenge := payment.ParseHeader(headers.Get("X-Payment-Required"))
	amount, err := strconv.ParseInt(challenge["amount"], 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("bad challenge %q", headers.Get("X-Payment-Required"))
	}

	ph, err := signer.header(amount)
	if err != nil {
		return 0, err
	}
	status, _, raw, err := post(ctx, client, baseURL+"/v1/policies", body, map[string]string{"X-Payment": ph})
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated {
		return status, nil
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, err
	}

	status, _, _, err = post(ctx, client, baseURL+"/v1/claims", map[string]any{
		"policy_id": p.ID,
		"payer":     signer.payer,
	}, map[string]string{"Idempotency-Key": uuid.NewString()})
	return status, err
}

func post(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) (int, http.Header, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, resp.Header, buf.Bytes(), nil
}
