package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"apishield.io/internal/audit"
	"apishield.io/internal/chain"
	"apishield.io/internal/claims"
	"apishield.io/internal/nonce"
	"apishield.io/internal/obs"
	"apishield.io/internal/payment"
	"apishield.io/internal/policy"
	"apishield.io/internal/stream"
)

// Pinger is anything with a health check against backing storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness; a nil Pinger means no backing store to
// check.
type ReadyProbe struct {
	Pinger Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Pinger == nil {
		return nil
	}
	return rp.Pinger.Ping(ctx)
}

// Config wires the HTTP layer's collaborators.
type Config struct {
	Version        string
	Ready          ReadyProbe
	Policies       *policy.Service
	Claims         *claims.Coordinator
	Verifier       payment.Verifier
	Chain          chain.Transactor
	Nonces         nonce.Ledger
	Hub            *stream.Hub
	PayTo          string
	Asset          string
	PaymentMaxAge  time.Duration
	NonceRetention time.Duration
	OperatorAuth   bool
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	policies *policy.Service
	claims   *claims.Coordinator
	verifier payment.Verifier
	chain    chain.Transactor
	nonces   nonce.Ledger
	hub      *stream.Hub

	payTo          string
	asset          string
	maxAge         time.Duration
	nonceRetention time.Duration
	opsAuth        bool
}

func New(cfg Config) *API {
	a := &API{
		mux:            http.NewServeMux(),
		readyProbe:     cfg.Ready,
		version:        cfg.Version,
		policies:       cfg.Policies,
		claims:         cfg.Claims,
		verifier:       cfg.Verifier,
		chain:          cfg.Chain,
		nonces:         cfg.Nonces,
		hub:            cfg.Hub,
		payTo:          cfg.PayTo,
		asset:          cfg.Asset,
		maxAge:         cfg.PaymentMaxAge,
		nonceRetention: cfg.NonceRetention,
		opsAuth:        cfg.OperatorAuth,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// coverage and claims
	a.mux.HandleFunc("/v1/policies", a.handlePoliciesCollection)
	a.mux.HandleFunc("/v1/policies/renew", a.handleRenew)
	a.mux.HandleFunc("/v1/policies/", a.handlePolicyResource)
	a.mux.HandleFunc("/v1/claims", a.handleClaimsCollection)
	a.mux.HandleFunc("/v1/claims/", a.handleClaimResource)
	a.mux.HandleFunc("/v1/verify", a.handleVerifyProof)
	a.mux.HandleFunc("/v1/payments/verify", a.handlePaymentVerify)
	a.mux.HandleFunc("/v1/reserves", a.handleReserves)

	// settlement event stream
	a.mux.HandleFunc("/v1/events", a.Stream)

	// operator surface
	a.mux.Handle("/v1/ops/", a.withOperatorAuth(http.HandlerFunc(a.handleOps)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "apishield-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "apishield-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"asset":   a.asset,
		"payTo":   a.payTo,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
