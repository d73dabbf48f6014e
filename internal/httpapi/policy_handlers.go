package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type createPolicyRequest struct {
	Payer         string `json:"payer"`
	MerchantURL   string `json:"merchant_url"`
	CoverageUnits int64  `json:"coverage_units"`
}

type renewPolicyRequest struct {
	PolicyID string `json:"policy_id"`
	Payer    string `json:"payer"`
}

func (a *API) handlePoliciesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPolicy(w, r)
	case http.MethodGet:
		a.listPolicies(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/policies/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getPolicy(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleRenew(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.renewPolicy(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Payer) == "" {
		writeError(w, r, http.StatusBadRequest, "payer is required")
		return
	}
	if strings.TrimSpace(req.MerchantURL) == "" {
		writeError(w, r, http.StatusBadRequest, "merchant_url is required")
		return
	}

	premium, err := a.policies.Quote(req.CoverageUnits)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !a.collectPayment(w, r, req.Payer, premium) {
		return
	}

	p, err := a.policies.Create(r.Context(), req.Payer, req.MerchantURL, req.CoverageUnits)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "policy.create", map[string]any{
		"policy_id": p.ID,
		"payer":     p.Payer,
		"coverage":  p.CoverageUnits,
		"premium":   p.PremiumUnits,
	})

	w.Header().Set("Location", "/v1/policies/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listPolicies(w http.ResponseWriter, r *http.Request) {
	payer := strings.TrimSpace(r.URL.Query().Get("payer"))
	if payer == "" {
		writeError(w, r, http.StatusBadRequest, "payer query parameter is required")
		return
	}
	items, err := a.policies.ListByPayer(r.Context(), payer)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.policies.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) renewPolicy(w http.ResponseWriter, r *http.Request) {
	var req renewPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PolicyID) == "" || strings.TrimSpace(req.Payer) == "" {
		writeError(w, r, http.StatusBadRequest, "policy_id and payer are required")
		return
	}

	_, fee, err := a.policies.RenewalQuote(r.Context(), req.PolicyID, req.Payer)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !a.collectPayment(w, r, req.Payer, fee) {
		return
	}

	p, err := a.policies.Renew(r.Context(), req.PolicyID, req.Payer)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "policy.renew", map[string]any{
		"policy_id": p.ID,
		"renewals":  p.RenewalCount,
		"fee":       fee,
	})
	writeJSON(w, http.StatusOK, p)
}

// collectPayment enforces the pay-per-call flow: without an X-Payment
// header the response is a 402 challenge naming the exact price; with
// one, the authorization must verify for exactly that price. The reason
// a verification failed is logged, never returned to the caller.
func (a *API) collectPayment(w http.ResponseWriter, r *http.Request, payer string, amount int64) bool {
	header := strings.TrimSpace(r.Header.Get("X-Payment"))
	if header == "" {
		w.Header().Set("X-Payment-Required", fmt.Sprintf(
			"amount=%d,asset=%s,payTo=%s,maxAgeSeconds=%d",
			amount, a.asset, a.payTo, int64(a.maxAge.Seconds())))
		writeError(w, r, http.StatusPaymentRequired, "payment required")
		return false
	}

	res := a.verifier.Verify(r.Context(), header, payer, amount, a.maxAge)
	if !res.Valid {
		writeError(w, r, http.StatusPaymentRequired, "invalid payment authorization")
		return false
	}
	if a.chain != nil {
		_ = a.chain.Credit(r.Context(), amount)
	}
	return true
}
