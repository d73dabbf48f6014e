package httpapi

import (
	"net/http"
	"strings"

	"apishield.io/internal/oracle"
)

type verifyProofRequest struct {
	ClaimID       string   `json:"claim_id,omitempty"`
	ProofID       string   `json:"proof_id,omitempty"`
	PublicOutputs [4]int64 `json:"public_outputs,omitempty"`
	Proof         []byte   `json:"proof,omitempty"`
}

type verifyPaymentRequest struct {
	PaymentHeader string `json:"payment_header"`
	Payer         string `json:"payer"`
	Amount        int64  `json:"amount"`
}

// handleVerifyProof checks a settlement proof, either by claim id
// (re-deriving from the stored record) or from a detached proof +
// public outputs pair supplied by the caller.
func (a *API) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyProofRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if id := strings.TrimSpace(req.ClaimID); id != "" {
		ev, verified, err := a.claims.Proof(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"verified":       verified,
			"claim_id":       id,
			"proof_id":       ev.ProofID,
			"public_outputs": ev.PublicOutputs,
		})
		return
	}

	if strings.TrimSpace(req.ProofID) == "" || len(req.Proof) == 0 {
		writeError(w, r, http.StatusBadRequest, "claim_id or proof_id+proof is required")
		return
	}
	verified, err := a.claims.VerifyProof(r.Context(), oracle.Evaluation{
		ProofID:       req.ProofID,
		PublicOutputs: req.PublicOutputs,
		ProofBlob:     req.Proof,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":       verified,
		"proof_id":       req.ProofID,
		"public_outputs": req.PublicOutputs,
	})
}

// handlePaymentVerify settles a payment authorization on behalf of a
// resource server: a valid result consumes the nonce, so the same
// authorization cannot be presented twice.
func (a *API) handlePaymentVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PaymentHeader) == "" {
		writeError(w, r, http.StatusBadRequest, "payment_header is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	res := a.verifier.Verify(r.Context(), req.PaymentHeader, req.Payer, req.Amount, a.maxAge)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  res.Valid,
		"payer":  res.Payer,
		"amount": res.Amount,
		"nonce":  res.Nonce,
	})
}

func (a *API) handleReserves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	balance, err := a.chain.Balance(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "reserve lookup failed")
		return
	}
	fees, err := a.chain.FeeBalance(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "reserve lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reserve_units": balance,
		"fee_units":     fees,
		"asset":         a.asset,
		"pay_to":        a.payTo,
	})
}
