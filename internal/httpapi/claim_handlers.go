package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"apishield.io/internal/chain"
	"apishield.io/internal/claims"
	"apishield.io/internal/oracle"
	"apishield.io/internal/policy"
)

type submitClaimRequest struct {
	PolicyID       string         `json:"policy_id"`
	Payer          string         `json:"payer"`
	IdempotencyKey string         `json:"idempotency_key"`
	Evidence       *claimEvidence `json:"evidence"`
}

// claimEvidence is the claimant's captured response from the covered
// endpoint. Status 0 reports a transport failure with no response.
type claimEvidence struct {
	HTTPStatus int64             `json:"http_status"`
	HTTPBody   string            `json:"http_body"`
	Headers    map[string]string `json:"http_headers"`
}

func (e *claimEvidence) observation() *oracle.Observation {
	if e == nil {
		return nil
	}
	return &oracle.Observation{
		HTTPStatus: e.HTTPStatus,
		Body:       []byte(e.HTTPBody),
		Headers:    e.Headers,
	}
}

func (a *API) handleClaimsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitClaim(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleClaimResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/claims/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/proof") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/proof"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "claim not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getProof(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getClaim(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}
	if strings.TrimSpace(req.PolicyID) == "" || strings.TrimSpace(req.Payer) == "" {
		writeError(w, r, http.StatusBadRequest, "policy_id and payer are required")
		return
	}

	async := r.URL.Query().Get("async") == "true"
	cl, replayed, err := a.claims.Submit(r.Context(), req.PolicyID, req.Payer, idem, req.Evidence.observation(), async)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	event := "claim.submit"
	if replayed {
		event = "claim.idempotent_replay"
	}
	a.audit(r.Context(), event, map[string]any{
		"claim_id":  cl.ID,
		"policy_id": cl.PolicyID,
		"status":    cl.Status,
		"async":     async,
	})

	switch {
	case replayed:
		writeJSON(w, http.StatusOK, cl)
	case cl.Status == claims.StatusProcessing:
		w.Header().Set("Location", "/v1/claims/"+cl.ID)
		writeJSON(w, http.StatusAccepted, cl)
	default:
		w.Header().Set("Location", "/v1/claims/"+cl.ID)
		writeJSON(w, http.StatusCreated, cl)
	}
}

func (a *API) getClaim(w http.ResponseWriter, r *http.Request, id string) {
	cl, err := a.claims.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (a *API) getProof(w http.ResponseWriter, r *http.Request, id string) {
	ev, verified, err := a.claims.Proof(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claim_id":       id,
		"proof_id":       ev.ProofID,
		"public_outputs": ev.PublicOutputs,
		"proof":          ev.ProofBlob,
		"body_hash":      ev.BodyHash,
		"headers":        ev.Headers,
		"generated_at":   ev.GeneratedAt.Format(time.RFC3339Nano),
		"verified":       verified,
	})
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, policy.ErrValidation), errors.Is(err, claims.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, policy.ErrNotFound), errors.Is(err, claims.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrExpired), errors.Is(err, policy.ErrAlreadyClaimed),
		errors.Is(err, policy.ErrNotActive), errors.Is(err, claims.ErrDuplicateKey),
		errors.Is(err, chain.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
