package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"apishield.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type reconcileRequest struct {
	PayoutTx string `json:"payout_tx"`
}

// withOperatorAuth guards the /v1/ops surface with operator JWTs. The
// development profile may run without a secret, in which case the
// surface is open.
func (a *API) withOperatorAuth(next http.Handler) http.Handler {
	if !a.opsAuth {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithSubject(r.Context(), claims.Subject, claims.Roles)
		if !auth.HasRole(ctx, auth.RoleOperator) {
			writeError(w, r, http.StatusForbidden, "operator role required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) handleOps(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/ops/")
	switch {
	case path == "reconciliations":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listReconciliations(w, r)
	case strings.HasPrefix(path, "reconciliations/"):
		id := strings.TrimPrefix(path, "reconciliations/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reconcileClaim(w, r, id)
	case path == "nonces/gc":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.gcNonces(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listReconciliations(w http.ResponseWriter, r *http.Request) {
	items, err := a.claims.NeedingReconciliation(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) reconcileClaim(w http.ResponseWriter, r *http.Request, id string) {
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cl, err := a.claims.Reconcile(r.Context(), id, req.PayoutTx)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "claim.reconcile", map[string]any{
		"claim_id":  cl.ID,
		"payout_tx": cl.PayoutTx,
	})
	writeJSON(w, http.StatusOK, cl)
}

func (a *API) gcNonces(w http.ResponseWriter, r *http.Request) {
	removed, err := a.nonces.GC(r.Context(), a.nonceRetention)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "nonce sweep failed")
		return
	}
	a.audit(r.Context(), "nonce.gc", map[string]any{"removed": removed})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
