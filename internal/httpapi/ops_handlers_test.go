package httpapi

import (
	"net/http"
	"testing"
	"time"

	"apishield.io/internal/auth"
	"apishield.io/internal/claims"
	"apishield.io/internal/ids"
)

func operatorToken(t *testing.T, roles []string) string {
	t.Helper()
	token, err := auth.GenerateToken("ops@test", roles, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestOpsSurfaceRequiresOperatorRole(t *testing.T) {
	t.Setenv("APISHIELD_OPERATOR_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	c := newTestAPI(t, true)

	resp := c.get("/v1/ops/reconciliations", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", resp.StatusCode)
	}

	resp = c.get("/v1/ops/reconciliations", nil, map[string]string{
		"Authorization": "Bearer " + operatorToken(t, []string{"viewer"}),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong role status = %d", resp.StatusCode)
	}

	resp = c.get("/v1/ops/reconciliations", nil, map[string]string{
		"Authorization": "Bearer " + operatorToken(t, []string{auth.RoleOperator}),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("operator status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Items []any `json:"items"`
	}](t, resp)
	if len(body.Items) != 0 {
		t.Fatalf("expected empty reconciliation queue, got %d", len(body.Items))
	}
}

func TestOpsOpenWithoutSecret(t *testing.T) {
	c := newTestAPI(t, false)

	resp := c.get("/v1/ops/reconciliations", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open ops status = %d", resp.StatusCode)
	}
}

func TestOpsNonceGC(t *testing.T) {
	c := newTestAPI(t, false)

	// Burn a nonce, then sweep. Retention is an hour, so nothing is old
	// enough to collect yet.
	resp := c.post("/v1/payments/verify", map[string]any{
		"payment_header": c.paymentHeader(7),
		"payer":          c.payer,
		"amount":         7,
	}, nil)
	resp.Body.Close()

	resp = c.post("/v1/ops/nonces/gc", map[string]any{}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("gc status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Removed int `json:"removed"`
	}](t, resp)
	if body.Removed != 0 {
		t.Fatalf("fresh nonce swept: removed=%d", body.Removed)
	}
}

func TestOpsReconcileFlow(t *testing.T) {
	// An empty reserve makes the payout fail after the attestation is
	// anchored, leaving the claim for manual settlement.
	c := newTestAPIWithReserve(t, false, 0)
	merchant := failingMerchant(t)
	p := c.buyPolicy(merchant.URL, 500)

	resp := c.post("/v1/claims", map[string]any{"policy_id": p.ID, "payer": c.payer},
		map[string]string{"Idempotency-Key": ids.New()})
	cl := decode[claims.Claim](t, resp)
	if cl.Status != claims.StatusFailed || !cl.NeedsReconciliation {
		t.Fatalf("expected reconciliation-pending claim, got %+v", cl)
	}
	if cl.AttestationTx == "" {
		t.Fatalf("attestation missing on reconciliation-pending claim")
	}

	resp = c.get("/v1/ops/reconciliations", nil, nil)
	queue := decode[struct {
		Items []claims.Claim `json:"items"`
	}](t, resp)
	if len(queue.Items) != 1 || queue.Items[0].ID != cl.ID {
		t.Fatalf("reconciliation queue = %+v", queue.Items)
	}

	resp = c.post("/v1/ops/reconciliations/"+cl.ID, map[string]any{"payout_tx": "0xmanual"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile status = %d", resp.StatusCode)
	}
	done := decode[claims.Claim](t, resp)
	if done.Status != claims.StatusPaid || done.PayoutTx != "0xmanual" || done.NeedsReconciliation {
		t.Fatalf("reconciled claim = %+v", done)
	}

	resp = c.get("/v1/ops/reconciliations", nil, nil)
	queue = decode[struct {
		Items []claims.Claim `json:"items"`
	}](t, resp)
	if len(queue.Items) != 0 {
		t.Fatalf("queue not drained: %+v", queue.Items)
	}
}

func TestOpsUnknownResource(t *testing.T) {
	c := newTestAPI(t, false)

	resp := c.get("/v1/ops/"+ids.New(), nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ops path status = %d", resp.StatusCode)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"  Bearer   abc  ", "abc", false},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("extractBearerToken(%q): expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("extractBearerToken(%q): %v", tc.header, err)
			continue
		}
		if got != tc.token {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.token)
		}
	}
}
