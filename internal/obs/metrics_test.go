package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/v1/claims/abc":           "/v1/claims/:id",
		"/v1/claims/abc/proof":     "/v1/claims/:id/proof",
		"/v1/claims/abc/extra":     "/v1/claims/abc/extra",
		"/v1/policies/abc":         "/v1/policies/:id",
		"/v1/policies/renew":       "/v1/policies/renew",
		"/v1/policies":             "/v1/policies",
		"/v1/policies?payer=0xabc": "/v1/policies",
		"/v1/claims?async=true":    "/v1/claims",
		"/v1/ops/reconciliations":  "/v1/ops/reconciliations",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
