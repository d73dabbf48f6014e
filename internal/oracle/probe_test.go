package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func observeAndEvaluate(t *testing.T, p *Probe, url string, coverageUnits int64) Evaluation {
	t.Helper()
	o, err := p.Observe(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	e, err := p.Evaluate(context.Background(), o, coverageUnits)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEvaluateHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := observeAndEvaluate(t, NewProbe(5*time.Second), srv.URL, 1000)
	if e.Failure() {
		t.Fatalf("healthy endpoint flagged as failure: %v", e.PublicOutputs)
	}
	if e.HTTPStatus() != 200 || e.PublicOutputs[OutBodyLength] != 2 || e.PayoutUnits() != 0 {
		t.Fatalf("outputs: %v", e.PublicOutputs)
	}
	if e.ProofID == "" || len(e.ProofBlob) == 0 {
		t.Fatal("missing proof")
	}
}

func TestEvaluateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := observeAndEvaluate(t, NewProbe(5*time.Second), srv.URL, 1000)
	if !e.Failure() || e.HTTPStatus() != 500 || e.PayoutUnits() != 1000 {
		t.Fatalf("outputs: %v", e.PublicOutputs)
	}
}

func TestEvaluateUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	e := observeAndEvaluate(t, NewProbe(2*time.Second), srv.URL, 500)
	if !e.Failure() || e.HTTPStatus() != 0 || e.PayoutUnits() != 500 {
		t.Fatalf("outputs: %v", e.PublicOutputs)
	}
}

func TestEvaluateSubmittedObservation(t *testing.T) {
	// Claimant-supplied evidence goes through the same attestation path
	// as a probe result, without any network call.
	p := NewProbe(5 * time.Second)
	e, err := p.Evaluate(context.Background(), Observation{
		HTTPStatus: 503,
		Body:       []byte("service unavailable"),
		Headers:    map[string]string{"Server": "nginx"},
	}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Failure() || e.HTTPStatus() != 503 || e.PayoutUnits() != 1000 {
		t.Fatalf("outputs: %v", e.PublicOutputs)
	}
	if e.PublicOutputs[OutBodyLength] != int64(len("service unavailable")) {
		t.Fatalf("body length: %v", e.PublicOutputs)
	}
	if e.BodyHash == "" || e.Headers["Server"] != "nginx" {
		t.Fatalf("evidence fields lost: %+v", e)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewProbe(5 * time.Second)
	e := observeAndEvaluate(t, p, srv.URL, 1000)

	if ok, err := p.Verify(context.Background(), e); err != nil || !ok {
		t.Fatalf("genuine evaluation rejected: %v %v", ok, err)
	}

	e.PublicOutputs[OutPayout] = 999999
	if ok, _ := p.Verify(context.Background(), e); ok {
		t.Fatal("tampered outputs verified")
	}
}
