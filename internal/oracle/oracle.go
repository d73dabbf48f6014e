// Package oracle evaluates whether a covered endpoint has failed and
// produces an attestable result. An evaluation carries four public
// outputs, in order: failure flag (0 or 1), observed HTTP status,
// response body length, and the payout owed in settlement units. The
// proof blob commits to those outputs so they can be re-checked later
// without re-probing the endpoint.
package oracle

import (
	"context"
	"time"
)

// Positions within Evaluation.PublicOutputs.
const (
	OutFailure = iota
	OutHTTPStatus
	OutBodyLength
	OutPayout
)

type Evaluation struct {
	ProofID       string            `json:"proofId"`
	PublicOutputs [4]int64          `json:"publicOutputs"`
	ProofBlob     []byte            `json:"proof"`
	BodyHash      string            `json:"bodyHash"`
	Headers       map[string]string `json:"headers"`
	GeneratedAt   time.Time         `json:"generatedAt"`
}

func (e Evaluation) Failure() bool      { return e.PublicOutputs[OutFailure] == 1 }
func (e Evaluation) HTTPStatus() int64  { return e.PublicOutputs[OutHTTPStatus] }
func (e Evaluation) PayoutUnits() int64 { return e.PublicOutputs[OutPayout] }

// Observation is a captured response from the covered endpoint, either
// submitted by the claimant as failure evidence or gathered by the
// built-in probe.
type Observation struct {
	HTTPStatus int64             `json:"httpStatus"`
	Body       []byte            `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Oracle attests to endpoint failures. Observe must not outlive its
// context; callers bound it with the configured oracle timeout.
// Evaluate is pure computation over an observation and never performs
// I/O.
type Oracle interface {
	Observe(ctx context.Context, merchantURL string) (Observation, error)
	Evaluate(ctx context.Context, o Observation, coverageUnits int64) (Evaluation, error)
	Verify(ctx context.Context, e Evaluation) (bool, error)
}
