// Package claims coordinates the claim lifecycle: checkpoint the claim,
// evaluate the covered endpoint, anchor the attestation, and only then
// pay out. A claim reaches exactly one terminal state, paid or failed,
// and an idempotency key always maps to the claim it first created.
package claims

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("claim not found")
	ErrDuplicateKey = errors.New("idempotency key already used")
	ErrValidation   = errors.New("validation error")
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
)

// Failure reasons recorded on a failed claim and used as metric labels.
const (
	ReasonNoFailure         = "no_failure"
	ReasonPolicyState       = "policy_unclaimable"
	ReasonOracleError       = "oracle_error"
	ReasonAttestationFailed = "attestation_failed"
	ReasonPayoutFailed      = "payout_failed"
)

// Evidence is what the oracle observed when probing the endpoint.
type Evidence struct {
	HTTPStatus int64             `json:"httpStatus"`
	BodyHash   string            `json:"bodyHash,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type Claim struct {
	ID             string   `json:"id"`
	PolicyID       string   `json:"policyId"`
	IdempotencyKey string   `json:"idempotencyKey"`
	Payer          string   `json:"payer"`
	Status         Status   `json:"status"`
	Evidence       Evidence `json:"evidence"`
	ProofID        string   `json:"proofId,omitempty"`
	PublicOutputs  [4]int64 `json:"publicOutputs"`
	ProofBlob      []byte   `json:"proofBlob,omitempty"`
	AttestationTx  string   `json:"attestationTx,omitempty"`
	PayoutTx       string   `json:"payoutTx,omitempty"`
	PayoutUnits    int64    `json:"payoutUnits"`
	Error          string   `json:"error,omitempty"`

	// NeedsReconciliation marks the one hazardous partial state: the
	// attestation is anchored but the refund did not go through. These are
	// settled manually, never retried automatically.
	NeedsReconciliation bool `json:"needsReconciliation,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	FailedAt  *time.Time `json:"failedAt,omitempty"`
}

func (c Claim) Terminal() bool {
	return c.Status == StatusPaid || c.Status == StatusFailed
}
