package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"apishield.io/internal/chain"
	"apishield.io/internal/obs"
	"apishield.io/internal/oracle"
	"apishield.io/internal/policy"
)

// Event topics published on settlement transitions.
const (
	TopicClaimPaid           = "claim.paid"
	TopicClaimFailed         = "claim.failed"
	TopicClaimReconciliation = "claim.reconciliation"
)

// Publisher receives settlement events. The coordinator tolerates a nil
// publisher.
type Publisher interface {
	Publish(topic string, payload any)
}

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Claims        Store
	Policies      policy.Store
	Oracle        oracle.Oracle
	Chain         chain.Transactor
	Events        Publisher
	OracleTimeout time.Duration
	AsyncWorkers  int
}

// Coordinator drives a claim from submission to settlement. The order
// of operations is fixed: checkpoint the claim before any external
// call, evaluate, anchor the attestation, and pay last. Settlements for
// the same policy are serialized so at most one claim can win it.
type Coordinator struct {
	claims        Store
	policies      policy.Store
	oracle        oracle.Oracle
	chain         chain.Transactor
	events        Publisher
	oracleTimeout time.Duration
	pool          *Pool
	now           func() time.Time

	mu          sync.Mutex
	policyLocks map[string]*sync.Mutex
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 60 * time.Second
	}
	if cfg.AsyncWorkers < 1 {
		cfg.AsyncWorkers = 4
	}
	return &Coordinator{
		claims:        cfg.Claims,
		policies:      cfg.Policies,
		oracle:        cfg.Oracle,
		chain:         cfg.Chain,
		events:        cfg.Events,
		oracleTimeout: cfg.OracleTimeout,
		pool:          NewPool(cfg.AsyncWorkers, cfg.AsyncWorkers*16),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Close drains the async settlement queue.
func (c *Coordinator) Close(ctx context.Context) {
	c.pool.Shutdown(ctx)
}

// Submit opens a claim against a policy. Evidence is the claimant's
// captured response from the covered endpoint; nil means the oracle
// probes the endpoint itself. The returned bool reports a replay: the
// idempotency key had already created a claim, and that claim is
// returned as-is, whatever its state. A submission without a key is
// never deduplicated. For async submissions the claim is returned in
// the processing state and settles on the worker pool.
func (c *Coordinator) Submit(ctx context.Context, policyID, payer, idempotencyKey string, evidence *oracle.Observation, async bool) (Claim, bool, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		if existing, err := c.claims.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
			return existing, true, nil
		}
	}

	p, err := c.policies.Get(ctx, policyID)
	if err != nil {
		return Claim{}, false, err
	}
	if !strings.EqualFold(p.Payer, strings.TrimSpace(payer)) {
		return Claim{}, false, policy.ErrNotFound
	}
	if err := p.Claimable(c.now()); err != nil {
		return Claim{}, false, err
	}

	now := c.now()
	cl := Claim{
		ID:             uuid.NewString(),
		PolicyID:       p.ID,
		IdempotencyKey: idempotencyKey,
		Payer:          p.Payer,
		Status:         StatusProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if evidence != nil {
		// Attesting supplied evidence is pure computation, so it can be
		// stamped onto the claim before the durability checkpoint.
		e, err := c.oracle.Evaluate(ctx, *evidence, p.CoverageUnits)
		if err != nil {
			return Claim{}, false, fmt.Errorf("%w: evidence rejected: %v", ErrValidation, err)
		}
		stampEvaluation(&cl, e)
	}
	// Checkpoint before any external call, so a crash mid-settlement
	// leaves a visible processing claim instead of nothing.
	if err := c.claims.Insert(ctx, cl); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			if existing, gerr := c.claims.GetByIdempotencyKey(ctx, idempotencyKey); gerr == nil {
				return existing, true, nil
			}
		}
		return Claim{}, false, err
	}

	obs.Event("info", "claim opened", map[string]any{
		"claim_id":  cl.ID,
		"policy_id": p.ID,
		"async":     async,
	})

	// Side effects outlive the caller's wait: a client that times out
	// only abandons its wait, the settlement runs to completion and is
	// observable by polling.
	sctx := context.WithoutCancel(ctx)

	if async {
		if !c.pool.Submit(func(bgctx context.Context) { c.settle(bgctx, cl.ID) }) {
			// Queue full. Settle on the request instead of dropping the
			// claim in processing forever.
			obs.Event("warn", "async queue full, settling inline", map[string]any{"claim_id": cl.ID})
			c.settle(sctx, cl.ID)
			settled, gerr := c.claims.Get(sctx, cl.ID)
			return settled, false, gerr
		}
		return cl, false, nil
	}

	c.settle(sctx, cl.ID)
	settled, err := c.claims.Get(sctx, cl.ID)
	return settled, false, err
}

func (c *Coordinator) Get(ctx context.Context, id string) (Claim, error) {
	return c.claims.Get(ctx, id)
}

func (c *Coordinator) ListByPolicy(ctx context.Context, policyID string) ([]Claim, error) {
	return c.claims.ListByPolicy(ctx, policyID)
}

// Proof reconstructs the stored evaluation for a settled claim and
// re-verifies the commitment.
func (c *Coordinator) Proof(ctx context.Context, id string) (oracle.Evaluation, bool, error) {
	cl, err := c.claims.Get(ctx, id)
	if err != nil {
		return oracle.Evaluation{}, false, err
	}
	e, ok := evaluationFromClaim(cl)
	if !ok {
		return oracle.Evaluation{}, false, ErrNotFound
	}
	ok, err = c.oracle.Verify(ctx, e)
	return e, ok, err
}

// VerifyProof checks a detached proof record without touching stored
// claims, for callers holding only the published outputs.
func (c *Coordinator) VerifyProof(ctx context.Context, e oracle.Evaluation) (bool, error) {
	return c.oracle.Verify(ctx, e)
}

// NeedingReconciliation lists claims stuck between attestation and
// payout.
func (c *Coordinator) NeedingReconciliation(ctx context.Context) ([]Claim, error) {
	return c.claims.ListNeedingReconciliation(ctx)
}

// Reconcile records a manually issued payout for a claim that failed
// after its attestation was anchored, completing the settlement.
func (c *Coordinator) Reconcile(ctx context.Context, id, payoutTx string) (Claim, error) {
	payoutTx = strings.TrimSpace(payoutTx)
	if payoutTx == "" {
		return Claim{}, fmt.Errorf("%w: payout transaction required", ErrValidation)
	}
	cl, err := c.claims.Get(ctx, id)
	if err != nil {
		return Claim{}, err
	}
	if !cl.NeedsReconciliation {
		return Claim{}, fmt.Errorf("%w: claim does not need reconciliation", ErrValidation)
	}

	paidAt := c.now()
	cl.Status = StatusPaid
	cl.PayoutTx = payoutTx
	cl.NeedsReconciliation = false
	cl.Error = ""
	cl.UpdatedAt = paidAt
	cl.PaidAt = &paidAt
	if err := c.claims.Update(ctx, cl); err != nil {
		return Claim{}, err
	}
	if _, err := c.policies.MarkClaimed(ctx, cl.PolicyID, c.now()); err != nil {
		obs.Event("warn", "policy transition after reconciliation", map[string]any{
			"claim_id":  cl.ID,
			"policy_id": cl.PolicyID,
			"err":       err.Error(),
		})
	}

	obs.ClaimsPaidTotal.Inc()
	c.publish(TopicClaimPaid, cl)
	obs.Event("info", "claim reconciled", map[string]any{"claim_id": cl.ID, "tx": payoutTx})
	return cl, nil
}

// stampEvaluation records an attested evaluation on the claim so settle
// can pick it up later without re-running the oracle.
func stampEvaluation(cl *Claim, e oracle.Evaluation) {
	cl.Evidence = Evidence{
		HTTPStatus: e.HTTPStatus(),
		BodyHash:   e.BodyHash,
		Headers:    e.Headers,
	}
	cl.ProofID = e.ProofID
	cl.PublicOutputs = e.PublicOutputs
	cl.ProofBlob = e.ProofBlob
}

// evaluationFromClaim rebuilds a stamped evaluation. The second return
// is false when the claim carries none and the oracle must probe.
func evaluationFromClaim(cl Claim) (oracle.Evaluation, bool) {
	if cl.ProofID == "" {
		return oracle.Evaluation{}, false
	}
	return oracle.Evaluation{
		ProofID:       cl.ProofID,
		PublicOutputs: cl.PublicOutputs,
		ProofBlob:     cl.ProofBlob,
		BodyHash:      cl.Evidence.BodyHash,
		Headers:       cl.Evidence.Headers,
		GeneratedAt:   cl.UpdatedAt,
	}, true
}

func (c *Coordinator) policyLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policyLocks == nil {
		c.policyLocks = make(map[string]*sync.Mutex)
	}
	m, ok := c.policyLocks[id]
	if !ok {
		m = &sync.Mutex{}
		c.policyLocks[id] = m
	}
	return m
}

// settle drives one claim to a terminal state. Settlements for the same
// policy run one at a time.
func (c *Coordinator) settle(ctx context.Context, claimID string) {
	cl, err := c.claims.Get(ctx, claimID)
	if err != nil || cl.Terminal() {
		return
	}

	lock := c.policyLock(cl.PolicyID)
	lock.Lock()
	defer lock.Unlock()

	// The policy may have been won by another claim while this one
	// waited for the lock.
	p, err := c.policies.Get(ctx, cl.PolicyID)
	if err != nil {
		c.fail(ctx, cl, ReasonOracleError, "policy lookup failed: "+err.Error())
		return
	}
	if err := p.Claimable(c.now()); err != nil {
		c.fail(ctx, cl, ReasonPolicyState, err.Error())
		return
	}

	e, ok := evaluationFromClaim(cl)
	if !ok {
		octx, cancel := context.WithTimeout(ctx, c.oracleTimeout)
		o, oerr := c.oracle.Observe(octx, p.MerchantURL)
		if oerr == nil {
			e, oerr = c.oracle.Evaluate(octx, o, p.CoverageUnits)
		}
		cancel()
		if oerr != nil {
			c.fail(ctx, cl, ReasonOracleError, oerr.Error())
			return
		}
		stampEvaluation(&cl, e)
	}

	if !e.Failure() {
		c.fail(ctx, cl, ReasonNoFailure, "no failure detected")
		return
	}

	attestTx, err := c.chain.StoreAttestation(ctx, cl.ID, e.ProofID, e.PublicOutputs)
	if err != nil {
		c.fail(ctx, cl, ReasonAttestationFailed, err.Error())
		return
	}
	cl.AttestationTx = attestTx
	cl.UpdatedAt = c.now()
	// Persist the anchored attestation before attempting the payout.
	if err := c.claims.Update(ctx, cl); err != nil {
		obs.Event("error", "claim update after attestation", map[string]any{
			"claim_id": cl.ID,
			"err":      err.Error(),
		})
	}

	payoutTx, err := c.chain.IssueRefund(ctx, cl.Payer, e.PayoutUnits())
	if err != nil {
		// Attested but unpaid: the partial state an operator must settle
		// by hand. Not retried automatically.
		failedAt := c.now()
		cl.Status = StatusFailed
		cl.Error = "payout failed: " + err.Error()
		cl.NeedsReconciliation = true
		cl.UpdatedAt = failedAt
		cl.FailedAt = &failedAt
		if uerr := c.claims.Update(ctx, cl); uerr != nil {
			obs.Event("error", "claim update after payout failure", map[string]any{
				"claim_id": cl.ID,
				"err":      uerr.Error(),
			})
		}
		obs.ClaimsFailedTotal.WithLabelValues(ReasonPayoutFailed).Inc()
		c.publish(TopicClaimReconciliation, cl)
		obs.Event("error", "claim needs reconciliation", map[string]any{
			"claim_id": cl.ID,
			"attest":   cl.AttestationTx,
		})
		return
	}

	paidAt := c.now()
	cl.Status = StatusPaid
	cl.PayoutTx = payoutTx
	cl.PayoutUnits = e.PayoutUnits()
	cl.UpdatedAt = paidAt
	cl.PaidAt = &paidAt
	if err := c.claims.Update(ctx, cl); err != nil {
		obs.Event("error", "claim update after payout", map[string]any{
			"claim_id": cl.ID,
			"err":      err.Error(),
		})
	}
	if _, err := c.policies.MarkClaimed(ctx, p.ID, c.now()); err != nil {
		obs.Event("warn", "policy transition after payout", map[string]any{
			"claim_id":  cl.ID,
			"policy_id": p.ID,
			"err":       err.Error(),
		})
	}

	obs.ClaimsPaidTotal.Inc()
	c.publish(TopicClaimPaid, cl)
	obs.Event("info", "claim paid", map[string]any{
		"claim_id": cl.ID,
		"amount":   cl.PayoutUnits,
		"tx":       payoutTx,
	})
}

func (c *Coordinator) fail(ctx context.Context, cl Claim, reason, detail string) {
	failedAt := c.now()
	cl.Status = StatusFailed
	cl.Error = detail
	cl.UpdatedAt = failedAt
	cl.FailedAt = &failedAt
	if err := c.claims.Update(ctx, cl); err != nil {
		obs.Event("error", "claim update", map[string]any{"claim_id": cl.ID, "err": err.Error()})
	}
	obs.ClaimsFailedTotal.WithLabelValues(reason).Inc()
	c.publish(TopicClaimFailed, cl)
	obs.Event("info", "claim failed", map[string]any{
		"claim_id": cl.ID,
		"reason":   reason,
		"detail":   detail,
	})
}

func (c *Coordinator) publish(topic string, cl Claim) {
	if c.events != nil {
		c.events.Publish(topic, cl)
	}
}
