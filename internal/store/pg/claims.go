package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"apishield.io/internal/claims"
)

type ClaimStore struct {
	db *sql.DB
}

var _ claims.Store = (*ClaimStore)(nil)

const claimColumns = `id, policy_id, idempotency_key, payer, status, http_status, body_hash,
	headers, proof_id, out_failure, out_status, out_body_length, out_payout, proof_blob,
	attestation_tx, payout_tx, payout_units, error, needs_reconciliation, created_at, updated_at,
	paid_at, failed_at`

func scanClaim(row interface{ Scan(...any) error }) (claims.Claim, error) {
	var c claims.Claim
	var headers []byte
	var key sql.NullString
	var paidAt, failedAt sql.NullTime
	err := row.Scan(&c.ID, &c.PolicyID, &key, &c.Payer, &c.Status,
		&c.Evidence.HTTPStatus, &c.Evidence.BodyHash, &headers, &c.ProofID,
		&c.PublicOutputs[0], &c.PublicOutputs[1], &c.PublicOutputs[2], &c.PublicOutputs[3],
		&c.ProofBlob, &c.AttestationTx, &c.PayoutTx, &c.PayoutUnits, &c.Error,
		&c.NeedsReconciliation, &c.CreatedAt, &c.UpdatedAt, &paidAt, &failedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return claims.Claim{}, claims.ErrNotFound
	}
	if err != nil {
		return claims.Claim{}, err
	}
	c.IdempotencyKey = key.String
	if paidAt.Valid {
		t := paidAt.Time
		c.PaidAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		c.FailedAt = &t
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &c.Evidence.Headers); err != nil {
			return claims.Claim{}, err
		}
	}
	return c, nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(h)
}

// nullKey maps an absent idempotency key to NULL so the unique index
// only applies to keyed claims.
func nullKey(key string) sql.NullString {
	return sql.NullString{String: key, Valid: key != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *ClaimStore) Insert(ctx context.Context, c claims.Claim) error {
	headers, err := marshalHeaders(c.Evidence.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into claims(`+claimColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, c.ID, c.PolicyID, nullKey(c.IdempotencyKey), c.Payer, c.Status,
		c.Evidence.HTTPStatus, c.Evidence.BodyHash, headers, c.ProofID,
		c.PublicOutputs[0], c.PublicOutputs[1], c.PublicOutputs[2], c.PublicOutputs[3],
		c.ProofBlob, c.AttestationTx, c.PayoutTx, c.PayoutUnits, c.Error,
		c.NeedsReconciliation, c.CreatedAt, c.UpdatedAt, nullTime(c.PaidAt), nullTime(c.FailedAt))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return claims.ErrDuplicateKey
	}
	return err
}

func (s *ClaimStore) Update(ctx context.Context, c claims.Claim) error {
	headers, err := marshalHeaders(c.Evidence.Headers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update claims
		set status=$2, http_status=$3, body_hash=$4, headers=$5, proof_id=$6,
			out_failure=$7, out_status=$8, out_body_length=$9, out_payout=$10,
			proof_blob=$11, attestation_tx=$12, payout_tx=$13, payout_units=$14,
			error=$15, needs_reconciliation=$16, updated_at=$17, paid_at=$18, failed_at=$19
		where id=$1
	`, c.ID, c.Status, c.Evidence.HTTPStatus, c.Evidence.BodyHash, headers, c.ProofID,
		c.PublicOutputs[0], c.PublicOutputs[1], c.PublicOutputs[2], c.PublicOutputs[3],
		c.ProofBlob, c.AttestationTx, c.PayoutTx, c.PayoutUnits, c.Error,
		c.NeedsReconciliation, c.UpdatedAt, nullTime(c.PaidAt), nullTime(c.FailedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return claims.ErrNotFound
	}
	return nil
}

func (s *ClaimStore) Get(ctx context.Context, id string) (claims.Claim, error) {
	row := s.db.QueryRowContext(ctx, `select `+claimColumns+` from claims where id=$1`, id)
	return scanClaim(row)
}

func (s *ClaimStore) GetByIdempotencyKey(ctx context.Context, key string) (claims.Claim, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+claimColumns+` from claims where idempotency_key=$1`, key)
	return scanClaim(row)
}

func (s *ClaimStore) ListByPolicy(ctx context.Context, policyID string) ([]claims.Claim, error) {
	return s.list(ctx, `
		select `+claimColumns+` from claims
		where policy_id=$1
		order by created_at desc
	`, policyID)
}

func (s *ClaimStore) ListNeedingReconciliation(ctx context.Context) ([]claims.Claim, error) {
	return s.list(ctx, `
		select `+claimColumns+` from claims
		where needs_reconciliation
		order by created_at asc
	`)
}

func (s *ClaimStore) list(ctx context.Context, query string, args ...any) ([]claims.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []claims.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
