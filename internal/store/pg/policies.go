package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"apishield.io/internal/policy"
)

type PolicyStore struct {
	db *sql.DB
}

var _ policy.Store = (*PolicyStore)(nil)

const policyColumns = `id, payer, merchant_url, merchant_hash, coverage_units, premium_units,
	status, created_at, expires_at, renewal_count, total_paid_units`

func scanPolicy(row interface{ Scan(...any) error }) (policy.Policy, error) {
	var p policy.Policy
	err := row.Scan(&p.ID, &p.Payer, &p.MerchantURL, &p.MerchantHash, &p.CoverageUnits,
		&p.PremiumUnits, &p.Status, &p.CreatedAt, &p.ExpiresAt, &p.RenewalCount, &p.TotalPaidUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, policy.ErrNotFound
	}
	if err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

func (s *PolicyStore) Insert(ctx context.Context, p policy.Policy) error {
	_, err := s.db.ExecContext(ctx, `
		insert into policies(`+policyColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.Payer, p.MerchantURL, p.MerchantHash, p.CoverageUnits, p.PremiumUnits,
		p.Status, p.CreatedAt, p.ExpiresAt, p.RenewalCount, p.TotalPaidUnits)
	return err
}

func (s *PolicyStore) Get(ctx context.Context, id string) (policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `select `+policyColumns+` from policies where id=$1`, id)
	return scanPolicy(row)
}

func (s *PolicyStore) ListByPayer(ctx context.Context, payer string) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+policyColumns+` from policies
		where lower(payer)=lower($1)
		order by created_at desc
	`, payer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PolicyStore) Renew(ctx context.Context, id string, extend time.Duration, feeUnits int64, now time.Time) (policy.Policy, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return policy.Policy{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPolicy(tx.QueryRowContext(ctx,
		`select `+policyColumns+` from policies where id=$1 for update`, id))
	if err != nil {
		return policy.Policy{}, err
	}
	if err := p.Claimable(now); err != nil {
		return policy.Policy{}, err
	}

	p.ExpiresAt = p.ExpiresAt.Add(extend)
	p.RenewalCount++
	p.TotalPaidUnits += feeUnits
	if _, err := tx.ExecContext(ctx, `
		update policies
		set expires_at=$2, renewal_count=$3, total_paid_units=$4
		where id=$1
	`, p.ID, p.ExpiresAt, p.RenewalCount, p.TotalPaidUnits); err != nil {
		return policy.Policy{}, err
	}
	if err := tx.Commit(); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

func (s *PolicyStore) MarkClaimed(ctx context.Context, id string, now time.Time) (policy.Policy, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return policy.Policy{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPolicy(tx.QueryRowContext(ctx,
		`select `+policyColumns+` from policies where id=$1 for update`, id))
	if err != nil {
		return policy.Policy{}, err
	}
	if err := p.Claimable(now); err != nil {
		return policy.Policy{}, err
	}

	p.Status = policy.StatusClaimed
	if _, err := tx.ExecContext(ctx,
		`update policies set status=$2 where id=$1`, p.ID, p.Status); err != nil {
		return policy.Policy{}, err
	}
	if err := tx.Commit(); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

func (s *PolicyStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update policies set status=$1
		where status=$2 and expires_at < $3
	`, policy.StatusExpired, policy.StatusActive, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
