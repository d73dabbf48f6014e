package pg

import (
	"context"
	"database/sql"
	"time"

	"apishield.io/internal/nonce"
)

type NonceLedger struct {
	db *sql.DB
}

var _ nonce.Ledger = (*NonceLedger)(nil)

func (s *NonceLedger) IsUsed(ctx context.Context, payer, n string) (bool, error) {
	var used bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from nonces where nonce_key=$1)`,
		nonce.Key(payer, n)).Scan(&used)
	return used, err
}

// MarkUsed relies on the primary key: the insert that changes no rows
// lost the race.
func (s *NonceLedger) MarkUsed(ctx context.Context, payer, n string, ts time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		insert into nonces(nonce_key, used_at) values ($1,$2)
		on conflict (nonce_key) do nothing
	`, nonce.Key(payer, n), ts)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return nonce.ErrUsed
	}
	return nil
}

func (s *NonceLedger) GC(ctx context.Context, retention time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from nonces where used_at < $1`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
