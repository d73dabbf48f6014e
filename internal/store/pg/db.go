// Package pg is the durable store: policies, claims and spent nonces in
// PostgreSQL. One DB handle is shared by the per-domain stores.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type DB struct {
	db *sql.DB
}

func Open(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &DB{db: db}, nil
}

// NewFromSQL wraps an existing handle; used by tests.
func NewFromSQL(db *sql.DB) *DB { return &DB{db: db} }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Policies() *PolicyStore { return &PolicyStore{db: d.db} }
func (d *DB) Claims() *ClaimStore    { return &ClaimStore{db: d.db} }
func (d *DB) Nonces() *NonceLedger   { return &NonceLedger{db: d.db} }
