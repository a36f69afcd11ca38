// Package postgres hosts the ledger on PostgreSQL. Amounts are stored as
// NUMERIC(20,0) so the full uint64 range survives the round trip.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

func Connect(ctx context.Context, url string, maxConns int32, log *zap.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	} else {
		cfg.MaxConns = 10
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) Close() { db.Pool.Close() }

var ErrNotFound = errString("not found")

type errString string

func (e errString) Error() string { return string(e) }
