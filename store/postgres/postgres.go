/*
Package postgres provides a PostgreSQL-backed implementation of stock.TxStore.

PURPOSE:
  Multi-instance persistence. Several engine processes may share one
  database: the in-process product lock only serialises one process, so
  transactions here take row locks (SELECT ... FOR UPDATE) on the batch and
  trip rows they are about to change.

CONNECTION POOL:
  MaxOpenConns, MaxIdleConns and ConnMaxLifetime come from Config; zero
  values fall back to the defaults below.

USAGE:
  store, err := postgres.New(ctx, postgres.Config{DSN: dsn})
  if err != nil {
      return err
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/warp/fuel-ledger/stock"
	"github.com/warp/fuel-ledger/store/sqlstore"
)

// Connection pool defaults.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

// SQLSTATE codes.
const (
	uniqueViolation  = "23505"
	deadlockDetected = "40P01"
	lockNotAvailable = "55P03"
)

var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Rebind:            sqlstore.PositionalRebind,
	LockClause:        " FOR UPDATE",
	IsUniqueViolation: isUniqueViolation,
}

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements stock.TxStore using PostgreSQL.
type Store struct {
	*sqlstore.Queries

	db *sql.DB
}

// New opens the pool, verifies the connection and migrates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, DefaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, DefaultMaxIdleConns))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{Queries: sqlstore.New(db, Dialect, false), db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		product TEXT NOT NULL,
		quantity_total NUMERIC(14,2) NOT NULL CHECK (quantity_total > 0),
		quantity_remaining NUMERIC(14,2) NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		supplier TEXT,
		unit_cost NUMERIC(14,4) NOT NULL DEFAULT 0,
		reference TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CHECK (quantity_remaining >= 0 AND quantity_remaining <= quantity_total)
	);

	CREATE INDEX IF NOT EXISTS idx_batches_product_received
		ON batches(product, received_at, id);

	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		product TEXT NOT NULL,
		status TEXT NOT NULL,
		bol_number TEXT,
		vehicle TEXT,
		customer TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_product_status
		ON trips(product, status);

	CREATE TABLE IF NOT EXISTS trip_compartments (
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		number INTEGER NOT NULL CHECK (number BETWEEN 1 AND 3),
		requested NUMERIC(14,2) NOT NULL,
		actual NUMERIC(14,2),
		PRIMARY KEY (trip_id, number)
	);

	CREATE TABLE IF NOT EXISTS depletions (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL REFERENCES trips(id),
		batch_id TEXT NOT NULL REFERENCES batches(id),
		product TEXT NOT NULL,
		quantity NUMERIC(14,2) NOT NULL CHECK (quantity > 0),
		seq INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (trip_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_depletions_trip
		ON depletions(trip_id, seq);
	CREATE INDEX IF NOT EXISTS idx_depletions_product
		ON depletions(product);

	CREATE TABLE IF NOT EXISTS movements (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		product TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		movement_type TEXT NOT NULL,
		delta NUMERIC(14,2) NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_product
		ON movements(product, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_trip
		ON movements(trip_id);
	CREATE INDEX IF NOT EXISTS idx_movements_batch
		ON movements(batch_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// WithTx runs fn in a READ COMMITTED transaction with row locks enabled.
func (s *Store) WithTx(ctx context.Context, fn func(store stock.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlstore.New(sqlTx, Dialect, true)); err != nil {
		return lockConflict(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return lockConflict(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// lockConflict turns a deadlock or lock timeout chosen by the server into
// ErrConcurrentModification so callers can retry.
func lockConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == deadlockDetected || pqErr.Code == lockNotAvailable) {
		return fmt.Errorf("%w: %v", stock.ErrConcurrentModification, err)
	}
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE movements, depletions, trip_compartments, trips, batches`)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

var _ stock.TxStore = (*Store)(nil)
