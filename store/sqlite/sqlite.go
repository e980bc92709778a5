/*
Package sqlite provides a SQLite-backed implementation of stock.TxStore.

PURPOSE:
  Single-node persistence for the depot ledger. The queries themselves live
  in store/sqlstore; this package owns the connection, the schema and the
  transaction boundary.

KEY TABLES:
  batches:           Shipment batches (total, remaining, received date)
  trips:             Truck dispatches and their status
  trip_compartments: Requested and measured quantity per compartment
  depletions:        Batch to trip allocations
  movements:         Append-only history of every reserve and release

INDEXES:
  - idx_batches_product_received: FIFO scan (hot path)
  - idx_depletions_trip:          Reversal and reconciliation
  - idx_depletions_product:       Consistency checks
  - idx_movements_*:              History queries

CONCURRENCY:
  SQLite has a single writer. The pool is limited to one connection and
  WithTx holds a mutex, so a transaction is never interleaved with another
  write. Reads inside WithTx go through the transaction handle only.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/fuel.db")
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

  engine := stock.NewEngine(store, stock.Options{})

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/fuel-ledger/stock"
	"github.com/warp/fuel-ledger/store/sqlstore"
)

// Dialect is the SQLite flavour of the shared queries. SQLite has no row
// locks; the single-connection pool serialises writers instead.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueConstraintError,
}

// Store implements stock.TxStore using SQLite.
type Store struct {
	*sqlstore.Queries

	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// allows one writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{Queries: sqlstore.New(db, Dialect, false), db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		product TEXT NOT NULL,
		quantity_total TEXT NOT NULL,
		quantity_remaining TEXT NOT NULL,
		received_at TEXT NOT NULL,
		supplier TEXT,
		unit_cost TEXT NOT NULL DEFAULT '0',
		reference TEXT,
		created_at TEXT NOT NULL
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
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_product_status
		ON trips(product, status);

	CREATE TABLE IF NOT EXISTS trip_compartments (
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		number INTEGER NOT NULL CHECK (number BETWEEN 1 AND 3),
		requested TEXT NOT NULL,
		actual TEXT,
		PRIMARY KEY (trip_id, number)
	);

	CREATE TABLE IF NOT EXISTS depletions (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL REFERENCES trips(id),
		batch_id TEXT NOT NULL REFERENCES batches(id),
		product TEXT NOT NULL,
		quantity TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (trip_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_depletions_trip
		ON depletions(trip_id, seq);
	CREATE INDEX IF NOT EXISTS idx_depletions_product
		ON depletions(product);

	-- Append-only. seq gives insertion order.
	CREATE TABLE IF NOT EXISTS movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		product TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		movement_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_product
		ON movements(product, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_trip
		ON movements(trip_id);
	CREATE INDEX IF NOT EXISTS idx_movements_batch
		ON movements(batch_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store stock.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlstore.New(sqlTx, Dialect, true)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st stock.Store) error {
		return st.(*sqlstore.Queries).Reset(ctx)
	})
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ stock.TxStore = (*Store)(nil)
