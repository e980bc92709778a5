/*
store.go - Persistence interfaces for batches, trips, depletions and history

KEY INTERFACES:
  BatchStore:     Shipment batches and their remaining quantity
  TripStore:      Trips with their three compartments
  DepletionStore: Allocation records (append/delete only, never edited)
  MovementLog:    Append-only history of batch mutations
  Store:          All of the above
  TxStore:        Store with an atomic transaction boundary

OWNERSHIP:
  Only the Depletion Ledger (ledger.go) calls UpdateBatchRemaining,
  InsertDepletions and DeleteTripDepletions. Everything else reads.

LOCKING:
  AvailableBatches and GetTripForUpdate are called inside WithTx. Stores
  backed by a server database take row locks there (SELECT ... FOR UPDATE);
  single-writer stores (memory, SQLite) are already exclusive inside WithTx.

IMPLEMENTATIONS:
  - stock/store/memory.go: In-memory for tests
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
*/
package stock

import "context"

type BatchStore interface {
	CreateBatch(ctx context.Context, b Batch) error
	// GetBatch returns ErrBatchNotFound when missing.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)
	ListBatches(ctx context.Context, product Product) ([]Batch, error)
	// AvailableBatches returns batches of the product with remaining > 0,
	// ordered by ReceivedAt then ID. Inside WithTx it locks every batch row
	// of the product in that order, depleted ones included.
	AvailableBatches(ctx context.Context, product Product) ([]Batch, error)
	UpdateBatchRemaining(ctx context.Context, id BatchID, remaining Litres) error
	DeleteBatch(ctx context.Context, id BatchID) error
}

type TripStore interface {
	SaveTrip(ctx context.Context, t Trip) error
	// GetTrip returns ErrTripNotFound when missing.
	GetTrip(ctx context.Context, id TripID) (*Trip, error)
	// GetTripForUpdate is GetTrip with a row lock where the store supports it.
	GetTripForUpdate(ctx context.Context, id TripID) (*Trip, error)
	ListTrips(ctx context.Context, filter TripFilter) ([]Trip, error)
}

type DepletionStore interface {
	InsertDepletions(ctx context.Context, deps []Depletion) error
	// TripDepletions returns the trip's depletions ordered by Seq.
	TripDepletions(ctx context.Context, id TripID) ([]Depletion, error)
	ProductDepletions(ctx context.Context, product Product) ([]Depletion, error)
	DeleteTripDepletions(ctx context.Context, id TripID) error
}

// MovementLog is append-only. No update, no delete.
type MovementLog interface {
	AppendMovements(ctx context.Context, ms []Movement) error
	Movements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

type Store interface {
	BatchStore
	TripStore
	DepletionStore
	MovementLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
