/*
Package sqlstore implements stock.Store on database/sql.

PURPOSE:
  The SQL used by the SQLite and PostgreSQL stores is the same apart from
  placeholder syntax, row locking and how a unique violation is reported.
  Those differences live in a Dialect; everything else is here.

TABLES:
  batches:           One row per shipment batch
  trips:             One row per truck dispatch
  trip_compartments: Up to three rows per trip (requested, measured)
  depletions:        Allocation records, inserted and deleted as a whole per trip
  movements:         Append-only history, ordered by an auto-increment seq

ENCODING:
  Quantities are written through decimal.Decimal's driver.Valuer and read
  back through its sql.Scanner, so no float ever touches the ledger.
  Timestamps are written as fixed-width UTC text, which keeps lexical and
  chronological order identical on SQLite.

LOCKING:
  Queries built with Locking set append Dialect.LockClause to the selects
  that feed a read-modify-write (GetBatch, AvailableBatches,
  GetTripForUpdate). Drivers without row locks leave LockClause empty.

SEE ALSO:
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fuel-ledger/stock"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Dialect struct {
	Name string
	// Rebind rewrites '?' placeholders into the driver's syntax. Nil keeps '?'.
	Rebind func(query string) string
	// LockClause is appended to locking selects, e.g. " FOR UPDATE".
	LockClause string
	// IsUniqueViolation recognises a primary key or unique index conflict.
	IsUniqueViolation func(err error) bool
}

// TimeLayout is the fixed-width UTC layout used for every timestamp column.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Queries runs the stock.Store operations against one Querier.
type Queries struct {
	q       Querier
	d       Dialect
	locking bool
}

// New binds queries to q. locking enables Dialect.LockClause and should only
// be set when q is a transaction.
func New(q Querier, d Dialect, locking bool) *Queries {
	return &Queries{q: q, d: d, locking: locking}
}

func (s *Queries) rebind(query string) string {
	if s.d.Rebind == nil {
		return query
	}
	return s.d.Rebind(query)
}

func (s *Queries) lock() string {
	if s.locking {
		return s.d.LockClause
	}
	return ""
}

func (s *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

// =============================================================================
// BATCHES
// =============================================================================

const batchColumns = `id, product, quantity_total, quantity_remaining, received_at, supplier, unit_cost, reference, created_at`

func (s *Queries) CreateBatch(ctx context.Context, b stock.Batch) error {
	_, err := s.exec(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID),
		string(b.Product),
		b.QuantityTotal.Value,
		b.QuantityRemaining.Value,
		formatTime(b.ReceivedAt),
		b.Supplier,
		b.UnitCost,
		b.Reference,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		if s.d.IsUniqueViolation != nil && s.d.IsUniqueViolation(err) {
			return fmt.Errorf("batch %s: %w", b.ID, stock.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *Queries) GetBatch(ctx context.Context, id stock.BatchID) (*stock.Batch, error) {
	batches, err := s.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`+s.lock(), string(id))
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("batch %s: %w", id, stock.ErrBatchNotFound)
	}
	return &batches[0], nil
}

func (s *Queries) ListBatches(ctx context.Context, product stock.Product) ([]stock.Batch, error) {
	if product == "" {
		return s.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY received_at, id`)
	}
	return s.queryBatches(ctx, `SELECT `+batchColumns+` FROM batches WHERE product = ? ORDER BY received_at, id`, string(product))
}

func (s *Queries) AvailableBatches(ctx context.Context, product stock.Product) ([]stock.Batch, error) {
	all, err := s.queryBatches(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE product = ?
		ORDER BY received_at, id`+s.lock(), string(product))
	if err != nil {
		return nil, err
	}
	// remaining is compared in Go: NUMERIC vs TEXT columns compare differently.
	out := all[:0]
	for _, b := range all {
		if b.IsAvailable() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Queries) UpdateBatchRemaining(ctx context.Context, id stock.BatchID, remaining stock.Litres) error {
	res, err := s.exec(ctx, `UPDATE batches SET quantity_remaining = ? WHERE id = ?`, remaining.Value, string(id))
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return expectOne(res, fmt.Errorf("batch %s: %w", id, stock.ErrBatchNotFound))
}

func (s *Queries) DeleteBatch(ctx context.Context, id stock.BatchID) error {
	res, err := s.exec(ctx, `DELETE FROM batches WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return expectOne(res, fmt.Errorf("batch %s: %w", id, stock.ErrBatchNotFound))
}

func (s *Queries) queryBatches(ctx context.Context, query string, args ...any) ([]stock.Batch, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var out []stock.Batch
	for rows.Next() {
		var (
			b                 stock.Batch
			id, product       string
			total, remaining  decimal.Decimal
			received, created string
			supplier, ref     sql.NullString
		)
		if err := rows.Scan(&id, &product, &total, &remaining, &received, &supplier, &b.UnitCost, &ref, &created); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.ID = stock.BatchID(id)
		b.Product = stock.Product(product)
		b.QuantityTotal = stock.Litres{Value: total}
		b.QuantityRemaining = stock.Litres{Value: remaining}
		b.Supplier = supplier.String
		b.Reference = ref.String
		if b.ReceivedAt, err = parseTime(received); err != nil {
			return nil, err
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// TRIPS
// =============================================================================

const tripColumns = `id, product, status, bol_number, vehicle, customer, created_at, updated_at`

// SaveTrip upserts the trip row and replaces its compartments.
func (s *Queries) SaveTrip(ctx context.Context, t stock.Trip) error {
	_, err := s.exec(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			product = excluded.product,
			status = excluded.status,
			bol_number = excluded.bol_number,
			vehicle = excluded.vehicle,
			customer = excluded.customer,
			updated_at = excluded.updated_at`,
		string(t.ID),
		string(t.Product),
		string(t.Status),
		t.BOLNumber,
		t.Vehicle,
		t.Customer,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}

	if _, err := s.exec(ctx, `DELETE FROM trip_compartments WHERE trip_id = ?`, string(t.ID)); err != nil {
		return fmt.Errorf("failed to clear compartments: %w", err)
	}
	for _, c := range t.Compartments {
		var actual decimal.NullDecimal
		if c.Actual != nil {
			actual = decimal.NullDecimal{Decimal: c.Actual.Value, Valid: true}
		}
		_, err := s.exec(ctx, `
			INSERT INTO trip_compartments (trip_id, number, requested, actual)
			VALUES (?, ?, ?, ?)`,
			string(t.ID), c.Number, c.Requested.Value, actual)
		if err != nil {
			return fmt.Errorf("failed to save compartment %d: %w", c.Number, err)
		}
	}
	return nil
}

func (s *Queries) GetTrip(ctx context.Context, id stock.TripID) (*stock.Trip, error) {
	return s.getTrip(ctx, id, "")
}

func (s *Queries) GetTripForUpdate(ctx context.Context, id stock.TripID) (*stock.Trip, error) {
	return s.getTrip(ctx, id, s.lock())
}

func (s *Queries) getTrip(ctx context.Context, id stock.TripID, lock string) (*stock.Trip, error) {
	trips, err := s.queryTrips(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`+lock, string(id))
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, fmt.Errorf("trip %s: %w", id, stock.ErrTripNotFound)
	}
	return &trips[0], nil
}

func (s *Queries) ListTrips(ctx context.Context, filter stock.TripFilter) ([]stock.Trip, error) {
	var (
		where []string
		args  []any
	)
	if filter.Product != "" {
		where = append(where, "product = ?")
		args = append(args, string(filter.Product))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + tripColumns + ` FROM trips`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	return s.queryTrips(ctx, query, args...)
}

// queryTrips reads trip rows, closes them, then loads compartments. Rows are
// never held open across a second query.
func (s *Queries) queryTrips(ctx context.Context, query string, args ...any) ([]stock.Trip, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}

	var trips []stock.Trip
	for rows.Next() {
		var (
			t                      stock.Trip
			id, product, status    string
			bol, vehicle, customer sql.NullString
			created, updated       string
		)
		if err := rows.Scan(&id, &product, &status, &bol, &vehicle, &customer, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.ID = stock.TripID(id)
		t.Product = stock.Product(product)
		t.Status = stock.TripStatus(status)
		t.BOLNumber = bol.String
		t.Vehicle = vehicle.String
		t.Customer = customer.String
		if t.CreatedAt, err = parseTime(created); err != nil {
			rows.Close()
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			rows.Close()
			return nil, err
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range trips {
		comps, err := s.compartments(ctx, trips[i].ID)
		if err != nil {
			return nil, err
		}
		trips[i].Compartments = comps
	}
	return trips, nil
}

func (s *Queries) compartments(ctx context.Context, id stock.TripID) ([]stock.Compartment, error) {
	rows, err := s.query(ctx, `
		SELECT number, requested, actual FROM trip_compartments
		WHERE trip_id = ? ORDER BY number`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query compartments: %w", err)
	}
	defer rows.Close()

	var out []stock.Compartment
	for rows.Next() {
		var (
			c         stock.Compartment
			requested decimal.Decimal
			actual    decimal.NullDecimal
		)
		if err := rows.Scan(&c.Number, &requested, &actual); err != nil {
			return nil, fmt.Errorf("failed to scan compartment: %w", err)
		}
		c.Requested = stock.Litres{Value: requested}
		if actual.Valid {
			a := stock.Litres{Value: actual.Decimal}
			c.Actual = &a
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// DEPLETIONS
// =============================================================================

const depletionColumns = `id, trip_id, batch_id, product, quantity, seq, created_at`

func (s *Queries) InsertDepletions(ctx context.Context, deps []stock.Depletion) error {
	for _, d := range deps {
		_, err := s.exec(ctx, `
			INSERT INTO depletions (`+depletionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(d.ID), string(d.TripID), string(d.BatchID), string(d.Product),
			d.Quantity.Value, d.Seq, formatTime(d.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert depletion: %w", err)
		}
	}
	return nil
}

func (s *Queries) TripDepletions(ctx context.Context, id stock.TripID) ([]stock.Depletion, error) {
	return s.queryDepletions(ctx, `SELECT `+depletionColumns+` FROM depletions WHERE trip_id = ? ORDER BY seq`, string(id))
}

func (s *Queries) ProductDepletions(ctx context.Context, product stock.Product) ([]stock.Depletion, error) {
	return s.queryDepletions(ctx, `SELECT `+depletionColumns+` FROM depletions WHERE product = ? ORDER BY trip_id, seq`, string(product))
}

func (s *Queries) DeleteTripDepletions(ctx context.Context, id stock.TripID) error {
	if _, err := s.exec(ctx, `DELETE FROM depletions WHERE trip_id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete depletions: %w", err)
	}
	return nil
}

func (s *Queries) queryDepletions(ctx context.Context, query string, args ...any) ([]stock.Depletion, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query depletions: %w", err)
	}
	defer rows.Close()

	var out []stock.Depletion
	for rows.Next() {
		var (
			d                            stock.Depletion
			id, tripID, batchID, product string
			qty                          decimal.Decimal
			created                      string
		)
		if err := rows.Scan(&id, &tripID, &batchID, &product, &qty, &d.Seq, &created); err != nil {
			return nil, fmt.Errorf("failed to scan depletion: %w", err)
		}
		d.ID = stock.DepletionID(id)
		d.TripID = stock.TripID(tripID)
		d.BatchID = stock.BatchID(batchID)
		d.Product = stock.Product(product)
		d.Quantity = stock.Litres{Value: qty}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// MOVEMENTS (append-only)
// =============================================================================

const movementColumns = `id, product, batch_id, trip_id, movement_type, delta, reason, created_at`

func (s *Queries) AppendMovements(ctx context.Context, ms []stock.Movement) error {
	for _, m := range ms {
		_, err := s.exec(ctx, `
			INSERT INTO movements (`+movementColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(m.ID), string(m.Product), string(m.BatchID), string(m.TripID),
			string(m.Type), m.Delta.Value, m.Reason, formatTime(m.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append movement: %w", err)
		}
	}
	return nil
}

// Movements returns matching history, newest first.
func (s *Queries) Movements(ctx context.Context, f stock.MovementFilter) ([]stock.Movement, error) {
	var (
		where []string
		args  []any
	)
	if f.Product != "" {
		where = append(where, "product = ?")
		args = append(args, string(f.Product))
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, string(f.BatchID))
	}
	if f.TripID != "" {
		where = append(where, "trip_id = ?")
		args = append(args, string(f.TripID))
	}

	query := `SELECT ` + movementColumns + ` FROM movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []stock.Movement
	for rows.Next() {
		var (
			m                                    stock.Movement
			id, product, batchID, tripID, mvType string
			delta                                decimal.Decimal
			reason                               sql.NullString
			created                              string
		)
		if err := rows.Scan(&id, &product, &batchID, &tripID, &mvType, &delta, &reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.ID = stock.MovementID(id)
		m.Product = stock.Product(product)
		m.BatchID = stock.BatchID(batchID)
		m.TripID = stock.TripID(tripID)
		m.Type = stock.MovementType(mvType)
		m.Delta = stock.Litres{Value: delta}
		m.Reason = reason.String
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Reset clears all data (for testing/demo). Children go first.
func (s *Queries) Reset(ctx context.Context) error {
	for _, table := range []string{"movements", "depletions", "trip_compartments", "trips", "batches"} {
		if _, err := s.exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// parseTime accepts TimeLayout and RFC 3339, which is what database/sql
// produces when a driver returns time.Time for a TIMESTAMPTZ column.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// PositionalRebind turns '?' into $1, $2, ... for drivers such as lib/pq.
func PositionalRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ stock.Store = (*Queries)(nil)
