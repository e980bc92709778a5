/*
engine.go - Trip lifecycle orchestration

PURPOSE:
  The Engine is the only entry point that mutates the ledger. Every
  operation follows the same shape:

    1. Validate input that needs no stored state
    2. Acquire the product lock (ProductLocks)
    3. Open a store transaction (TxStore.WithTx)
    4. Re-read the trip with GetTripForUpdate
    5. Decide the ledger effect, apply it through Ledger
    6. Save the trip, commit, release the lock
    7. Log, record metrics, publish the event

  Any error in 4-6 rolls back the transaction: the trip keeps its previous
  status and the batches keep their previous remaining quantities.

OPERATIONS:
  ReceiveBatch, DeleteBatch           - batch intake
  CreateTrip, UpdateCompartments      - trip data
  Transition                          - generic status change
  ApproveTrip, RejectOrCancelTrip     - named transitions
  ReconcileTrip (reconcile.go)        - measured quantities
  StockSummary, CheckConsistency (summary.go)

SEE ALSO:
  - trip.go: which transitions exist and what they do to the ledger
  - ledger.go: Apply / Reverse
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the reconciliation tolerance.
var DefaultEpsilon = MustLitres("0.01")

// DefaultLockTimeout bounds how long an operation waits for a product lock.
const DefaultLockTimeout = 5 * time.Second

type Options struct {
	LockTimeout time.Duration
	Epsilon     *Litres
	Logger      *zerolog.Logger
	Publisher   Publisher
	Recorder    Recorder
	Now         func() time.Time
	NewID       func() string
}

type Engine struct {
	store     TxStore
	locks     *ProductLocks
	ledger    *Ledger
	allocator Allocator
	epsilon   Litres
	log       zerolog.Logger
	publisher Publisher
	recorder  Recorder
}

// NewEngine wires an engine around a transactional store.
func NewEngine(store TxStore, opts Options) *Engine {
	ledger := NewLedger()
	if opts.Now != nil {
		ledger.Now = opts.Now
	}
	if opts.NewID != nil {
		ledger.NewID = opts.NewID
	}

	e := &Engine{
		store:     store,
		locks:     NewProductLocks(DefaultLockTimeout),
		ledger:    ledger,
		epsilon:   DefaultEpsilon,
		log:       zerolog.Nop(),
		publisher: nopPublisher{},
		recorder:  nopRecorder{},
	}
	if opts.LockTimeout > 0 {
		e.locks.Timeout = opts.LockTimeout
	}
	if opts.Epsilon != nil {
		e.epsilon = *opts.Epsilon
	}
	if opts.Logger != nil {
		e.log = opts.Logger.With().Str("component", "stock").Logger()
	}
	if opts.Publisher != nil {
		e.publisher = opts.Publisher
	}
	if opts.Recorder != nil {
		e.recorder = opts.Recorder
	}
	return e
}

// Epsilon returns the reconciliation tolerance in use.
func (e *Engine) Epsilon() Litres { return e.epsilon }

// withProduct runs fn under the product lock inside one store transaction.
func (e *Engine) withProduct(ctx context.Context, product Product, op string, fn func(Store) error) error {
	start := time.Now()
	release, err := e.locks.Acquire(ctx, product)
	e.recorder.LockWait(product, time.Since(start))
	if err != nil {
		e.fail(op, err)
		return err
	}
	defer release()

	if err := e.store.WithTx(ctx, fn); err != nil {
		e.fail(op, err)
		return err
	}
	return nil
}

func (e *Engine) fail(op string, err error) {
	e.recorder.Failed(op, err)
	ev := e.log.Warn()
	if IsConsistencyViolation(err) {
		ev = e.log.Error()
	}
	ev.Err(err).Str("op", op).Msg("stock operation failed")
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Str("trip_id", string(ev.TripID)).Msg("failed to publish event")
	}
}

// =============================================================================
// BATCHES
// =============================================================================

// NewBatch is the input for ReceiveBatch. Remaining starts equal to total.
type NewBatch struct {
	ID         BatchID
	Product    Product
	Quantity   Litres
	ReceivedAt time.Time
	Supplier   string
	UnitCost   decimal.Decimal
	Reference  string
}

// ReceiveBatch records a new shipment batch.
func (e *Engine) ReceiveBatch(ctx context.Context, in NewBatch) (*Batch, error) {
	b := Batch{
		ID:                in.ID,
		Product:           in.Product,
		QuantityTotal:     in.Quantity.Round(),
		QuantityRemaining: in.Quantity.Round(),
		ReceivedAt:        in.ReceivedAt.UTC(),
		Supplier:          in.Supplier,
		UnitCost:          in.UnitCost,
		Reference:         in.Reference,
		CreatedAt:         e.ledger.Now(),
	}
	if b.ID == "" {
		b.ID = BatchID(e.ledger.NewID())
	}
	if err := ValidateBatch(b); err != nil {
		return nil, err
	}

	err := e.withProduct(ctx, b.Product, "receive_batch", func(s Store) error {
		return s.CreateBatch(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("batch_id", string(b.ID)).Str("product", string(b.Product)).
		Str("litres", b.QuantityTotal.String()).Msg("batch received")
	return &b, nil
}

// DeleteBatch removes a batch that has never been drawn from.
func (e *Engine) DeleteBatch(ctx context.Context, id BatchID) error {
	b, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	return e.withProduct(ctx, b.Product, "delete_batch", func(s Store) error {
		cur, err := s.GetBatch(ctx, id)
		if err != nil {
			return err
		}
		if cur.QuantityRemaining.LessThan(cur.QuantityTotal) {
			return fmt.Errorf("batch %s depleted by %s: %w", id, cur.Depleted(), ErrBatchInUse)
		}
		return s.DeleteBatch(ctx, id)
	})
}

func (e *Engine) GetBatch(ctx context.Context, id BatchID) (*Batch, error) {
	return e.store.GetBatch(ctx, id)
}

func (e *Engine) ListBatches(ctx context.Context, product Product) ([]Batch, error) {
	return e.store.ListBatches(ctx, product)
}

// =============================================================================
// TRIPS
// =============================================================================

// NewTrip is the input for CreateTrip. Fewer than three compartments are
// accepted while the trip is PENDING.
type NewTrip struct {
	ID           TripID
	Product      Product
	Vehicle      string
	Customer     string
	Compartments []CompartmentInput
}

// CreateTrip stores a new PENDING trip.
func (e *Engine) CreateTrip(ctx context.Context, in NewTrip) (*Trip, error) {
	if in.Product == "" {
		return nil, fmt.Errorf("trip %s: %w", in.ID, ErrInvalidProduct)
	}
	comps, err := BuildCompartments(in.Compartments)
	if err != nil {
		return nil, err
	}
	now := e.ledger.Now()
	t := Trip{
		ID:           in.ID,
		Product:      in.Product,
		Status:       TripPending,
		Compartments: comps,
		Vehicle:      in.Vehicle,
		Customer:     in.Customer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.ID == "" {
		t.ID = TripID(e.ledger.NewID())
	}

	err = e.withProduct(ctx, t.Product, "create_trip", func(s Store) error {
		if _, err := s.GetTrip(ctx, t.ID); err == nil {
			return fmt.Errorf("trip %s: %w", t.ID, ErrAlreadyExists)
		} else if !IsNotFound(err) {
			return err
		}
		return s.SaveTrip(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (e *Engine) GetTrip(ctx context.Context, id TripID) (*Trip, error) {
	return e.store.GetTrip(ctx, id)
}

func (e *Engine) ListTrips(ctx context.Context, filter TripFilter) ([]Trip, error) {
	return e.store.ListTrips(ctx, filter)
}

func (e *Engine) TripDepletions(ctx context.Context, id TripID) ([]Depletion, error) {
	if _, err := e.store.GetTrip(ctx, id); err != nil {
		return nil, err
	}
	return e.store.TripDepletions(ctx, id)
}

func (e *Engine) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return e.store.Movements(ctx, filter)
}

// LedgerDemand is the quantity an allocated trip must hold: measured
// quantities once all three are known, requested quantities otherwise.
func LedgerDemand(t Trip) Litres {
	if t.HasAllActuals() {
		return t.ConfirmedDemand()
	}
	return t.NominalDemand()
}

// UpdateCompartments replaces the trip's compartments. Unallocated trips are
// updated freely. A KPC_APPROVED trip has its allocation re-derived in the
// same transaction. Later statuses are locked.
func (e *Engine) UpdateCompartments(ctx context.Context, id TripID, inputs []CompartmentInput) (*TransitionResult, error) {
	comps, err := BuildCompartments(inputs)
	if err != nil {
		return nil, err
	}
	peek, err := e.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}

	var res *TransitionResult
	err = e.withProduct(ctx, peek.Product, "update_compartments", func(s Store) error {
		trip, err := s.GetTripForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res = &TransitionResult{From: trip.Status, Effect: EffectNone}

		if IsAllocated(trip.Status) && trip.Status != TripKPCApproved {
			return fmt.Errorf("trip %s in %s: %w", id, trip.Status, ErrTripLocked)
		}

		trip.Compartments = comps
		if trip.Status != TripPending {
			if err := ValidateCompartments(*trip); err != nil {
				return err
			}
		}

		if trip.Status == TripKPCApproved {
			released, err := e.ledger.Reverse(ctx, s, *trip, "compartments updated")
			if err != nil {
				return err
			}
			plan, err := e.allocator.Plan(ctx, s, trip.Product, LedgerDemand(*trip))
			if err != nil {
				return err
			}
			deps, err := e.ledger.Apply(ctx, s, *trip, plan, "compartments updated")
			if err != nil {
				return err
			}
			res.Effect = EffectReconcile
			res.Released = released
			res.Depletions = deps
		}

		trip.UpdatedAt = e.ledger.Now()
		res.Trip = *trip
		return s.SaveTrip(ctx, *trip)
	})
	if err != nil {
		return nil, err
	}

	e.after(ctx, res)
	return res, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// TransitionResult describes a committed status change.
type TransitionResult struct {
	Trip       Trip
	From       TripStatus
	Effect     Effect
	Depletions []Depletion // allocation held after the change
	Released   []Depletion // depletions reversed by the change
}

// Transition moves a trip to status to, applying the ledger effect of the
// edge. Moving a trip to the status it already has is a no-op.
func (e *Engine) Transition(ctx context.Context, id TripID, to TripStatus) (*TransitionResult, error) {
	if !ValidStatus(to) {
		return nil, &InvalidTransitionError{TripID: id, To: to}
	}
	peek, err := e.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}

	var res *TransitionResult
	err = e.withProduct(ctx, peek.Product, "transition", func(s Store) error {
		trip, err := s.GetTripForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := trip.Status
		res = &TransitionResult{From: from, Effect: EffectNone}

		if from == to {
			_, res.Depletions, err = e.ledger.Allocated(ctx, s, id)
			res.Trip = *trip
			return err
		}
		if requiresCompartments(from, to) {
			if err := ValidateCompartments(*trip); err != nil {
				return err
			}
		}
		if !CanTransition(from, to) {
			return &InvalidTransitionError{TripID: id, From: from, To: to}
		}

		_, held, err := e.ledger.Allocated(ctx, s, id)
		if err != nil {
			return err
		}
		res.Depletions = held
		res.Effect = EffectOf(*trip, to, len(held) > 0)
		reason := fmt.Sprintf("%s -> %s", from, to)

		switch res.Effect {
		case EffectAllocate:
			// A stale allocation would double count; clear it first.
			released, err := e.ledger.Reverse(ctx, s, *trip, reason)
			if err != nil {
				return err
			}
			plan, err := e.allocator.Plan(ctx, s, trip.Product, LedgerDemand(*trip))
			if err != nil {
				return err
			}
			deps, err := e.ledger.Apply(ctx, s, *trip, plan, reason)
			if err != nil {
				return err
			}
			res.Released = released
			res.Depletions = deps
		case EffectReconcile:
			out, err := e.reconcileLocked(ctx, s, *trip, reason)
			if err != nil {
				return err
			}
			if !out.changed {
				res.Effect = EffectNone
			}
			res.Released = out.released
			res.Depletions = out.depletions
		case EffectReverse:
			released, err := e.ledger.Reverse(ctx, s, *trip, reason)
			if err != nil {
				return err
			}
			res.Released = released
			res.Depletions = nil
		}

		trip.Status = to
		trip.UpdatedAt = e.ledger.Now()
		res.Trip = *trip
		return s.SaveTrip(ctx, *trip)
	})
	if err != nil {
		return nil, err
	}
	if res.From == res.Trip.Status {
		return res, nil
	}

	e.after(ctx, res)
	return res, nil
}

// ApproveTrip moves a trip into KPC_APPROVED and returns its depletions.
// An InsufficientAggregateStockError leaves the trip and ledger unchanged.
func (e *Engine) ApproveTrip(ctx context.Context, id TripID) ([]Depletion, error) {
	res, err := e.Transition(ctx, id, TripKPCApproved)
	if err != nil {
		return nil, err
	}
	return res.Depletions, nil
}

// RejectOrCancelTrip moves a trip to KPC_REJECTED or CANCELLED, releasing
// any allocation it holds.
func (e *Engine) RejectOrCancelTrip(ctx context.Context, id TripID, to TripStatus) error {
	if to != TripKPCRejected && to != TripCancelled {
		return &InvalidTransitionError{TripID: id, To: to}
	}
	_, err := e.Transition(ctx, id, to)
	return err
}

// after logs, records and publishes a committed result.
func (e *Engine) after(ctx context.Context, res *TransitionResult) {
	trip := res.Trip
	allocated := sumDepletions(res.Depletions)
	released := sumDepletions(res.Released)

	if len(res.Released) > 0 {
		e.recorder.Released(trip.Product, released)
	}
	if res.Effect == EffectAllocate || res.Effect == EffectReconcile {
		e.recorder.Allocated(trip.Product, allocated)
	}

	e.log.Info().
		Str("trip_id", string(trip.ID)).
		Str("product", string(trip.Product)).
		Str("from", string(res.From)).
		Str("to", string(trip.Status)).
		Str("effect", string(res.Effect)).
		Str("allocated", allocated.String()).
		Str("released", released.String()).
		Msg("trip updated")

	ev := Event{
		Type:       EventTransitioned,
		TripID:     trip.ID,
		Product:    trip.Product,
		From:       res.From,
		To:         trip.Status,
		Demand:     allocated,
		Depletions: res.Depletions,
		At:         trip.UpdatedAt,
	}
	switch res.Effect {
	case EffectAllocate:
		ev.Type = EventAllocated
	case EffectReconcile:
		ev.Type = EventReconciled
	case EffectReverse:
		ev.Type = EventReleased
		ev.Demand = released
	}
	e.publish(ctx, ev)
}

func sumDepletions(deps []Depletion) Litres {
	total := ZeroLitres()
	for _, d := range deps {
		total = total.Add(d.Quantity)
	}
	return total
}
