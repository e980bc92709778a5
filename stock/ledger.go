/*
ledger.go - Depletion Ledger

PURPOSE:
  The only writer of depletion records and of batch remaining quantities.
  A trip's depletions are created from a Plan and removed as a whole;
  they are never edited in place.

INVARIANTS (held at every commit):
  - per batch: total - remaining == sum(depletions of the batch)
  - per allocated trip: sum(depletions of the trip) == its demand
  - every reserve/release writes one Movement (append-only history)

REVERSAL ORDER:
  Depletions carry the index of their plan line (Seq). Reverse releases
  them from the highest Seq down, the mirror of the allocation order.
  Row locks are still taken oldest batch first in both directions.

Callers (engine.go, reconcile.go) run Apply and Reverse inside
TxStore.WithTx while holding the product lock.
*/
package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Ledger struct {
	Now   func() time.Time
	NewID func() string
}

// NewLedger returns a ledger with UTC wall clock and UUID identifiers.
func NewLedger() *Ledger {
	return &Ledger{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.NewString() },
	}
}

// Apply reserves every allocation of the plan and records the depletions.
func (l *Ledger) Apply(ctx context.Context, s Store, trip Trip, plan *Plan, reason string) ([]Depletion, error) {
	if plan.Product != trip.Product {
		return nil, fmt.Errorf("plan product %s does not match trip %s product %s: %w", plan.Product, trip.ID, trip.Product, ErrInvalidProduct)
	}
	if !plan.Total().Equal(plan.Required) {
		return nil, fmt.Errorf("plan for trip %s allocates %s of %s: %w", trip.ID, plan.Total(), plan.Required, ErrInsufficientStock)
	}

	book := BatchBook{Store: s}
	now := l.Now()
	deps := make([]Depletion, 0, len(plan.Allocations))
	moves := make([]Movement, 0, len(plan.Allocations))

	for i, alloc := range plan.Allocations {
		if _, err := book.Reserve(ctx, alloc.BatchID, alloc.Amount); err != nil {
			return nil, err
		}
		deps = append(deps, Depletion{
			ID:        DepletionID(l.NewID()),
			TripID:    trip.ID,
			BatchID:   alloc.BatchID,
			Product:   trip.Product,
			Quantity:  alloc.Amount,
			Seq:       i,
			CreatedAt: now,
		})
		moves = append(moves, Movement{
			ID:        MovementID(l.NewID()),
			Product:   trip.Product,
			BatchID:   alloc.BatchID,
			TripID:    trip.ID,
			Type:      MovementDeplete,
			Delta:     alloc.Amount.Neg(),
			Reason:    reason,
			CreatedAt: now,
		})
	}

	if err := s.InsertDepletions(ctx, deps); err != nil {
		return nil, fmt.Errorf("failed to record depletions: %w", err)
	}
	if err := s.AppendMovements(ctx, moves); err != nil {
		return nil, fmt.Errorf("failed to record movements: %w", err)
	}
	return deps, nil
}

// Reverse releases every depletion of the trip back into its batch, newest
// plan line first, and deletes the depletion records. It returns what was
// reversed; an empty result means the trip held no allocation.
func (l *Ledger) Reverse(ctx context.Context, s Store, trip Trip, reason string) ([]Depletion, error) {
	deps, err := s.TripDepletions(ctx, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load depletions: %w", err)
	}
	if len(deps) == 0 {
		return nil, nil
	}

	// Take the product's batch rows in FIFO order, the order Apply takes
	// them in, before releasing newest first.
	if _, err := s.AvailableBatches(ctx, trip.Product); err != nil {
		return nil, fmt.Errorf("failed to lock batches: %w", err)
	}

	ordered := append([]Depletion(nil), deps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq > ordered[j].Seq })

	book := BatchBook{Store: s}
	now := l.Now()
	moves := make([]Movement, 0, len(ordered))
	for _, d := range ordered {
		if _, err := book.Release(ctx, d.BatchID, d.Quantity); err != nil {
			return nil, err
		}
		moves = append(moves, Movement{
			ID:        MovementID(l.NewID()),
			Product:   d.Product,
			BatchID:   d.BatchID,
			TripID:    trip.ID,
			Type:      MovementRelease,
			Delta:     d.Quantity,
			Reason:    reason,
			CreatedAt: now,
		})
	}

	if err := s.DeleteTripDepletions(ctx, trip.ID); err != nil {
		return nil, fmt.Errorf("failed to delete depletions: %w", err)
	}
	if err := s.AppendMovements(ctx, moves); err != nil {
		return nil, fmt.Errorf("failed to record movements: %w", err)
	}
	return ordered, nil
}

// Allocated sums the trip's current depletions.
func (l *Ledger) Allocated(ctx context.Context, s DepletionStore, id TripID) (Litres, []Depletion, error) {
	deps, err := s.TripDepletions(ctx, id)
	if err != nil {
		return Litres{}, nil, err
	}
	total := ZeroLitres()
	for _, d := range deps {
		total = total.Add(d.Quantity)
	}
	return total, deps, nil
}
