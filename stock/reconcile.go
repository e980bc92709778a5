package stock

import (
	"context"
	"fmt"
)

type reconcileOutcome struct {
	depletions []Depletion
	released   []Depletion
	changed    bool
}

// ReconcileTrip records the three measured compartment quantities and, when
// the trip holds an allocation, re-plans it against the measured total.
//
// If the measured total is within epsilon of what is already allocated the
// ledger is left alone. Otherwise the old depletions are reversed and a new
// FIFO plan is applied in the same transaction; if stock cannot cover the
// new total nothing changes, the old allocation and the old actuals stay.
func (e *Engine) ReconcileTrip(ctx context.Context, id TripID, actuals [CompartmentCount]Litres, bol string) ([]Depletion, error) {
	for i := range actuals {
		actuals[i] = actuals[i].Round()
	}
	if err := ValidateActuals(id, actuals); err != nil {
		return nil, err
	}
	peek, err := e.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &TransitionResult{Effect: EffectNone}
	err = e.withProduct(ctx, peek.Product, "reconcile", func(s Store) error {
		trip, err := s.GetTripForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateCompartments(*trip); err != nil {
			return err
		}
		res.From = trip.Status

		applyActuals(trip, actuals)
		if bol != "" {
			trip.BOLNumber = bol
		}

		if IsAllocated(trip.Status) {
			out, err := e.reconcileLocked(ctx, s, *trip, "actuals recorded")
			if err != nil {
				return err
			}
			res.Depletions = out.depletions
			res.Released = out.released
			if out.changed {
				res.Effect = EffectReconcile
			}
		}

		trip.UpdatedAt = e.ledger.Now()
		res.Trip = *trip
		return s.SaveTrip(ctx, *trip)
	})
	if err != nil {
		return nil, err
	}

	if res.Effect == EffectReconcile {
		e.after(ctx, res)
	} else {
		e.log.Debug().Str("trip_id", string(id)).Msg("actuals recorded without ledger change")
	}
	return res.Depletions, nil
}

// reconcileLocked brings the trip's allocation to its confirmed demand. It
// must run inside the product lock and a store transaction.
func (e *Engine) reconcileLocked(ctx context.Context, s Store, trip Trip, reason string) (reconcileOutcome, error) {
	confirmed := trip.ConfirmedDemand()
	allocated, held, err := e.ledger.Allocated(ctx, s, trip.ID)
	if err != nil {
		return reconcileOutcome{}, err
	}
	if len(held) > 0 && confirmed.Within(allocated, e.epsilon) {
		return reconcileOutcome{depletions: held}, nil
	}

	released, err := e.ledger.Reverse(ctx, s, trip, reason)
	if err != nil {
		return reconcileOutcome{}, err
	}
	plan, err := e.allocator.Plan(ctx, s, trip.Product, confirmed)
	if err != nil {
		return reconcileOutcome{}, fmt.Errorf("reconcile trip %s from %s to %s: %w", trip.ID, allocated, confirmed, err)
	}
	deps, err := e.ledger.Apply(ctx, s, trip, plan, reason)
	if err != nil {
		return reconcileOutcome{}, err
	}
	return reconcileOutcome{depletions: deps, released: released, changed: true}, nil
}
