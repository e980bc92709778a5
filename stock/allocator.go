/*
allocator.go - FIFO depletion planning

PURPOSE:
  Given a product and a required quantity, choose which batches to draw
  from. The oldest batch (by received date, then ID) is drained first.

ALGORITHM:
  available := batches with remaining > 0, FIFO order
  if sum(available.remaining) < required: fail, no partial plan
  for each batch: take min(remaining need, batch remaining)

EXAMPLE:
  B1 (day 1, 100 L), B2 (day 2, 100 L), required 150 L
  → [(B1, 100), (B2, 50)]

The planner is pure. It never mutates batches; ledger.go applies the plan.
*/
package stock

import (
	"context"
	"fmt"
)

// Allocation is one line of a plan.
type Allocation struct {
	BatchID BatchID
	Amount  Litres
}

// Plan is an ordered set of allocations summing exactly to Required.
type Plan struct {
	Product     Product
	Required    Litres
	Allocations []Allocation
}

// Total sums the plan's allocations.
func (p Plan) Total() Litres {
	total := ZeroLitres()
	for _, a := range p.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// PlanFIFO computes a plan from an already loaded batch list.
func PlanFIFO(product Product, batches []Batch, required Litres) (*Plan, error) {
	if !required.IsPositive() {
		return nil, fmt.Errorf("plan %s for %s: %w", required, product, ErrInvalidQuantity)
	}

	var candidates []Batch
	available := ZeroLitres()
	for _, b := range batches {
		if b.Product != product || !b.IsAvailable() {
			continue
		}
		candidates = append(candidates, b)
		available = available.Add(b.QuantityRemaining)
	}

	if available.LessThan(required) {
		return nil, &InsufficientAggregateStockError{
			Product:   product,
			Required:  required,
			Available: available,
			Shortfall: required.Sub(available),
		}
	}

	SortFIFO(candidates)

	plan := &Plan{Product: product, Required: required}
	need := required
	for _, b := range candidates {
		if need.IsZero() {
			break
		}
		take := need.Min(b.QuantityRemaining)
		plan.Allocations = append(plan.Allocations, Allocation{BatchID: b.ID, Amount: take})
		need = need.Sub(take)
	}
	return plan, nil
}

// Allocator loads available batches and plans against them.
type Allocator struct{}

// Plan reads the product's available batches through the store (which must
// be the transactional view when called under a lock) and plans FIFO.
func (Allocator) Plan(ctx context.Context, s BatchStore, product Product, required Litres) (*Plan, error) {
	batches, err := BatchBook{Store: s}.ListAvailable(ctx, product)
	if err != nil {
		return nil, err
	}
	return PlanFIFO(product, batches, required)
}
