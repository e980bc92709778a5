package stock

import (
	"context"
	"fmt"
	"time"
)

// StockSummary is the dashboard view of one product.
type StockSummary struct {
	Product Product
	// Physical is fuel in the depot: sum of batch remaining.
	Physical Litres
	// Booked is nominal demand of trips not yet approved (PENDING, LOADING).
	Booked Litres
	// NetAvailable is Physical minus Booked. It may be negative.
	NetAvailable Litres
	Received     Litres
	Allocated    Litres
	Batches      int
	AsOf         time.Time
}

// StockSummary reports physical, booked and net available stock.
func (e *Engine) StockSummary(ctx context.Context, product Product) (*StockSummary, error) {
	if product == "" {
		return nil, ErrInvalidProduct
	}
	batches, err := e.store.ListBatches(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	trips, err := e.store.ListTrips(ctx, TripFilter{Product: product, Statuses: []TripStatus{TripPending, TripLoading}})
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}

	sum := &StockSummary{
		Product:   product,
		Physical:  ZeroLitres(),
		Booked:    ZeroLitres(),
		Received:  ZeroLitres(),
		Allocated: ZeroLitres(),
		Batches:   len(batches),
		AsOf:      e.ledger.Now(),
	}
	for _, b := range batches {
		sum.Physical = sum.Physical.Add(b.QuantityRemaining)
		sum.Received = sum.Received.Add(b.QuantityTotal)
	}
	for _, t := range trips {
		if IsBooked(t.Status) {
			sum.Booked = sum.Booked.Add(t.NominalDemand())
		}
	}
	sum.Allocated = sum.Received.Sub(sum.Physical)
	sum.NetAvailable = sum.Physical.Sub(sum.Booked)
	return sum, nil
}

// =============================================================================
// CONSISTENCY
// =============================================================================

type ViolationKind string

const (
	ViolationBatchBalance    ViolationKind = "batch_balance"
	ViolationTripDemand      ViolationKind = "trip_demand"
	ViolationOrphanDepletion ViolationKind = "orphan_depletion"
	ViolationNegative        ViolationKind = "negative_remaining"
)

type Violation struct {
	Kind    ViolationKind
	BatchID BatchID
	TripID  TripID
	Detail  string
}

type ConsistencyReport struct {
	Product    Product
	Batches    int
	Trips      int
	Violations []Violation
	CheckedAt  time.Time
}

func (r *ConsistencyReport) OK() bool { return len(r.Violations) == 0 }

// CheckConsistency audits the ledger of one product:
//
//	per batch:          total - remaining == sum(depletions of the batch)
//	per allocated trip: sum(depletions) == LedgerDemand within epsilon
//	other trips:        no depletions
//
// It holds the product lock so the audit sees a settled ledger.
func (e *Engine) CheckConsistency(ctx context.Context, product Product) (*ConsistencyReport, error) {
	if product == "" {
		return nil, ErrInvalidProduct
	}
	report := &ConsistencyReport{Product: product, CheckedAt: e.ledger.Now()}

	err := e.withProduct(ctx, product, "check_consistency", func(s Store) error {
		batches, err := s.ListBatches(ctx, product)
		if err != nil {
			return err
		}
		deps, err := s.ProductDepletions(ctx, product)
		if err != nil {
			return err
		}
		trips, err := s.ListTrips(ctx, TripFilter{Product: product})
		if err != nil {
			return err
		}
		report.Batches = len(batches)
		report.Trips = len(trips)

		byBatch := make(map[BatchID]Litres)
		byTrip := make(map[TripID]Litres)
		for _, d := range deps {
			byBatch[d.BatchID] = byBatch[d.BatchID].Add(d.Quantity)
			byTrip[d.TripID] = byTrip[d.TripID].Add(d.Quantity)
		}

		for _, b := range batches {
			if b.QuantityRemaining.IsNegative() || b.QuantityRemaining.GreaterThan(b.QuantityTotal) {
				report.Violations = append(report.Violations, Violation{
					Kind:    ViolationNegative,
					BatchID: b.ID,
					Detail:  fmt.Sprintf("remaining %s outside [0, %s]", b.QuantityRemaining, b.QuantityTotal),
				})
			}
			drawn := byBatch[b.ID]
			if !b.Depleted().Equal(drawn) {
				report.Violations = append(report.Violations, Violation{
					Kind:    ViolationBatchBalance,
					BatchID: b.ID,
					Detail:  fmt.Sprintf("total %s - remaining %s != depleted %s", b.QuantityTotal, b.QuantityRemaining, drawn),
				})
			}
		}

		for _, t := range trips {
			held := byTrip[t.ID]
			delete(byTrip, t.ID)
			if IsAllocated(t.Status) {
				want := LedgerDemand(t)
				if !held.Within(want, e.epsilon) {
					report.Violations = append(report.Violations, Violation{
						Kind:   ViolationTripDemand,
						TripID: t.ID,
						Detail: fmt.Sprintf("%s holds %s, demand %s", t.Status, held, want),
					})
				}
				continue
			}
			if !held.IsZero() {
				report.Violations = append(report.Violations, Violation{
					Kind:   ViolationOrphanDepletion,
					TripID: t.ID,
					Detail: fmt.Sprintf("%s trip holds %s", t.Status, held),
				})
			}
		}
		for id, held := range byTrip {
			report.Violations = append(report.Violations, Violation{
				Kind:   ViolationOrphanDepletion,
				TripID: id,
				Detail: fmt.Sprintf("unknown trip holds %s", held),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.OK() {
		e.log.Error().Str("product", string(product)).Int("violations", len(report.Violations)).Msg("ledger inconsistency detected")
	}
	return report, nil
}
