/*
Package stock provides the fuel stock ledger and depletion engine.

PURPOSE:
  Fuel arrives in shipment batches and leaves in loading trips. This package
  decides which batches a trip draws from (oldest first), records those
  draws as depletions, and keeps them correct while the trip moves through
  its lifecycle and while measured (L20) quantities replace requested ones.

KEY CONCEPTS IN THIS FILE (types.go):
  - Litres: A decimal quantity of fuel (never float)
  - Batch: One shipment of a product with total and remaining litres
  - Trip: One truck dispatch with exactly three compartments
  - Depletion: Litres of one batch allocated to one trip
  - Movement: Append-only history entry for every batch mutation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal rounded to two fractional digits on entry
  2. Explicit transitions: no save hooks, every ledger change is a named call
  3. Atomicity: plan, reserve and record happen in one store transaction
  4. Auditability: every reserve/release writes a Movement

USAGE:
  engine := stock.NewEngine(store, stock.Options{})
  deps, err := engine.ApproveTrip(ctx, tripID)
  if errors.Is(err, stock.ErrInsufficientAggregateStock) {
      // trip stays in its previous status, ledger untouched
  }

SEE ALSO:
  - allocator.go: FIFO planning
  - ledger.go: Depletion persistence and reversal
  - trip.go: Trip state machine
  - reconcile.go: L20 reconciliation
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LITRES - Decimal fuel quantity
// =============================================================================

// Precision is the number of fractional digits kept for litres.
const Precision int32 = 2

type Litres struct {
	Value decimal.Decimal
}

func NewLitres(value float64) Litres {
	return Litres{Value: decimal.NewFromFloat(value).Round(Precision)}
}

func NewLitresFromInt(value int64) Litres {
	return Litres{Value: decimal.NewFromInt(value)}
}

// ParseLitres parses a decimal string such as "4980.50".
func ParseLitres(s string) (Litres, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Litres{}, err
	}
	return Litres{Value: d.Round(Precision)}, nil
}

// MustLitres is ParseLitres for literals in tests and scenarios.
func MustLitres(s string) Litres {
	l, err := ParseLitres(s)
	if err != nil {
		panic(err)
	}
	return l
}

func ZeroLitres() Litres { return Litres{Value: decimal.Zero} }

func (l Litres) Add(o Litres) Litres { return Litres{Value: l.Value.Add(o.Value)} }
func (l Litres) Sub(o Litres) Litres { return Litres{Value: l.Value.Sub(o.Value)} }
func (l Litres) Neg() Litres { return Litres{Value: l.Value.Neg()} }
func (l Litres) Abs() Litres { return Litres{Value: l.Value.Abs()} }
func (l Litres) IsZero() bool { return l.Value.IsZero() }
func (l Litres) IsPositive() bool { return l.Value.IsPositive() }
func (l Litres) IsNegative() bool { return l.Value.IsNegative() }
func (l Litres) Equal(o Litres) bool { return l.Value.Equal(o.Value) }
func (l Litres) GreaterThan(o Litres) bool { return l.Value.GreaterThan(o.Value) }
func (l Litres) LessThan(o Litres) bool { return l.Value.LessThan(o.Value) }
func (l Litres) String() string { return l.Value.StringFixed(Precision) }
func (l Litres) Round() Litres { return Litres{Value: l.Value.Round(Precision)} }

func (l Litres) Min(o Litres) Litres {
	if l.LessThan(o) {
		return l
	}
	return o
}

// Within reports whether |l - o| <= epsilon.
func (l Litres) Within(o, epsilon Litres) bool {
	return !l.Sub(o).Abs().GreaterThan(epsilon)
}

// SumLitres adds a list of quantities.
func SumLitres(ls ...Litres) Litres {
	total := ZeroLitres()
	for _, l := range ls {
		total = total.Add(l)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type Product string
type BatchID string
type TripID string
type DepletionID string
type MovementID string

// =============================================================================
// BATCH - One shipment of a product
// =============================================================================

type Batch struct {
	ID                BatchID
	Product           Product
	QuantityTotal     Litres
	QuantityRemaining Litres
	ReceivedAt        time.Time // FIFO key
	Supplier          string
	UnitCost          decimal.Decimal
	Reference         string // shipment / vessel reference
	CreatedAt         time.Time
}

// Depleted returns total - remaining.
func (b Batch) Depleted() Litres { return b.QuantityTotal.Sub(b.QuantityRemaining) }

// IsAvailable reports whether the batch can still be drawn from.
func (b Batch) IsAvailable() bool { return b.QuantityRemaining.IsPositive() }

// =============================================================================
// TRIP - One truck dispatch
// =============================================================================

type TripStatus string

const (
	TripPending     TripStatus = "PENDING"
	TripLoading     TripStatus = "LOADING"
	TripKPCApproved TripStatus = "KPC_APPROVED"
	TripLoaded      TripStatus = "LOADED"
	TripGatepassed  TripStatus = "GATEPASSED"
	TripDelivered   TripStatus = "DELIVERED"
	TripKPCRejected TripStatus = "KPC_REJECTED"
	TripCancelled   TripStatus = "CANCELLED"
)

type Trip struct {
	ID           TripID
	Product      Product
	Status       TripStatus
	Compartments []Compartment
	BOLNumber    string
	Vehicle      string
	Customer     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Compartment is one of the truck's three sub-tanks.
type Compartment struct {
	Number    int
	Requested Litres
	Actual    *Litres // nil until measured
}

// NominalDemand is the sum of requested quantities.
func (t Trip) NominalDemand() Litres {
	total := ZeroLitres()
	for _, c := range t.Compartments {
		total = total.Add(c.Requested)
	}
	return total
}

// ConfirmedDemand uses the measured quantity where present and falls back
// to the requested quantity for compartments not yet measured.
func (t Trip) ConfirmedDemand() Litres {
	total := ZeroLitres()
	for _, c := range t.Compartments {
		if c.Actual != nil {
			total = total.Add(*c.Actual)
		} else {
			total = total.Add(c.Requested)
		}
	}
	return total
}

// HasAllActuals reports whether every compartment has a measured quantity.
func (t Trip) HasAllActuals() bool {
	if len(t.Compartments) != CompartmentCount {
		return false
	}
	for _, c := range t.Compartments {
		if c.Actual == nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stores never share compartment slices.
func (t Trip) Clone() Trip {
	c := t
	c.Compartments = make([]Compartment, len(t.Compartments))
	for i, comp := range t.Compartments {
		c.Compartments[i] = comp
		if comp.Actual != nil {
			a := *comp.Actual
			c.Compartments[i].Actual = &a
		}
	}
	return c
}

// =============================================================================
// DEPLETION - Allocation of one batch to one trip
// =============================================================================

type Depletion struct {
	ID        DepletionID
	TripID    TripID
	BatchID   BatchID
	Product   Product
	Quantity  Litres
	Seq       int // position in the FIFO plan, reversal runs in descending order
	CreatedAt time.Time
}

// =============================================================================
// MOVEMENT - Append-only history of batch mutations
// =============================================================================

type MovementType string

const (
	MovementDeplete MovementType = "deplete" // batch remaining decreased for a trip
	MovementRelease MovementType = "release" // depletion reversed back into the batch
)

type Movement struct {
	ID        MovementID
	Product   Product
	BatchID   BatchID
	TripID    TripID
	Type      MovementType
	Delta     Litres // negative for deplete, positive for release
	Reason    string
	CreatedAt time.Time
}

// MovementFilter narrows a history query. Zero values match everything.
type MovementFilter struct {
	Product Product
	BatchID BatchID
	TripID  TripID
	Limit   int
}

// TripFilter narrows a trip listing.
type TripFilter struct {
	Product  Product
	Statuses []TripStatus
}

// Matches reports whether the trip passes the filter.
func (f TripFilter) Matches(t Trip) bool {
	if f.Product != "" && t.Product != f.Product {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}
