package stock

import (
	"fmt"
	"sort"
)

// CompartmentCount is fixed by the tanker design.
const CompartmentCount = 3

// CompartmentInput is one compartment as supplied by manual entry or a parsed document.
type CompartmentInput struct {
	Number    int
	Requested Litres
	Actual    *Litres
}

// BuildCompartments validates a partial or full compartment list and returns it
// ordered by number. A trip still in PENDING may carry fewer than three.
func BuildCompartments(inputs []CompartmentInput) ([]Compartment, error) {
	if len(inputs) > CompartmentCount {
		return nil, &CompartmentError{Reason: fmt.Sprintf("got %d compartments, want at most %d", len(inputs), CompartmentCount)}
	}
	seen := make(map[int]bool, len(inputs))
	out := make([]Compartment, 0, len(inputs))
	for _, in := range inputs {
		if in.Number < 1 || in.Number > CompartmentCount {
			return nil, &CompartmentError{Reason: fmt.Sprintf("compartment number %d outside 1..%d", in.Number, CompartmentCount)}
		}
		if seen[in.Number] {
			return nil, &CompartmentError{Reason: fmt.Sprintf("compartment %d listed twice", in.Number)}
		}
		seen[in.Number] = true
		// Quantities are stored at Precision, so positivity is judged after rounding.
		c := Compartment{Number: in.Number, Requested: in.Requested.Round()}
		if !c.Requested.IsPositive() {
			return nil, &CompartmentError{Reason: fmt.Sprintf("compartment %d requested %s must be positive", in.Number, c.Requested)}
		}
		if in.Actual != nil {
			a := in.Actual.Round()
			if !a.IsPositive() {
				return nil, &CompartmentError{Reason: fmt.Sprintf("compartment %d actual %s must be positive", in.Number, a)}
			}
			c.Actual = &a
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ValidateCompartments checks that the trip has exactly three valid compartments.
// It runs before any allocation attempt.
func ValidateCompartments(t Trip) error {
	if len(t.Compartments) != CompartmentCount {
		return &CompartmentError{TripID: t.ID, Reason: fmt.Sprintf("got %d compartments, want %d", len(t.Compartments), CompartmentCount)}
	}
	seen := make(map[int]bool, CompartmentCount)
	for _, c := range t.Compartments {
		if c.Number < 1 || c.Number > CompartmentCount || seen[c.Number] {
			return &CompartmentError{TripID: t.ID, Reason: fmt.Sprintf("bad compartment number %d", c.Number)}
		}
		seen[c.Number] = true
		if !c.Requested.IsPositive() {
			return &CompartmentError{TripID: t.ID, Reason: fmt.Sprintf("compartment %d requested %s must be positive", c.Number, c.Requested)}
		}
		if c.Actual != nil && !c.Actual.IsPositive() {
			return &CompartmentError{TripID: t.ID, Reason: fmt.Sprintf("compartment %d actual %s must be positive", c.Number, *c.Actual)}
		}
	}
	return nil
}

// ValidateActuals checks measured quantities, indexed by compartment number - 1,
// at the precision they will be stored with.
func ValidateActuals(id TripID, actuals [CompartmentCount]Litres) error {
	for i, a := range actuals {
		if a = a.Round(); !a.IsPositive() {
			return &CompartmentError{TripID: id, Reason: fmt.Sprintf("compartment %d actual %s must be positive", i+1, a)}
		}
	}
	return nil
}

// applyActuals sets measured quantities on an already validated trip.
func applyActuals(t *Trip, actuals [CompartmentCount]Litres) {
	for i := range t.Compartments {
		n := t.Compartments[i].Number
		a := actuals[n-1].Round()
		t.Compartments[i].Actual = &a
	}
}
