/*
trip.go - Trip state machine

STATES:
  PENDING → LOADING → KPC_APPROVED → LOADED → GATEPASSED → DELIVERED
  KPC_REJECTED and CANCELLED are reachable from every state before DELIVERED.

  Reverse edges let an operator step a trip back:
    LOADING → PENDING, KPC_APPROVED → LOADING, LOADED → KPC_APPROVED,
    GATEPASSED → LOADED, KPC_REJECTED → LOADING | KPC_APPROVED,
    CANCELLED → PENDING

ALLOCATION THRESHOLD:
  KPC_APPROVED and every later forward state hold depletions. Entering the
  threshold allocates, leaving it reverses.

LEDGER EFFECTS:
  ┌───────────────────────────────┬─────────────────────────────────────┐
  │ transition                    │ effect                              │
  ├───────────────────────────────┼─────────────────────────────────────┤
  │ unallocated → KPC_APPROVED    │ allocate nominal demand             │
  │ → LOADED with 3 actuals       │ reconcile against actual demand     │
  │ allocated → below threshold   │ reverse all depletions              │
  │ anything else                 │ none                                │
  └───────────────────────────────┴─────────────────────────────────────┘
*/
package stock

var transitions = map[TripStatus][]TripStatus{
	TripPending:     {TripLoading, TripKPCRejected, TripCancelled},
	TripLoading:     {TripKPCApproved, TripPending, TripKPCRejected, TripCancelled},
	TripKPCApproved: {TripLoaded, TripLoading, TripKPCRejected, TripCancelled},
	TripLoaded:      {TripGatepassed, TripKPCApproved, TripKPCRejected, TripCancelled},
	TripGatepassed:  {TripDelivered, TripLoaded, TripKPCRejected, TripCancelled},
	TripKPCRejected: {TripKPCApproved, TripLoading, TripCancelled},
	TripCancelled:   {TripPending},
	TripDelivered:   {},
}

// ValidStatus reports whether s is a known trip status.
func ValidStatus(s TripStatus) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to TripStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from s.
func NextStatuses(s TripStatus) []TripStatus {
	return append([]TripStatus(nil), transitions[s]...)
}

// IsAllocated reports whether trips in status s hold depletions.
func IsAllocated(s TripStatus) bool {
	switch s {
	case TripKPCApproved, TripLoaded, TripGatepassed, TripDelivered:
		return true
	}
	return false
}

// IsBooked reports whether trips in status s count as unconfirmed demand.
func IsBooked(s TripStatus) bool {
	return s == TripPending || s == TripLoading
}

// Effect is what a transition does to the ledger.
type Effect string

const (
	EffectNone      Effect = "none"
	EffectAllocate  Effect = "allocate"
	EffectReconcile Effect = "reconcile"
	EffectReverse   Effect = "reverse"
)

// EffectOf decides the ledger effect of moving trip t to status to.
// hasDepletions is whether the trip currently holds an allocation.
func EffectOf(t Trip, to TripStatus, hasDepletions bool) Effect {
	switch {
	case to == TripKPCApproved && !IsAllocated(t.Status):
		return EffectAllocate
	case to == TripLoaded && t.HasAllActuals():
		return EffectReconcile
	case !IsAllocated(to) && hasDepletions:
		return EffectReverse
	}
	return EffectNone
}

// requiresCompartments reports whether entering to (from from) needs a full
// compartment set.
func requiresCompartments(from, to TripStatus) bool {
	if to == TripKPCRejected || to == TripCancelled || to == TripPending {
		return false
	}
	return from == TripPending || to == TripLoaded || to == TripKPCApproved
}
