/*
errors.go - Centralized error types for the stock engine

ERROR CATEGORIES:
  1. Business errors - recoverable, reported to the caller, ledger untouched
     (insufficient aggregate stock, invalid compartments, invalid transition)
  2. Consistency violations - the batch store was asked to go negative or
     over its total. These indicate a bug and are logged at error level.
  3. Contention - the product lock could not be acquired in time. The caller
     retries with backoff; the core never retries on its own.

USAGE:
  if errors.Is(err, stock.ErrInsufficientAggregateStock) {
      var short *stock.InsufficientAggregateStockError
      errors.As(err, &short)
      fmt.Println(short.Shortfall)
  }
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientAggregateStock is returned when a product's available
	// batches cannot cover a requirement. No partial plan is produced.
	ErrInsufficientAggregateStock = errors.New("insufficient aggregate stock")

	// ErrInsufficientStock is returned when a reserve exceeds a batch's remaining.
	ErrInsufficientStock = errors.New("insufficient stock in batch")

	// ErrOverRelease is returned when a release would push remaining above total.
	ErrOverRelease = errors.New("release exceeds batch total")

	// ErrInvalidCompartmentSet is returned when a trip does not have exactly
	// three compartments numbered 1..3 with positive quantities.
	ErrInvalidCompartmentSet = errors.New("invalid compartment set")

	// ErrConcurrentModification is returned when the product lock times out.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTripNotFound      = errors.New("trip not found")
	ErrBatchNotFound     = errors.New("batch not found")

	// ErrBatchInUse is returned when deleting a batch that has been drawn from.
	ErrBatchInUse = errors.New("batch has depletions")

	// ErrTripLocked is returned when compartments are edited after loading.
	ErrTripLocked = errors.New("trip compartments are locked")

	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("invalid product")

	// ErrAlreadyExists is returned when a batch or trip ID is reused.
	ErrAlreadyExists = errors.New("already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientAggregateStockError details a shortfall across all batches.
type InsufficientAggregateStockError struct {
	Product   Product
	Required  Litres
	Available Litres
	Shortfall Litres
}

func (e *InsufficientAggregateStockError) Error() string {
	return fmt.Sprintf("insufficient aggregate stock for %s: required %s, available %s, shortfall %s",
		e.Product, e.Required, e.Available, e.Shortfall)
}

func (e *InsufficientAggregateStockError) Unwrap() error { return ErrInsufficientAggregateStock }

// InsufficientStockError details a reserve against a single batch.
type InsufficientStockError struct {
	BatchID   BatchID
	Requested Litres
	Remaining Litres
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("batch %s: reserve %s exceeds remaining %s", e.BatchID, e.Requested, e.Remaining)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// OverReleaseError details a release that would exceed the batch total.
type OverReleaseError struct {
	BatchID   BatchID
	Released  Litres
	Remaining Litres
	Total     Litres
}

func (e *OverReleaseError) Error() string {
	return fmt.Sprintf("batch %s: release %s on remaining %s exceeds total %s",
		e.BatchID, e.Released, e.Remaining, e.Total)
}

func (e *OverReleaseError) Unwrap() error { return ErrOverRelease }

// CompartmentError explains why a compartment set was rejected.
type CompartmentError struct {
	TripID TripID
	Reason string
}

func (e *CompartmentError) Error() string {
	if e.TripID == "" {
		return "invalid compartment set: " + e.Reason
	}
	return fmt.Sprintf("trip %s: invalid compartment set: %s", e.TripID, e.Reason)
}

func (e *CompartmentError) Unwrap() error { return ErrInvalidCompartmentSet }

// InvalidTransitionError names the rejected edge.
type InvalidTransitionError struct {
	TripID TripID
	From   TripStatus
	To     TripStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("trip %s: cannot move from %s to %s", e.TripID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business or validation failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientAggregateStock) ||
		errors.Is(err, ErrInvalidCompartmentSet) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBatchInUse) ||
		errors.Is(err, ErrTripLocked) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidProduct) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTripNotFound) || errors.Is(err, ErrBatchNotFound)
}

// IsConsistencyViolation returns true for batch store invariant breaches.
func IsConsistencyViolation(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrOverRelease)
}
