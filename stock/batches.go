package stock

import (
	"context"
	"fmt"
	"sort"
)

// BatchBook enforces the batch contract on top of a BatchStore:
// remaining never goes below zero or above total.
type BatchBook struct {
	Store BatchStore
}

// ListAvailable returns the product's batches in FIFO order.
func (bb BatchBook) ListAvailable(ctx context.Context, product Product) ([]Batch, error) {
	batches, err := bb.Store.AvailableBatches(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("failed to list available batches: %w", err)
	}
	available := batches[:0]
	for _, b := range batches {
		if b.Product == product && b.IsAvailable() {
			available = append(available, b)
		}
	}
	SortFIFO(available)
	return available, nil
}

// Reserve decrements the batch's remaining quantity by amount.
func (bb BatchBook) Reserve(ctx context.Context, id BatchID, amount Litres) (*Batch, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("reserve %s from batch %s: %w", amount, id, ErrInvalidQuantity)
	}
	b, err := bb.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(b.QuantityRemaining) {
		return nil, &InsufficientStockError{BatchID: id, Requested: amount, Remaining: b.QuantityRemaining}
	}
	b.QuantityRemaining = b.QuantityRemaining.Sub(amount)
	if err := bb.Store.UpdateBatchRemaining(ctx, id, b.QuantityRemaining); err != nil {
		return nil, fmt.Errorf("failed to update batch %s: %w", id, err)
	}
	return b, nil
}

// Release increments the batch's remaining quantity by amount.
func (bb BatchBook) Release(ctx context.Context, id BatchID, amount Litres) (*Batch, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("release %s to batch %s: %w", amount, id, ErrInvalidQuantity)
	}
	b, err := bb.Store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	next := b.QuantityRemaining.Add(amount)
	if next.GreaterThan(b.QuantityTotal) {
		return nil, &OverReleaseError{BatchID: id, Released: amount, Remaining: b.QuantityRemaining, Total: b.QuantityTotal}
	}
	b.QuantityRemaining = next
	if err := bb.Store.UpdateBatchRemaining(ctx, id, b.QuantityRemaining); err != nil {
		return nil, fmt.Errorf("failed to update batch %s: %w", id, err)
	}
	return b, nil
}

// SortFIFO orders batches oldest first, ties broken by ascending ID.
func SortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

// ValidateBatch checks a new batch before it is stored.
func ValidateBatch(b Batch) error {
	if b.Product == "" {
		return fmt.Errorf("batch %s: %w", b.ID, ErrInvalidProduct)
	}
	if !b.QuantityTotal.IsPositive() {
		return fmt.Errorf("batch %s total %s: %w", b.ID, b.QuantityTotal, ErrInvalidQuantity)
	}
	if b.QuantityRemaining.IsNegative() || b.QuantityRemaining.GreaterThan(b.QuantityTotal) {
		return fmt.Errorf("batch %s remaining %s outside [0, %s]: %w", b.ID, b.QuantityRemaining, b.QuantityTotal, ErrInvalidQuantity)
	}
	if b.ReceivedAt.IsZero() {
		return fmt.Errorf("batch %s: received date is required", b.ID)
	}
	if b.UnitCost.IsNegative() {
		return fmt.Errorf("batch %s unit cost %s: %w", b.ID, b.UnitCost, ErrInvalidQuantity)
	}
	return nil
}
