package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-ledger/stock"
	"github.com/warp/fuel-ledger/stock/store"
)

// lockOrderStore records the batch reads a ledger operation makes. On
// PostgreSQL each of them takes row locks.
type lockOrderStore struct {
	stock.Store
	reads []string
}

func (s *lockOrderStore) AvailableBatches(ctx context.Context, product stock.Product) ([]stock.Batch, error) {
	s.reads = append(s.reads, "product:"+string(product))
	return s.Store.AvailableBatches(ctx, product)
}

func (s *lockOrderStore) GetBatch(ctx context.Context, id stock.BatchID) (*stock.Batch, error) {
	s.reads = append(s.reads, "batch:"+string(id))
	return s.Store.GetBatch(ctx, id)
}

func TestLedger_Reverse_LocksBatchesOldestFirst(t *testing.T) {
	// GIVEN: A trip depleting B1 then B2
	// WHEN: The allocation is reversed
	// THEN: The product's batches are locked in FIFO order before B2 is released ahead of B1

	ctx := context.Background()
	s := &lockOrderStore{Store: store.NewMemory()}
	day := time.Date(2025, time.March, 1, 6, 0, 0, 0, time.UTC)
	for i, id := range []stock.BatchID{"B1", "B2"} {
		require.NoError(t, s.CreateBatch(ctx, stock.Batch{
			ID: id, Product: "AGO", QuantityTotal: L("100"), QuantityRemaining: L("100"),
			ReceivedAt: day.AddDate(0, 0, i), CreatedAt: day,
		}))
	}
	trip := stock.Trip{ID: "T1", Product: "AGO", Status: stock.TripKPCApproved}

	ledger := stock.NewLedger()
	plan, err := stock.Allocator{}.Plan(ctx, s, "AGO", L("150"))
	require.NoError(t, err)
	_, err = ledger.Apply(ctx, s, trip, plan, "approved")
	require.NoError(t, err)
	assert.Equal(t, []string{"product:AGO", "batch:B1", "batch:B2"}, s.reads)

	s.reads = nil
	released, err := ledger.Reverse(ctx, s, trip, "rejected")
	require.NoError(t, err)

	require.Len(t, released, 2)
	assert.Equal(t, stock.BatchID("B2"), released[0].BatchID)
	assert.Equal(t, []string{"product:AGO", "batch:B2", "batch:B1"}, s.reads)
}
