// Package store provides in-process stock.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/fuel-ledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st state
}

type state struct {
	batches    map[stock.BatchID]stock.Batch
	trips      map[stock.TripID]stock.Trip
	depletions map[stock.TripID][]stock.Depletion
	movements  []stock.Movement
}

func newState() state {
	return state{
		batches:    make(map[stock.BatchID]stock.Batch),
		trips:      make(map[stock.TripID]stock.Trip),
		depletions: make(map[stock.TripID][]stock.Depletion),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) CreateBatch(ctx context.Context, b stock.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateBatch(ctx, b)
}

func (m *Memory) GetBatch(ctx context.Context, id stock.BatchID) (*stock.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBatch(ctx, id)
}

func (m *Memory) ListBatches(ctx context.Context, product stock.Product) ([]stock.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBatches(ctx, product)
}

func (m *Memory) AvailableBatches(ctx context.Context, product stock.Product) ([]stock.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.AvailableBatches(ctx, product)
}

func (m *Memory) UpdateBatchRemaining(ctx context.Context, id stock.BatchID, remaining stock.Litres) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateBatchRemaining(ctx, id, remaining)
}

func (m *Memory) DeleteBatch(ctx context.Context, id stock.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteBatch(ctx, id)
}

func (m *Memory) SaveTrip(ctx context.Context, t stock.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveTrip(ctx, t)
}

func (m *Memory) GetTrip(ctx context.Context, id stock.TripID) (*stock.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetTrip(ctx, id)
}

func (m *Memory) GetTripForUpdate(ctx context.Context, id stock.TripID) (*stock.Trip, error) {
	return m.GetTrip(ctx, id)
}

func (m *Memory) ListTrips(ctx context.Context, filter stock.TripFilter) ([]stock.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTrips(ctx, filter)
}

func (m *Memory) InsertDepletions(ctx context.Context, deps []stock.Depletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertDepletions(ctx, deps)
}

func (m *Memory) TripDepletions(ctx context.Context, id stock.TripID) ([]stock.Depletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TripDepletions(ctx, id)
}

func (m *Memory) ProductDepletions(ctx context.Context, product stock.Product) ([]stock.Depletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ProductDepletions(ctx, product)
}

func (m *Memory) DeleteTripDepletions(ctx context.Context, id stock.TripID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteTripDepletions(ctx, id)
}

func (m *Memory) AppendMovements(ctx context.Context, ms []stock.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendMovements(ctx, ms)
}

func (m *Memory) Movements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Movements(ctx, filter)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()
	if err := fn(&tm.st); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

// clone deep-copies the state. Batches and depletions are value types;
// trips carry compartment slices and are cloned.
func (s *state) clone() state {
	c := newState()
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.trips {
		c.trips[k] = v.Clone()
	}
	for k, v := range s.depletions {
		c.depletions[k] = append([]stock.Depletion(nil), v...)
	}
	c.movements = append([]stock.Movement(nil), s.movements...)
	return c
}

// =============================================================================
// STATE - unlocked operations, shared by Memory and the transaction view
// =============================================================================

func (s *state) CreateBatch(_ context.Context, b stock.Batch) error {
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("batch %s: %w", b.ID, stock.ErrAlreadyExists)
	}
	s.batches[b.ID] = b
	return nil
}

func (s *state) GetBatch(_ context.Context, id stock.BatchID) (*stock.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, stock.ErrBatchNotFound)
	}
	return &b, nil
}

func (s *state) ListBatches(_ context.Context, product stock.Product) ([]stock.Batch, error) {
	var out []stock.Batch
	for _, b := range s.batches {
		if product == "" || b.Product == product {
			out = append(out, b)
		}
	}
	stock.SortFIFO(out)
	return out, nil
}

func (s *state) AvailableBatches(ctx context.Context, product stock.Product) ([]stock.Batch, error) {
	all, _ := s.ListBatches(ctx, product)
	out := all[:0]
	for _, b := range all {
		if b.IsAvailable() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *state) UpdateBatchRemaining(_ context.Context, id stock.BatchID, remaining stock.Litres) error {
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, stock.ErrBatchNotFound)
	}
	b.QuantityRemaining = remaining
	s.batches[id] = b
	return nil
}

func (s *state) DeleteBatch(_ context.Context, id stock.BatchID) error {
	if _, ok := s.batches[id]; !ok {
		return fmt.Errorf("batch %s: %w", id, stock.ErrBatchNotFound)
	}
	delete(s.batches, id)
	return nil
}

func (s *state) SaveTrip(_ context.Context, t stock.Trip) error {
	s.trips[t.ID] = t.Clone()
	return nil
}

func (s *state) GetTrip(_ context.Context, id stock.TripID) (*stock.Trip, error) {
	t, ok := s.trips[id]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", id, stock.ErrTripNotFound)
	}
	c := t.Clone()
	return &c, nil
}

func (s *state) GetTripForUpdate(ctx context.Context, id stock.TripID) (*stock.Trip, error) {
	return s.GetTrip(ctx, id)
}

func (s *state) ListTrips(_ context.Context, filter stock.TripFilter) ([]stock.Trip, error) {
	var out []stock.Trip
	for _, t := range s.trips {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) InsertDepletions(_ context.Context, deps []stock.Depletion) error {
	for _, d := range deps {
		s.depletions[d.TripID] = append(s.depletions[d.TripID], d)
	}
	return nil
}

func (s *state) TripDepletions(_ context.Context, id stock.TripID) ([]stock.Depletion, error) {
	out := append([]stock.Depletion(nil), s.depletions[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *state) ProductDepletions(_ context.Context, product stock.Product) ([]stock.Depletion, error) {
	var out []stock.Depletion
	for _, deps := range s.depletions {
		for _, d := range deps {
			if d.Product == product {
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TripID != out[j].TripID {
			return out[i].TripID < out[j].TripID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *state) DeleteTripDepletions(_ context.Context, id stock.TripID) error {
	delete(s.depletions, id)
	return nil
}

func (s *state) AppendMovements(_ context.Context, ms []stock.Movement) error {
	s.movements = append(s.movements, ms...)
	return nil
}

// Movements returns matching history, newest first.
func (s *state) Movements(_ context.Context, f stock.MovementFilter) ([]stock.Movement, error) {
	var out []stock.Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		mv := s.movements[i]
		if f.Product != "" && mv.Product != f.Product {
			continue
		}
		if f.BatchID != "" && mv.BatchID != f.BatchID {
			continue
		}
		if f.TripID != "" && mv.TripID != f.TripID {
			continue
		}
		out = append(out, mv)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ stock.TxStore = (*TxMemory)(nil)
	_ stock.Store   = (*state)(nil)
)
