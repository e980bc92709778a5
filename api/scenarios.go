/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	depot data. Every step goes through stock.Engine, so a loaded scenario
	satisfies the same invariants as production data.

AVAILABLE SCENARIOS:

	fifo-basics: three AGO batches and one PMS batch; an approved trip spanning
	             two batches, a delivered trip, a booked trip, an incomplete
	             PENDING trip
	variance:    a loading report that exceeds the requested quantities and
	             re-plans the allocation; net available goes negative

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "variance"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/fuel-ledger/fuel"
	"github.com/warp/fuel-ledger/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fifo-basics",
		Name:        "FIFO Basics",
		Description: "Approvals draw from the oldest AGO batch first and spill into the next",
	},
	{
		ID:          "variance",
		Name:        "Loading Variance",
		Description: "Measured L20 quantities exceed the order and the allocation is re-planned",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context, base time.Time) error{
	"fifo-basics": (*Handler).loadFIFOBasicsScenario,
	"variance":    (*Handler).loadVarianceScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(h, ctx, time.Now().UTC().Truncate(time.Hour)); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFIFOBasicsScenario(ctx context.Context, base time.Time) error {
	batches := []stock.NewBatch{
		{ID: "AGO-001", Product: fuel.AGO, Quantity: stock.MustLitres("10000"), ReceivedAt: base.AddDate(0, 0, -3), Supplier: "Vivo Energy", Reference: "MV Ocean Star"},
		{ID: "AGO-002", Product: fuel.AGO, Quantity: stock.MustLitres("8000"), ReceivedAt: base.AddDate(0, 0, -2), Supplier: "Vivo Energy", Reference: "MV Ocean Star"},
		{ID: "AGO-003", Product: fuel.AGO, Quantity: stock.MustLitres("12000"), ReceivedAt: base.AddDate(0, 0, -1), Supplier: "Gulf Energy", Reference: "MV Tana"},
		{ID: "PMS-001", Product: fuel.PMS, Quantity: stock.MustLitres("15000"), ReceivedAt: base.AddDate(0, 0, -2), Supplier: "Gulf Energy", Reference: "MV Tana"},
	}
	if err := h.receiveBatches(ctx, batches); err != nil {
		return err
	}

	// 12000 L: all of AGO-001 and 2000 L of AGO-002.
	if err := h.scenarioTrip(ctx, "T-1001", fuel.AGO, "KCA 101A", [3]string{"4000", "4000", "4000"}, stock.TripKPCApproved); err != nil {
		return err
	}

	// 6000 L: the rest of AGO-002, loaded exactly as ordered and delivered.
	if err := h.scenarioTrip(ctx, "T-1002", fuel.AGO, "KCB 202B", [3]string{"2000", "2000", "2000"}, stock.TripKPCApproved); err != nil {
		return err
	}
	if _, err := h.Engine.ReconcileTrip(ctx, "T-1002", litres3("2000", "2000", "2000"), "BOL-1002"); err != nil {
		return err
	}
	for _, to := range []stock.TripStatus{stock.TripLoaded, stock.TripGatepassed, stock.TripDelivered} {
		if _, err := h.Engine.Transition(ctx, "T-1002", to); err != nil {
			return err
		}
	}

	// Booked, not yet allocated.
	if err := h.scenarioTrip(ctx, "T-1003", fuel.AGO, "KCC 303C", [3]string{"3000", "3000", "3000"}, stock.TripLoading); err != nil {
		return err
	}

	// PENDING with only two compartments entered so far.
	_, err := h.Engine.CreateTrip(ctx, stock.NewTrip{
		ID:       "T-1004",
		Product:  fuel.PMS,
		Vehicle:  "KCD 404D",
		Customer: "Lakeside Service Station",
		Compartments: []stock.CompartmentInput{
			{Number: 1, Requested: stock.MustLitres("5000")},
			{Number: 2, Requested: stock.MustLitres("5000")},
		},
	})
	return err
}

func (h *Handler) loadVarianceScenario(ctx context.Context, base time.Time) error {
	batches := []stock.NewBatch{
		{ID: "AGO-101", Product: fuel.AGO, Quantity: stock.MustLitres("12000"), ReceivedAt: base.AddDate(0, 0, -5), Supplier: "Vivo Energy"},
		{ID: "AGO-102", Product: fuel.AGO, Quantity: stock.MustLitres("8000"), ReceivedAt: base.AddDate(0, 0, -4), Supplier: "Vivo Energy"},
	}
	if err := h.receiveBatches(ctx, batches); err != nil {
		return err
	}

	// Approved at 15000 L, measured at 15011.75 L: reconciled upward.
	if err := h.scenarioTrip(ctx, "T-2001", fuel.AGO, "KDA 111A", [3]string{"5000", "5000", "5000"}, stock.TripKPCApproved); err != nil {
		return err
	}
	if _, err := h.Engine.ReconcileTrip(ctx, "T-2001", litres3("5010.25", "4998", "5003.50"), "BOL-2001"); err != nil {
		return err
	}
	if _, err := h.Engine.Transition(ctx, "T-2001", stock.TripLoaded); err != nil {
		return err
	}

	// 4500 L approved; 488.25 L physical stock remains.
	if err := h.scenarioTrip(ctx, "T-2002", fuel.AGO, "KDB 222B", [3]string{"1500", "1500", "1500"}, stock.TripKPCApproved); err != nil {
		return err
	}

	// Booked beyond physical stock: net available is negative until a
	// new batch arrives.
	return h.scenarioTrip(ctx, "T-2003", fuel.AGO, "KDC 333C", [3]string{"1000", "1000", "1000"}, stock.TripLoading)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) receiveBatches(ctx context.Context, batches []stock.NewBatch) error {
	for _, b := range batches {
		if _, err := h.Engine.ReceiveBatch(ctx, b); err != nil {
			return fmt.Errorf("batch %s: %w", b.ID, err)
		}
	}
	return nil
}

// scenarioTrip creates a three-compartment trip and walks it forward to status.
func (h *Handler) scenarioTrip(ctx context.Context, id stock.TripID, product stock.Product, vehicle string, q [3]string, status stock.TripStatus) error {
	_, err := h.Engine.CreateTrip(ctx, stock.NewTrip{
		ID:      id,
		Product: product,
		Vehicle: vehicle,
		Compartments: []stock.CompartmentInput{
			{Number: 1, Requested: stock.MustLitres(q[0])},
			{Number: 2, Requested: stock.MustLitres(q[1])},
			{Number: 3, Requested: stock.MustLitres(q[2])},
		},
	})
	if err != nil {
		return fmt.Errorf("trip %s: %w", id, err)
	}
	for _, to := range []stock.TripStatus{stock.TripLoading, stock.TripKPCApproved} {
		if _, err := h.Engine.Transition(ctx, id, to); err != nil {
			return fmt.Errorf("trip %s: %w", id, err)
		}
		if to == status {
			break
		}
	}
	return nil
}

func litres3(a, b, c string) [stock.CompartmentCount]stock.Litres {
	return [stock.CompartmentCount]stock.Litres{stock.MustLitres(a), stock.MustLitres(b), stock.MustLitres(c)}
}
