package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/warp/fuel-ledger/fuel"
)

func TestScenarios_LoadAll(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list scenarios: status %d", rec.Code)
	}
	listed := decodeBody[[]ScenarioDTO](t, rec)
	if len(listed) != len(scenarioLoaders) {
		t.Fatalf("listed %d scenarios, %d loaders", len(listed), len(scenarioLoaders))
	}

	for _, sc := range listed {
		t.Run(sc.ID, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})
			if rec.Code != http.StatusOK {
				t.Fatalf("load %s: status %d: %s", sc.ID, rec.Code, rec.Body.String())
			}

			rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
			if got := decodeBody[ScenarioDTO](t, rec); got.ID != sc.ID {
				t.Errorf("current scenario = %q, want %q", got.ID, sc.ID)
			}

			for _, r := range s.auditor.RunNow(context.Background()) {
				if !r.OK() {
					t.Errorf("%s: %d violations: %+v", r.Product, len(r.Violations), r.Violations)
				}
			}
		})
	}
}

func TestScenarios_FIFOBasicsSummary(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "fifo-basics"}); rec.Code != http.StatusOK {
		t.Fatalf("load: status %d: %s", rec.Code, rec.Body.String())
	}

	sum := decodeBody[StockSummaryDTO](t, s.do(t, http.MethodGet, "/api/products/AGO/summary", nil))
	if sum.Physical != "12000.00" || sum.Booked != "9000.00" || sum.NetAvailable != "3000.00" {
		t.Errorf("AGO summary = %+v", sum)
	}

	deps := decodeBody[[]DepletionDTO](t, s.do(t, http.MethodGet, "/api/trips/T-1001/depletions", nil))
	if len(deps) != 2 || deps[0].BatchID != "AGO-001" || deps[1].BatchID != "AGO-002" || deps[1].Quantity != "2000.00" {
		t.Errorf("T-1001 depletions = %+v", deps)
	}

	trip := decodeBody[TripDTO](t, s.do(t, http.MethodGet, "/api/trips/T-1002", nil))
	if trip.Status != "DELIVERED" || trip.BOLNumber != "BOL-1002" {
		t.Errorf("T-1002 = %s %q", trip.Status, trip.BOLNumber)
	}

	pms := decodeBody[StockSummaryDTO](t, s.do(t, http.MethodGet, "/api/products/"+string(fuel.PMS)+"/summary", nil))
	if pms.Physical != "15000.00" || pms.Booked != "10000.00" {
		t.Errorf("PMS summary = %+v", pms)
	}
}

func TestScenarios_VarianceGoesNegative(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "variance"}); rec.Code != http.StatusOK {
		t.Fatalf("load: status %d: %s", rec.Code, rec.Body.String())
	}

	sum := decodeBody[StockSummaryDTO](t, s.do(t, http.MethodGet, "/api/products/AGO/summary", nil))
	if sum.Physical != "488.25" || sum.Booked != "3000.00" || sum.NetAvailable != "-2511.75" {
		t.Errorf("AGO summary = %+v", sum)
	}

	trip := decodeBody[TripDTO](t, s.do(t, http.MethodGet, "/api/trips/T-2001", nil))
	if trip.ConfirmedDemand != "15011.75" {
		t.Errorf("T-2001 confirmed demand = %s", trip.ConfirmedDemand)
	}

	// The booked trip cannot be approved until stock arrives.
	rec := s.do(t, http.MethodPost, "/api/trips/T-2003/approve", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("approve T-2003: status %d, want 422", rec.Code)
	}
}

func TestScenarios_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown scenario: status %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "fifo-basics"})
	if rec := s.do(t, http.MethodPost, "/api/scenarios/reset", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d", rec.Code)
	}
	batches := decodeBody[[]BatchDTO](t, s.do(t, http.MethodGet, "/api/batches", nil))
	if len(batches) != 0 {
		t.Errorf("after reset: %d batches", len(batches))
	}
}
