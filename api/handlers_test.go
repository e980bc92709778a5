package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-ledger/metrics"
	"github.com/warp/fuel-ledger/stock"
	"github.com/warp/fuel-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  *chi.Mux
	handler *Handler
	metrics *metrics.Metrics
	auditor *ConsistencyAuditor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	engine := stock.NewEngine(store, stock.Options{Recorder: m})
	h := NewHandler(engine, store, zerolog.Nop())
	auditor := NewConsistencyAuditor(engine, m, zerolog.Nop())
	router := NewRouter(h, RouterOptions{Metrics: m, Auditor: auditor, EnableScenarios: true})
	return &testServer{router: router, handler: h, metrics: m, auditor: auditor}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) receive(t *testing.T, id, product, day, litres string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/batches", map[string]any{
		"id":          id,
		"product":     product,
		"quantity":    litres,
		"received_at": "2025-03-" + day + "T06:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) loadingTrip(t *testing.T, id, product string, q ...string) {
	t.Helper()
	comps := make([]map[string]any, len(q))
	for i, v := range q {
		comps[i] = map[string]any{"number": i + 1, "requested": v}
	}
	rec := s.do(t, http.MethodPost, "/api/trips", map[string]any{"id": id, "product": product, "compartments": comps})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/trips/"+id+"/status", TransitionRequest{Status: "loading"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_TripLifecycle(t *testing.T) {
	// GIVEN: Two diesel batches received over HTTP
	// WHEN: A trip is approved, reconciled and rejected through the API
	// THEN: Every response reflects the ledger and the audit stays clean

	s := newTestServer(t)
	s.receive(t, "B1", "diesel", "01", "100")
	s.receive(t, "B2", "AGO", "02", "100")
	s.loadingTrip(t, "T1", "AGO", "50", "50", "50")

	rec := s.do(t, http.MethodGet, "/api/products/ago/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody[StockSummaryDTO](t, rec)
	assert.Equal(t, "200.00", sum.Physical)
	assert.Equal(t, "150.00", sum.Booked)
	assert.Equal(t, "50.00", sum.NetAvailable)

	rec = s.do(t, http.MethodPost, "/api/trips/T1/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[TransitionResultDTO](t, rec)
	assert.Equal(t, "KPC_APPROVED", res.Trip.Status)
	assert.Equal(t, "LOADING", res.From)
	assert.Equal(t, "allocate", res.Effect)
	require.Len(t, res.Depletions, 2)
	assert.Equal(t, "B1", res.Depletions[0].BatchID)
	assert.Equal(t, "100.00", res.Depletions[0].Quantity)
	assert.Equal(t, "50.00", res.Depletions[1].Quantity)

	rec = s.do(t, http.MethodPost, "/api/trips/T1/actuals", map[string]any{
		"actuals":    []any{"60", 50, "50.00"},
		"bol_number": "BOL-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[IntakeResultDTO](t, rec)
	assert.Equal(t, "BOL-1", rep.Trip.BOLNumber)
	assert.Equal(t, "160.00", rep.Trip.ConfirmedDemand)
	require.Len(t, rep.Depletions, 2)
	assert.Equal(t, "60.00", rep.Depletions[1].Quantity)

	rec = s.do(t, http.MethodGet, "/api/batches/B2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40.00", decodeBody[BatchDTO](t, rec).QuantityRemaining)

	rec = s.do(t, http.MethodPost, "/api/trips/T1/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decodeBody[TransitionResultDTO](t, rec)
	assert.Equal(t, "reverse", res.Effect)
	assert.Len(t, res.Released, 2)
	assert.Empty(t, res.Depletions)

	rec = s.do(t, http.MethodGet, "/api/trips/T1/depletions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]DepletionDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/movements?trip_id=T1&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	moves := decodeBody[[]MovementDTO](t, rec)
	require.Len(t, moves, 3)
	assert.Equal(t, "release", moves[0].Type)

	rec = s.do(t, http.MethodGet, "/api/admin/consistency/AGO", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[ConsistencyReportDTO](t, rec)
	assert.True(t, report.OK, "%v", report.Violations)
	assert.Equal(t, 2, report.Batches)
}

func TestAPI_ListTrips_Filters(t *testing.T) {
	s := newTestServer(t)
	s.receive(t, "B1", "AGO", "01", "1000")
	s.loadingTrip(t, "T1", "AGO", "10", "10", "10")
	s.loadingTrip(t, "T2", "PMS", "10", "10", "10")
	rec := s.do(t, http.MethodPost, "/api/trips/T1/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/trips?status=kpc_approved,loading&product=AGO", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trips := decodeBody[[]TripDTO](t, rec)
	require.Len(t, trips, 1)
	assert.Equal(t, "T1", trips[0].ID)
	assert.Contains(t, trips[0].NextStatuses, "LOADED")

	rec = s.do(t, http.MethodGet, "/api/trips?status=parked", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	s.receive(t, "B1", "AGO", "01", "100")
	s.loadingTrip(t, "BIG", "AGO", "50", "50", "50")

	// Insufficient stock carries the shortfall.
	rec := s.do(t, http.MethodPost, "/api/trips/BIG/approve", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", errResp.Code)
	details, ok := errResp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "50.00", details["shortfall"])

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
		code   string
	}{
		{"unknown trip", http.MethodGet, "/api/trips/NOPE", nil, http.StatusNotFound, ""},
		{"approve unknown trip", http.MethodPost, "/api/trips/NOPE/approve", nil, http.StatusNotFound, "not_found"},
		{"duplicate batch", http.MethodPost, "/api/batches", map[string]any{"id": "B1", "product": "AGO", "quantity": 5}, http.StatusConflict, "already_exists"},
		{"unknown product", http.MethodPost, "/api/batches", map[string]any{"product": "LPG", "quantity": 5}, http.StatusBadRequest, "invalid_input"},
		{"zero quantity", http.MethodPost, "/api/batches", map[string]any{"product": "AGO", "quantity": 0}, http.StatusBadRequest, "invalid_input"},
		{"skip to loaded", http.MethodPost, "/api/trips/BIG/status", TransitionRequest{Status: "LOADED"}, http.StatusConflict, "invalid_transition"},
		{"two actuals", http.MethodPost, "/api/trips/BIG/actuals", map[string]any{"actuals": []int{1, 2}}, http.StatusBadRequest, ""},
		{"malformed body", http.MethodPost, "/api/trips", `{"product":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestAPI_IncompleteCompartmentsAndLockedTrip(t *testing.T) {
	s := newTestServer(t)
	s.receive(t, "B1", "AGO", "01", "1000")

	rec := s.do(t, http.MethodPost, "/api/trips", map[string]any{
		"id": "T1", "product": "AGO",
		"compartments": []map[string]any{{"number": 1, "requested": 10}, {"number": 2, "requested": 10}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/trips/T1/status", TransitionRequest{Status: "LOADING"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/api/trips/T1/compartments", UpdateCompartmentsRequest{Compartments: []CompartmentRequest{
		{Number: 1, Requested: stock.MustLitres("10").Value},
		{Number: 2, Requested: stock.MustLitres("10").Value},
		{Number: 3, Requested: stock.MustLitres("10").Value},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, to := range []string{"LOADING", "KPC_APPROVED", "LOADED"} {
		rec = s.do(t, http.MethodPost, "/api/trips/T1/status", TransitionRequest{Status: to})
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", to, rec.Body.String())
	}

	rec = s.do(t, http.MethodPut, "/api/trips/T1/compartments", UpdateCompartmentsRequest{Compartments: []CompartmentRequest{
		{Number: 1, Requested: stock.MustLitres("20").Value},
		{Number: 2, Requested: stock.MustLitres("10").Value},
		{Number: 3, Requested: stock.MustLitres("10").Value},
	}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "trip_locked", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodDelete, "/api/batches/B1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "batch_in_use", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWriteEngineError_RetryAfter(t *testing.T) {
	h := NewHandler(nil, nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	h.writeEngineError(rec, "Busy", fmt.Errorf("approve: %w", stock.ErrConcurrentModification))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "concurrent_modification", decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// INTAKE, HEALTH, METRICS
// =============================================================================

func TestAPI_IntakeDocuments(t *testing.T) {
	s := newTestServer(t)
	s.receive(t, "B1", "AGO", "01", "20000")

	order := `{"kind":"loading_order","trip_id":"T-9","product":"gas oil","source":"ocr",
		"compartments":[{"number":1,"requested":"5000"},{"number":2,"requested":"5000"},{"number":3,"requested":"5000"}]}`
	rec := s.do(t, http.MethodPost, "/api/intake/documents", order)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[IntakeResultDTO](t, rec)
	assert.Equal(t, "AGO", res.Trip.Product)
	assert.Equal(t, "PENDING", res.Trip.Status)

	rec = s.do(t, http.MethodPost, "/api/intake/documents", `{"kind":"loading_order","product":"AGO","compartments":[{"number":1,"requested":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/intake/documents", `{"kind":"bill"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_document", decodeBody[ErrorResponse](t, rec).Code)

	report := `{"kind":"loading_report","trip_id":"T-9","bol_number":"BOL-9",
		"compartments":[{"number":1,"actual":5001},{"number":2,"actual":5000},{"number":3,"actual":5000}]}`
	rec = s.do(t, http.MethodPost, "/api/intake/documents", report)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decodeBody[IntakeResultDTO](t, rec)
	assert.Equal(t, "15001.00", res.Trip.ConfirmedDemand)
	assert.Empty(t, res.Depletions, "PENDING trip only records actuals")
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, http.MethodGet, "/api/trips/T404", nil)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/trips/{id}",status="404"`)
}

func TestRouter_CORSOrigins(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := NewHandler(stock.NewEngine(store, stock.Options{}), store, zerolog.Nop())

	get := func(router http.Handler, origin string) string {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Header().Get("Access-Control-Allow-Origin")
	}

	def := NewRouter(h, RouterOptions{})
	assert.Equal(t, "http://localhost:5173", get(def, "http://localhost:5173"))
	assert.Empty(t, get(def, "https://depot.example.com"))

	open := NewRouter(h, RouterOptions{AllowedOrigins: []string{"*"}})
	assert.NotEmpty(t, get(open, "https://depot.example.com"))
}
