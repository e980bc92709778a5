/*
handlers.go - HTTP API handlers for the fuel ledger

PURPOSE:
  Exposes the stock engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every ledger change to stock.Engine.
  Handlers never touch batches or depletions directly.

ENDPOINTS:
  Products:
    GET    /api/products                       Fuel catalogue
    GET    /api/products/{product}/summary     Physical, booked, net available

  Batches:
    GET    /api/batches?product=               List batches
    POST   /api/batches                        Receive a batch
    GET    /api/batches/{id}                   Batch details
    DELETE /api/batches/{id}                   Delete an untouched batch

  Trips:
    GET    /api/trips?product=&status=         List trips
    POST   /api/trips                          Create a PENDING trip
    GET    /api/trips/{id}                     Trip details
    PUT    /api/trips/{id}/compartments        Replace compartments
    POST   /api/trips/{id}/status              Generic transition
    POST   /api/trips/{id}/approve             KPC approval (allocates)
    POST   /api/trips/{id}/reject              KPC rejection (releases)
    POST   /api/trips/{id}/cancel              Cancellation (releases)
    POST   /api/trips/{id}/actuals             Measured quantities + BOL
    GET    /api/trips/{id}/depletions          Current allocation

  History and audit:
    GET    /api/movements?product=&batch_id=&trip_id=&limit=
    GET    /api/admin/consistency/{product}    Run a consistency check

  Intake:
    POST   /api/intake/documents               Apply a parsed loading document

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors (compartments, quantities, products, documents)
  - 404: Trip or batch not found
  - 409: Conflict (duplicate ID, invalid transition, batch in use, trip locked)
  - 422: Insufficient aggregate stock, with the shortfall in details
  - 503: Product lock timeout, with Retry-After
  - 500: Consistency violations and internal errors

SECURITY NOTE:
  No authentication or authorization. The service runs behind a gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/fuel-ledger/fuel"
	"github.com/warp/fuel-ledger/intake"
	"github.com/warp/fuel-ledger/stock"
)

// maxDocumentBytes bounds intake payloads.
const maxDocumentBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the part of a persistent store the API uses beyond the engine.
type Store interface {
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *stock.Engine
	Store  Store
	log    zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around an engine and its store.
func NewHandler(engine *stock.Engine, store Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Store:  store,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	all := fuel.All()
	dtos := make([]ProductDTO, len(all))
	for i, info := range all {
		dtos[i] = ProductDTO{Code: string(info.Code), Name: info.Name, Aliases: info.Aliases}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStockSummary returns physical, booked and net available stock.
func (h *Handler) GetStockSummary(w http.ResponseWriter, r *http.Request) {
	product, err := fuel.Parse(chi.URLParam(r, "product"))
	if err != nil {
		h.writeEngineError(w, "Unknown product", err)
		return
	}
	sum, err := h.Engine.StockSummary(r.Context(), product)
	if err != nil {
		h.writeEngineError(w, "Failed to compute stock summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockSummaryDTO(sum))
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	var product stock.Product
	if q := r.URL.Query().Get("product"); q != "" {
		p, err := fuel.Parse(q)
		if err != nil {
			h.writeEngineError(w, "Unknown product", err)
			return
		}
		product = p
	}
	batches, err := h.Engine.ListBatches(r.Context(), product)
	if err != nil {
		h.writeEngineError(w, "Failed to list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

// CreateBatch records a received shipment.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	product, err := fuel.Parse(req.Product)
	if err != nil {
		h.writeEngineError(w, "Unknown product", err)
		return
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != "" {
		receivedAt, err = time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid received_at, want RFC3339", err)
			return
		}
	}

	in := stock.NewBatch{
		ID:         stock.BatchID(req.ID),
		Product:    product,
		Quantity:   stock.Litres{Value: req.Quantity},
		ReceivedAt: receivedAt,
		Supplier:   req.Supplier,
		Reference:  req.Reference,
	}
	if req.UnitCost != nil {
		in.UnitCost = *req.UnitCost
	}

	batch, err := h.Engine.ReceiveBatch(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, "Failed to receive batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Engine.GetBatch(r.Context(), stock.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, "Batch not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*batch))
}

func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteBatch(r.Context(), stock.BatchID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, "Failed to delete batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRIP HANDLERS
// =============================================================================

// ListTrips accepts ?product= and a comma separated ?status=.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	var filter stock.TripFilter
	q := r.URL.Query()
	if p := q.Get("product"); p != "" {
		product, err := fuel.Parse(p)
		if err != nil {
			h.writeEngineError(w, "Unknown product", err)
			return
		}
		filter.Product = product
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			status := stock.TripStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !stock.ValidStatus(status) {
				writeError(w, http.StatusBadRequest, "Unknown status", fmt.Errorf("status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	trips, err := h.Engine.ListTrips(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list trips", err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTOs(trips))
}

// CreateTrip creates a PENDING trip. Fewer than three compartments are
// accepted until the trip leaves PENDING.
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	product, err := fuel.Parse(req.Product)
	if err != nil {
		h.writeEngineError(w, "Unknown product", err)
		return
	}

	trip, err := h.Engine.CreateTrip(r.Context(), stock.NewTrip{
		ID:           stock.TripID(req.ID),
		Product:      product,
		Vehicle:      req.Vehicle,
		Customer:     req.Customer,
		Compartments: toCompartmentInputs(req.Compartments),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to create trip", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTripDTO(*trip))
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.Engine.GetTrip(r.Context(), tripID(r))
	if err != nil {
		h.writeEngineError(w, "Trip not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(*trip))
}

func (h *Handler) UpdateCompartments(w http.ResponseWriter, r *http.Request) {
	var req UpdateCompartmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Engine.UpdateCompartments(r.Context(), tripID(r), toCompartmentInputs(req.Compartments))
	if err != nil {
		h.writeEngineError(w, "Failed to update compartments", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResultDTO(res))
}

// TransitionTrip moves a trip to the status in the body.
func (h *Handler) TransitionTrip(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.transition(w, r, stock.TripStatus(strings.ToUpper(req.Status)))
}

func (h *Handler) ApproveTrip(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, stock.TripKPCApproved)
}

func (h *Handler) RejectTrip(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, stock.TripKPCRejected)
}

func (h *Handler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, stock.TripCancelled)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, to stock.TripStatus) {
	res, err := h.Engine.Transition(r.Context(), tripID(r), to)
	if err != nil {
		h.writeEngineError(w, "Failed to change trip status", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResultDTO(res))
}

// RecordActuals supplies the three measured quantities and reconciles.
func (h *Handler) RecordActuals(w http.ResponseWriter, r *http.Request) {
	var req ActualsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Actuals) != stock.CompartmentCount {
		writeError(w, http.StatusBadRequest, "Exactly three actuals required",
			fmt.Errorf("got %d actuals: %w", len(req.Actuals), stock.ErrInvalidCompartmentSet))
		return
	}
	var actuals [stock.CompartmentCount]stock.Litres
	for i, a := range req.Actuals {
		actuals[i] = stock.Litres{Value: a}.Round()
	}

	id := tripID(r)
	deps, err := h.Engine.ReconcileTrip(r.Context(), id, actuals, req.BOLNumber)
	if err != nil {
		h.writeEngineError(w, "Failed to reconcile trip", err)
		return
	}
	trip, err := h.Engine.GetTrip(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Trip not found", err)
		return
	}
	writeJSON(w, http.StatusOK, IntakeResultDTO{
		Kind:       string(intake.KindLoadingReport),
		Trip:       toTripDTO(*trip),
		Depletions: toDepletionDTOs(deps),
	})
}

func (h *Handler) GetTripDepletions(w http.ResponseWriter, r *http.Request) {
	deps, err := h.Engine.TripDepletions(r.Context(), tripID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to load depletions", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepletionDTOs(deps))
}

// =============================================================================
// HISTORY AND AUDIT
// =============================================================================

func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stock.MovementFilter{
		BatchID: stock.BatchID(q.Get("batch_id")),
		TripID:  stock.TripID(q.Get("trip_id")),
		Limit:   100,
	}
	if p := q.Get("product"); p != "" {
		product, err := fuel.Parse(p)
		if err != nil {
			h.writeEngineError(w, "Unknown product", err)
			return
		}
		filter.Product = product
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	moves, err := h.Engine.Movements(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(moves))
}

func (h *Handler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	product, err := fuel.Parse(chi.URLParam(r, "product"))
	if err != nil {
		h.writeEngineError(w, "Unknown product", err)
		return
	}
	report, err := h.Engine.CheckConsistency(r.Context(), product)
	if err != nil {
		h.writeEngineError(w, "Failed to check consistency", err)
		return
	}
	writeJSON(w, http.StatusOK, toConsistencyReportDTO(report))
}

// =============================================================================
// INTAKE
// =============================================================================

// ApplyDocument validates a loading order or loading report and applies it.
func (h *Handler) ApplyDocument(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read document", err)
		return
	}
	doc, err := intake.ParseDocument(body)
	if err != nil {
		h.writeEngineError(w, "Invalid document", err)
		return
	}

	res, err := intake.Apply(r.Context(), h.Engine, doc)
	if err != nil {
		h.writeEngineError(w, "Failed to apply document", err)
		return
	}
	h.log.Info().Str("kind", string(res.Kind)).Str("trip_id", string(res.Trip.ID)).
		Str("source", doc.Source).Msg("document applied")

	status := http.StatusOK
	if res.Kind == intake.KindLoadingOrder {
		status = http.StatusCreated
	}
	writeJSON(w, status, IntakeResultDTO{
		Kind:       string(res.Kind),
		Trip:       toTripDTO(*res.Trip),
		Depletions: toDepletionDTOs(res.Depletions),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func tripID(r *http.Request) stock.TripID {
	return stock.TripID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP status codes and error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, stock.ErrInsufficientAggregateStock):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case stock.IsRetryable(err):
		return http.StatusServiceUnavailable, "concurrent_modification"
	case stock.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, stock.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, stock.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, stock.ErrBatchInUse):
		return http.StatusConflict, "batch_in_use"
	case errors.Is(err, stock.ErrTripLocked):
		return http.StatusConflict, "trip_locked"
	case errors.Is(err, intake.ErrInvalidDocument):
		return http.StatusBadRequest, "invalid_document"
	case stock.IsClientError(err):
		return http.StatusBadRequest, "invalid_input"
	case stock.IsConsistencyViolation(err):
		return http.StatusInternalServerError, "consistency_violation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}

	var short *stock.InsufficientAggregateStockError
	if errors.As(err, &short) {
		resp.Details = map[string]string{
			"product":   string(short.Product),
			"required":  short.Required.String(),
			"available": short.Available.String(),
			"shortfall": short.Shortfall.String(),
		}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("code", code).Msg(message)
	}
	writeJSON(w, status, resp)
}
