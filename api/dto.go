/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Quantities cross the
  wire as decimal strings ("4980.50") so no float ever reaches the ledger.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fuel-ledger/stock"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

type ProductDTO struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

type BatchDTO struct {
	ID                string `json:"id"`
	Product           string `json:"product"`
	QuantityTotal     string `json:"quantity_total"`
	QuantityRemaining string `json:"quantity_remaining"`
	ReceivedAt        string `json:"received_at"`
	Supplier          string `json:"supplier,omitempty"`
	UnitCost          string `json:"unit_cost,omitempty"`
	Reference         string `json:"reference,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// CreateBatchRequest records a received shipment batch.
type CreateBatchRequest struct {
	ID         string           `json:"id,omitempty"`
	Product    string           `json:"product"`
	Quantity   decimal.Decimal  `json:"quantity"`
	ReceivedAt string           `json:"received_at,omitempty"` // RFC3339, defaults to now
	Supplier   string           `json:"supplier,omitempty"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	Reference  string           `json:"reference,omitempty"`
}

type CompartmentDTO struct {
	Number    int     `json:"number"`
	Requested string  `json:"requested"`
	Actual    *string `json:"actual,omitempty"`
}

type CompartmentRequest struct {
	Number    int              `json:"number"`
	Requested decimal.Decimal  `json:"requested"`
	Actual    *decimal.Decimal `json:"actual,omitempty"`
}

type TripDTO struct {
	ID              string           `json:"id"`
	Product         string           `json:"product"`
	Status          string           `json:"status"`
	Compartments    []CompartmentDTO `json:"compartments"`
	NominalDemand   string           `json:"nominal_demand"`
	ConfirmedDemand string           `json:"confirmed_demand"`
	NextStatuses    []string         `json:"next_statuses"`
	BOLNumber       string           `json:"bol_number,omitempty"`
	Vehicle         string           `json:"vehicle,omitempty"`
	Customer        string           `json:"customer,omitempty"`
	CreatedAt       string           `json:"created_at"`
	UpdatedAt       string           `json:"updated_at"`
}

type CreateTripRequest struct {
	ID           string               `json:"id,omitempty"`
	Product      string               `json:"product"`
	Vehicle      string               `json:"vehicle,omitempty"`
	Customer     string               `json:"customer,omitempty"`
	Compartments []CompartmentRequest `json:"compartments"`
}

type UpdateCompartmentsRequest struct {
	Compartments []CompartmentRequest `json:"compartments"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

// ActualsRequest supplies the three measured quantities, compartment 1 first.
type ActualsRequest struct {
	Actuals   []decimal.Decimal `json:"actuals"`
	BOLNumber string            `json:"bol_number,omitempty"`
}

type DepletionDTO struct {
	ID        string `json:"id"`
	TripID    string `json:"trip_id"`
	BatchID   string `json:"batch_id"`
	Product   string `json:"product"`
	Quantity  string `json:"quantity"`
	Seq       int    `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// TransitionResultDTO is returned by every trip mutation.
type TransitionResultDTO struct {
	Trip       TripDTO        `json:"trip"`
	From       string         `json:"from"`
	Effect     string         `json:"effect"`
	Depletions []DepletionDTO `json:"depletions"`
	Released   []DepletionDTO `json:"released"`
}

type MovementDTO struct {
	ID        string `json:"id"`
	Product   string `json:"product"`
	BatchID   string `json:"batch_id"`
	TripID    string `json:"trip_id,omitempty"`
	Type      string `json:"type"`
	Delta     string `json:"delta"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

type StockSummaryDTO struct {
	Product      string `json:"product"`
	Physical     string `json:"physical"`
	Booked       string `json:"booked"`
	NetAvailable string `json:"net_available"`
	Received     string `json:"received"`
	Allocated    string `json:"allocated"`
	Batches      int    `json:"batches"`
	AsOf         string `json:"as_of"`
}

type ViolationDTO struct {
	Kind    string `json:"kind"`
	BatchID string `json:"batch_id,omitempty"`
	TripID  string `json:"trip_id,omitempty"`
	Detail  string `json:"detail"`
}

type ConsistencyReportDTO struct {
	Product    string         `json:"product"`
	OK         bool           `json:"ok"`
	Batches    int            `json:"batches"`
	Trips      int            `json:"trips"`
	Violations []ViolationDTO `json:"violations"`
	CheckedAt  string         `json:"checked_at"`
}

// IntakeResultDTO is the outcome of applying a loading document.
type IntakeResultDTO struct {
	Kind       string         `json:"kind"`
	Trip       TripDTO        `json:"trip"`
	Depletions []DepletionDTO `json:"depletions"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toBatchDTO(b stock.Batch) BatchDTO {
	dto := BatchDTO{
		ID:                string(b.ID),
		Product:           string(b.Product),
		QuantityTotal:     b.QuantityTotal.String(),
		QuantityRemaining: b.QuantityRemaining.String(),
		ReceivedAt:        formatTime(b.ReceivedAt),
		Supplier:          b.Supplier,
		Reference:         b.Reference,
		CreatedAt:         formatTime(b.CreatedAt),
	}
	if !b.UnitCost.IsZero() {
		dto.UnitCost = b.UnitCost.String()
	}
	return dto
}

func toBatchDTOs(bs []stock.Batch) []BatchDTO {
	dtos := make([]BatchDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBatchDTO(b)
	}
	return dtos
}

func toTripDTO(t stock.Trip) TripDTO {
	dto := TripDTO{
		ID:              string(t.ID),
		Product:         string(t.Product),
		Status:          string(t.Status),
		Compartments:    make([]CompartmentDTO, len(t.Compartments)),
		NominalDemand:   t.NominalDemand().String(),
		ConfirmedDemand: t.ConfirmedDemand().String(),
		NextStatuses:    []string{},
		BOLNumber:       t.BOLNumber,
		Vehicle:         t.Vehicle,
		Customer:        t.Customer,
		CreatedAt:       formatTime(t.CreatedAt),
		UpdatedAt:       formatTime(t.UpdatedAt),
	}
	for i, c := range t.Compartments {
		dto.Compartments[i] = CompartmentDTO{Number: c.Number, Requested: c.Requested.String()}
		if c.Actual != nil {
			a := c.Actual.String()
			dto.Compartments[i].Actual = &a
		}
	}
	for _, s := range stock.NextStatuses(t.Status) {
		dto.NextStatuses = append(dto.NextStatuses, string(s))
	}
	return dto
}

func toTripDTOs(ts []stock.Trip) []TripDTO {
	dtos := make([]TripDTO, len(ts))
	for i, t := range ts {
		dtos[i] = toTripDTO(t)
	}
	return dtos
}

func toDepletionDTOs(deps []stock.Depletion) []DepletionDTO {
	dtos := make([]DepletionDTO, len(deps))
	for i, d := range deps {
		dtos[i] = DepletionDTO{
			ID:        string(d.ID),
			TripID:    string(d.TripID),
			BatchID:   string(d.BatchID),
			Product:   string(d.Product),
			Quantity:  d.Quantity.String(),
			Seq:       d.Seq,
			CreatedAt: formatTime(d.CreatedAt),
		}
	}
	return dtos
}

func toTransitionResultDTO(res *stock.TransitionResult) TransitionResultDTO {
	return TransitionResultDTO{
		Trip:       toTripDTO(res.Trip),
		From:       string(res.From),
		Effect:     string(res.Effect),
		Depletions: toDepletionDTOs(res.Depletions),
		Released:   toDepletionDTOs(res.Released),
	}
}

func toMovementDTOs(ms []stock.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(ms))
	for i, m := range ms {
		dtos[i] = MovementDTO{
			ID:        string(m.ID),
			Product:   string(m.Product),
			BatchID:   string(m.BatchID),
			TripID:    string(m.TripID),
			Type:      string(m.Type),
			Delta:     m.Delta.String(),
			Reason:    m.Reason,
			CreatedAt: formatTime(m.CreatedAt),
		}
	}
	return dtos
}

func toStockSummaryDTO(s *stock.StockSummary) StockSummaryDTO {
	return StockSummaryDTO{
		Product:      string(s.Product),
		Physical:     s.Physical.String(),
		Booked:       s.Booked.String(),
		NetAvailable: s.NetAvailable.String(),
		Received:     s.Received.String(),
		Allocated:    s.Allocated.String(),
		Batches:      s.Batches,
		AsOf:         formatTime(s.AsOf),
	}
}

func toConsistencyReportDTO(r *stock.ConsistencyReport) ConsistencyReportDTO {
	dto := ConsistencyReportDTO{
		Product:    string(r.Product),
		OK:         r.OK(),
		Batches:    r.Batches,
		Trips:      r.Trips,
		Violations: make([]ViolationDTO, len(r.Violations)),
		CheckedAt:  formatTime(r.CheckedAt),
	}
	for i, v := range r.Violations {
		dto.Violations[i] = ViolationDTO{
			Kind:    string(v.Kind),
			BatchID: string(v.BatchID),
			TripID:  string(v.TripID),
			Detail:  v.Detail,
		}
	}
	return dto
}

func toCompartmentInputs(reqs []CompartmentRequest) []stock.CompartmentInput {
	inputs := make([]stock.CompartmentInput, len(reqs))
	for i, c := range reqs {
		inputs[i] = stock.CompartmentInput{Number: c.Number, Requested: stock.Litres{Value: c.Requested}.Round()}
		if c.Actual != nil {
			a := stock.Litres{Value: *c.Actual}.Round()
			inputs[i].Actual = &a
		}
	}
	return inputs
}
