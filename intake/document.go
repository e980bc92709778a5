/*
Package intake converts structured loading documents into ledger commands.

PURPOSE:
  Loading orders and loading reports arrive from an external parser (PDF,
  e-mail). Their content is untrusted: intake applies exactly the same
  compartment and quantity rules as manual entry before anything reaches
  the engine.

DOCUMENT KINDS:
  loading_order:  creates a PENDING trip with its three requested quantities
  loading_report: supplies the three measured (L20) quantities and the BOL

JSON SCHEMA:
  {
    "kind": "loading_report",
    "trip_id": "T-1042",
    "product": "Diesel",
    "bol_number": "BOL-88213",
    "compartments": [
      {"number": 1, "actual": "5010.25"},
      {"number": 2, "actual": 4998},
      {"number": 3, "actual": "5000"}
    ]
  }

  Quantities may be JSON numbers or strings; both decode to decimals.
*/
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/fuel-ledger/fuel"
	"github.com/warp/fuel-ledger/stock"
)

// ErrInvalidDocument is returned for malformed or incomplete documents.
// Compartment and product problems keep their stock errors instead.
var ErrInvalidDocument = errors.New("invalid document")

type Kind string

const (
	KindLoadingOrder  Kind = "loading_order"
	KindLoadingReport Kind = "loading_report"
)

type Document struct {
	Kind         Kind              `json:"kind"`
	TripID       string            `json:"trip_id,omitempty"`
	Product      string            `json:"product,omitempty"`
	Vehicle      string            `json:"vehicle,omitempty"`
	Customer     string            `json:"customer,omitempty"`
	BOLNumber    string            `json:"bol_number,omitempty"`
	Source       string            `json:"source,omitempty"`
	Compartments []CompartmentLine `json:"compartments"`
}

type CompartmentLine struct {
	Number    int              `json:"number"`
	Requested *decimal.Decimal `json:"requested,omitempty"`
	Actual    *decimal.Decimal `json:"actual,omitempty"`
}

// ParseDocument decodes and validates a document.
func ParseDocument(data []byte) (*Document, error) {
	var d Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the document for its kind.
func (d *Document) Validate() error {
	switch d.Kind {
	case KindLoadingOrder:
		_, err := d.NewTrip()
		return err
	case KindLoadingReport:
		if d.TripID == "" {
			return fmt.Errorf("%w: loading report without trip_id", ErrInvalidDocument)
		}
		_, err := d.Actuals()
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, d.Kind)
	}
}

// NewTrip builds the trip a loading order describes. A loading order must
// carry all three compartments.
func (d *Document) NewTrip() (stock.NewTrip, error) {
	product, err := fuel.Parse(d.Product)
	if err != nil {
		return stock.NewTrip{}, err
	}
	if len(d.Compartments) != stock.CompartmentCount {
		return stock.NewTrip{}, &stock.CompartmentError{
			TripID: stock.TripID(d.TripID),
			Reason: fmt.Sprintf("document lists %d compartments, want %d", len(d.Compartments), stock.CompartmentCount),
		}
	}

	inputs := make([]stock.CompartmentInput, 0, len(d.Compartments))
	for _, line := range d.Compartments {
		if line.Requested == nil {
			return stock.NewTrip{}, &stock.CompartmentError{
				TripID: stock.TripID(d.TripID),
				Reason: fmt.Sprintf("compartment %d has no requested quantity", line.Number),
			}
		}
		in := stock.CompartmentInput{Number: line.Number, Requested: stock.Litres{Value: *line.Requested}.Round()}
		if line.Actual != nil {
			a := stock.Litres{Value: *line.Actual}.Round()
			in.Actual = &a
		}
		inputs = append(inputs, in)
	}
	if _, err := stock.BuildCompartments(inputs); err != nil {
		return stock.NewTrip{}, err
	}

	return stock.NewTrip{
		ID:           stock.TripID(d.TripID),
		Product:      product,
		Vehicle:      d.Vehicle,
		Customer:     d.Customer,
		Compartments: inputs,
	}, nil
}

// Actuals returns the measured quantities of a loading report indexed by
// compartment number - 1.
func (d *Document) Actuals() ([stock.CompartmentCount]stock.Litres, error) {
	var out [stock.CompartmentCount]stock.Litres
	id := stock.TripID(d.TripID)

	if len(d.Compartments) != stock.CompartmentCount {
		return out, &stock.CompartmentError{TripID: id, Reason: fmt.Sprintf("document lists %d compartments, want %d", len(d.Compartments), stock.CompartmentCount)}
	}
	seen := make(map[int]bool, stock.CompartmentCount)
	for _, line := range d.Compartments {
		if line.Number < 1 || line.Number > stock.CompartmentCount || seen[line.Number] {
			return out, &stock.CompartmentError{TripID: id, Reason: fmt.Sprintf("bad compartment number %d", line.Number)}
		}
		seen[line.Number] = true
		if line.Actual == nil {
			return out, &stock.CompartmentError{TripID: id, Reason: fmt.Sprintf("compartment %d has no actual quantity", line.Number)}
		}
		out[line.Number-1] = stock.Litres{Value: *line.Actual}.Round()
	}
	if err := stock.ValidateActuals(id, out); err != nil {
		return out, err
	}
	return out, nil
}

// =============================================================================
// APPLY
// =============================================================================

// Engine is the part of stock.Engine a document drives.
type Engine interface {
	CreateTrip(ctx context.Context, in stock.NewTrip) (*stock.Trip, error)
	GetTrip(ctx context.Context, id stock.TripID) (*stock.Trip, error)
	ReconcileTrip(ctx context.Context, id stock.TripID, actuals [stock.CompartmentCount]stock.Litres, bol string) ([]stock.Depletion, error)
}

type Result struct {
	Kind       Kind
	Trip       *stock.Trip
	Depletions []stock.Depletion
}

// Apply runs a validated document against the engine.
func Apply(ctx context.Context, e Engine, d *Document) (*Result, error) {
	switch d.Kind {
	case KindLoadingOrder:
		in, err := d.NewTrip()
		if err != nil {
			return nil, err
		}
		trip, err := e.CreateTrip(ctx, in)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: d.Kind, Trip: trip}, nil

	case KindLoadingReport:
		actuals, err := d.Actuals()
		if err != nil {
			return nil, err
		}
		id := stock.TripID(d.TripID)
		deps, err := e.ReconcileTrip(ctx, id, actuals, d.BOLNumber)
		if err != nil {
			return nil, err
		}
		trip, err := e.GetTrip(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: d.Kind, Trip: trip, Depletions: deps}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, d.Kind)
}
