package stock

import (
	"context"
	"time"
)

type EventType string

const (
	EventAllocated    EventType = "trip.allocated"
	EventReleased     EventType = "trip.released"
	EventReconciled   EventType = "trip.reconciled"
	EventTransitioned EventType = "trip.transitioned"
)

// Event describes a committed ledger change. Events are published after the
// store transaction commits; a publish failure never undoes the change.
type Event struct {
	Type       EventType
	TripID     TripID
	Product    Product
	From       TripStatus
	To         TripStatus
	Demand     Litres
	Depletions []Depletion
	At         time.Time
}

// Publisher ships events to downstream consumers (dashboards, invoicing).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Recorder receives operational measurements.
type Recorder interface {
	Allocated(product Product, litres Litres)
	Released(product Product, litres Litres)
	Failed(op string, err error)
	LockWait(product Product, d time.Duration)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) Allocated(Product, Litres) {}
func (nopRecorder) Released(Product, Litres) {}
func (nopRecorder) Failed(string, error) {}
func (nopRecorder) LockWait(Product, time.Duration) {}
