package intake_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-ledger/fuel"
	"github.com/warp/fuel-ledger/intake"
	"github.com/warp/fuel-ledger/stock"
	"github.com/warp/fuel-ledger/stock/store"
)

const loadingOrder = `{
  "kind": "loading_order",
  "trip_id": "T-1042",
  "product": "Diesel",
  "vehicle": "KCA 123A",
  "customer": "Rift Haulage",
  "compartments": [
    {"number": 1, "requested": "5000"},
    {"number": 2, "requested": 4000.5},
    {"number": 3, "requested": "3000.004"}
  ]
}`

const loadingReport = `{
  "kind": "loading_report",
  "trip_id": "T-1042",
  "bol_number": "BOL-88213",
  "compartments": [
    {"number": 3, "actual": "3000"},
    {"number": 1, "actual": 5010.25},
    {"number": 2, "actual": "4000.50"}
  ]
}`

func L(s string) stock.Litres { return stock.MustLitres(s) }

// =============================================================================
// PARSING
// =============================================================================

func TestParseDocument_LoadingOrder(t *testing.T) {
	doc, err := intake.ParseDocument([]byte(loadingOrder))
	require.NoError(t, err)
	assert.Equal(t, intake.KindLoadingOrder, doc.Kind)

	in, err := doc.NewTrip()
	require.NoError(t, err)
	assert.Equal(t, stock.TripID("T-1042"), in.ID)
	assert.Equal(t, fuel.AGO, in.Product)
	assert.Equal(t, "KCA 123A", in.Vehicle)
	require.Len(t, in.Compartments, 3)
	assert.Equal(t, "5000.00", in.Compartments[0].Requested.String())
	assert.Equal(t, "4000.50", in.Compartments[1].Requested.String())
	assert.Equal(t, "3000.00", in.Compartments[2].Requested.String(), "rounded to centilitres")
}

func TestParseDocument_LoadingReport(t *testing.T) {
	doc, err := intake.ParseDocument([]byte(loadingReport))
	require.NoError(t, err)

	actuals, err := doc.Actuals()
	require.NoError(t, err)
	assert.Equal(t, "5010.25", actuals[0].String())
	assert.Equal(t, "4000.50", actuals[1].String())
	assert.Equal(t, "3000.00", actuals[2].String())
	assert.Equal(t, "BOL-88213", doc.BOLNumber)
}

func TestParseDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "malformed json",
			doc:  `{"kind": "loading_order",`,
			want: intake.ErrInvalidDocument,
		},
		{
			name: "unknown kind",
			doc:  `{"kind": "invoice", "compartments": []}`,
			want: intake.ErrInvalidDocument,
		},
		{
			name: "unknown product",
			doc: `{"kind": "loading_order", "product": "LPG", "compartments": [
				{"number": 1, "requested": 1}, {"number": 2, "requested": 1}, {"number": 3, "requested": 1}]}`,
			want: stock.ErrInvalidProduct,
		},
		{
			name: "two compartments",
			doc: `{"kind": "loading_order", "product": "AGO", "compartments": [
				{"number": 1, "requested": 1}, {"number": 2, "requested": 1}]}`,
			want: stock.ErrInvalidCompartmentSet,
		},
		{
			name: "zero requested",
			doc: `{"kind": "loading_order", "product": "AGO", "compartments": [
				{"number": 1, "requested": 0}, {"number": 2, "requested": 1}, {"number": 3, "requested": 1}]}`,
			want: stock.ErrInvalidCompartmentSet,
		},
		{
			name: "missing requested",
			doc: `{"kind": "loading_order", "product": "AGO", "compartments": [
				{"number": 1}, {"number": 2, "requested": 1}, {"number": 3, "requested": 1}]}`,
			want: stock.ErrInvalidCompartmentSet,
		},
		{
			name: "report without trip",
			doc: `{"kind": "loading_report", "compartments": [
				{"number": 1, "actual": 1}, {"number": 2, "actual": 1}, {"number": 3, "actual": 1}]}`,
			want: intake.ErrInvalidDocument,
		},
		{
			name: "report missing actual",
			doc: `{"kind": "loading_report", "trip_id": "T1", "compartments": [
				{"number": 1, "actual": 1}, {"number": 2}, {"number": 3, "actual": 1}]}`,
			want: stock.ErrInvalidCompartmentSet,
		},
		{
			name: "report duplicate number",
			doc: `{"kind": "loading_report", "trip_id": "T1", "compartments": [
				{"number": 1, "actual": 1}, {"number": 1, "actual": 1}, {"number": 3, "actual": 1}]}`,
			want: stock.ErrInvalidCompartmentSet,
		},
		{
			name: "report negative actual",
			doc: `{"kind": "loading_report", "trip_id": "T1", "compartments": [
				{"number": 1, "actual": -5}, {"number": 2, "actual": 1}, {"number": 3, "actual": 1}]}`,
			want: stock.ErrInvalidCompartmentSet,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := intake.ParseDocument([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_OrderThenReport(t *testing.T) {
	// GIVEN: 20000 L of AGO in two batches
	// WHEN: A loading order creates a trip, it is approved, then the
	//       loading report arrives
	// THEN: The allocation moves to the measured total and the BOL is kept

	ctx := context.Background()
	engine := stock.NewEngine(store.NewTxMemory(), stock.Options{})
	for i, id := range []stock.BatchID{"B1", "B2"} {
		_, err := engine.ReceiveBatch(ctx, stock.NewBatch{
			ID:         id,
			Product:    fuel.AGO,
			Quantity:   L("10000"),
			ReceivedAt: time.Date(2025, time.March, i+1, 6, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	order, err := intake.ParseDocument([]byte(loadingOrder))
	require.NoError(t, err)
	res, err := intake.Apply(ctx, engine, order)
	require.NoError(t, err)
	assert.Equal(t, stock.TripPending, res.Trip.Status)
	assert.Equal(t, "12000.50", res.Trip.NominalDemand().String())

	_, err = engine.Transition(ctx, "T-1042", stock.TripLoading)
	require.NoError(t, err)
	_, err = engine.ApproveTrip(ctx, "T-1042")
	require.NoError(t, err)

	report, err := intake.ParseDocument([]byte(loadingReport))
	require.NoError(t, err)
	res, err = intake.Apply(ctx, engine, report)
	require.NoError(t, err)

	assert.Equal(t, "BOL-88213", res.Trip.BOLNumber)
	assert.True(t, res.Trip.HasAllActuals())
	require.Len(t, res.Depletions, 2)
	assert.Equal(t, "10000.00", res.Depletions[0].Quantity.String())
	assert.Equal(t, "2010.75", res.Depletions[1].Quantity.String())
}

func TestApply_DuplicateOrder(t *testing.T) {
	ctx := context.Background()
	engine := stock.NewEngine(store.NewTxMemory(), stock.Options{})

	order, err := intake.ParseDocument([]byte(loadingOrder))
	require.NoError(t, err)
	_, err = intake.Apply(ctx, engine, order)
	require.NoError(t, err)

	_, err = intake.Apply(ctx, engine, order)
	assert.ErrorIs(t, err, stock.ErrAlreadyExists)
}

func TestApply_ReportForUnknownTrip(t *testing.T) {
	ctx := context.Background()
	engine := stock.NewEngine(store.NewTxMemory(), stock.Options{})

	report, err := intake.ParseDocument([]byte(loadingReport))
	require.NoError(t, err)
	_, err = intake.Apply(ctx, engine, report)
	assert.ErrorIs(t, err, stock.ErrTripNotFound)
}
