package treatment_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type fixture struct {
	store   *memstore.Store
	appts   *appointment.Service
	ledger  *billing.Ledger
	handler *treatment.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New(calendar.DefaultPolicy(2))
	locker := lock.NewLocal()
	appts := appointment.NewService(store, calendar.NewService(store), locker, store)
	ledger := billing.NewLedger(store, store, locker)
	return fixture{
		store:   store,
		appts:   appts,
		ledger:  ledger,
		handler: treatment.NewHandler(appts, store, ledger, store, store),
	}
}

func (f fixture) book(t *testing.T) *appointment.Appointment {
	t.Helper()
	a, err := f.appts.Book(context.Background(), appointment.BookRequest{
		PatientID:   uuid.New(),
		ServiceType: "filling",
		Date:        "2024-05-01",
		Time:        "09:00",
	})
	require.NoError(t, err)
	return a
}

func TestComplete_OpensBillingAndConsumesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gloves, resin := uuid.New(), uuid.New()
	f.store.SetStock(gloves, 10)
	f.store.SetStock(resin, 3)

	a := f.book(t)
	res, err := f.handler.Complete(ctx, a.ID, treatment.Payload{
		Procedures: []appointment.Procedure{
			{Name: "Filling", Price: decimal.RequireFromString("150.00")},
			{Name: "X-ray", Price: decimal.RequireFromString("49.99")},
		},
		InventoryUsed: []appointment.InventoryUse{
			{ItemID: gloves, Quantity: 2},
			{ItemID: resin, Quantity: 1},
			{ItemID: gloves, Quantity: 1},
		},
		Notes: " upper left molar ",
	})
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusCompleted, res.Appointment.Status)
	require.NotNil(t, res.Appointment.Treatment)
	assert.True(t, decimal.RequireFromString("199.99").Equal(res.Appointment.Treatment.TotalBill))
	assert.Equal(t, "upper left molar", res.Appointment.Treatment.Notes)
	require.NotNil(t, res.Appointment.PaymentStatus)
	assert.Equal(t, appointment.PaymentUnpaid, *res.Appointment.PaymentStatus)

	assert.True(t, res.Billing.TotalAmount.Equal(res.Appointment.Treatment.TotalBill))
	assert.True(t, res.Billing.RemainingBalance.Equal(res.Billing.TotalAmount))
	assert.Len(t, res.Billing.Items, 2)

	n, _ := f.store.Stock(gloves)
	assert.Equal(t, 7, n)
	n, _ = f.store.Stock(resin)
	assert.Equal(t, 2, n)

	rec, err := f.ledger.GetRecordByAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Billing.ID, rec.ID)

	_, err = f.handler.Complete(ctx, a.ID, treatment.Payload{
		Procedures: []appointment.Procedure{{Name: "Again", Price: decimal.NewFromInt(1)}},
	})
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
}

func TestComplete_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gloves, resin := uuid.New(), uuid.New()
	f.store.SetStock(gloves, 10)
	f.store.SetStock(resin, 1)

	a := f.book(t)
	_, err := f.handler.Complete(ctx, a.ID, treatment.Payload{
		Procedures: []appointment.Procedure{{Name: "Filling", Price: decimal.NewFromInt(150)}},
		InventoryUsed: []appointment.InventoryUse{
			{ItemID: gloves, Quantity: 2},
			{ItemID: resin, Quantity: 5},
		},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := f.appts.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Status)
	assert.Nil(t, got.Treatment)

	n, _ := f.store.Stock(gloves)
	assert.Equal(t, 10, n)

	_, err = f.ledger.GetRecordByAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
}

func TestComplete_FreeTreatmentIsPaid(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)

	res, err := f.handler.Complete(context.Background(), a.ID, treatment.Payload{
		Procedures: []appointment.Procedure{{Name: "Consultation", Price: decimal.Zero}},
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.PaymentPaid, *res.Appointment.PaymentStatus)
	assert.Equal(t, billing.RecordPaid, res.Billing.Status)
}

func TestComplete_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	a := f.book(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload treatment.Payload
		kind    apperr.Kind
	}{
		{name: "no procedures", payload: treatment.Payload{}, kind: apperr.KindInvalidInput},
		{
			name:    "blank name",
			payload: treatment.Payload{Procedures: []appointment.Procedure{{Name: " ", Price: decimal.NewFromInt(1)}}},
			kind:    apperr.KindInvalidInput,
		},
		{
			name:    "negative price",
			payload: treatment.Payload{Procedures: []appointment.Procedure{{Name: "x", Price: decimal.NewFromInt(-1)}}},
			kind:    apperr.KindInvalidAmount,
		},
		{
			name: "zero quantity",
			payload: treatment.Payload{
				Procedures:    []appointment.Procedure{{Name: "x", Price: decimal.NewFromInt(1)}},
				InventoryUsed: []appointment.InventoryUse{{ItemID: uuid.New()}},
			},
			kind: apperr.KindInvalidInput,
		},
		{
			name: "unknown item",
			payload: treatment.Payload{
				Procedures:    []appointment.Procedure{{Name: "x", Price: decimal.NewFromInt(1)}},
				InventoryUsed: []appointment.InventoryUse{{ItemID: uuid.New(), Quantity: 1}},
			},
			kind: apperr.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Complete(ctx, a.ID, tt.payload)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	got, err := f.appts.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Status)
}
