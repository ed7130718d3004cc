package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
)

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()
	item := uuid.New()
	s.SetStock(item, 5)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.AdjustStock(ctx, item, -3))
		require.NoError(t, s.SetCapacity(ctx, 9))
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, _ := s.Stock(item)
	assert.Equal(t, 5, n)
	p, err := s.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Capacity)
}

func TestWithTx_NestedSharesOuter(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()
	item := uuid.New()
	s.SetStock(item, 5)

	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context) error {
			return s.AdjustStock(ctx, item, -1)
		}))
		return s.AdjustStock(ctx, item, -1)
	})
	require.NoError(t, err)

	n, _ := s.Stock(item)
	assert.Equal(t, 3, n)
}

func TestLocksRequireTx(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()

	assert.ErrorIs(t, s.LockSlot(ctx, "2024-05-01", "09:00"), errNoTx)
	_, err := s.LockRecord(ctx, uuid.New())
	assert.ErrorIs(t, err, errNoTx)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context) error {
		return s.LockSlot(ctx, "2024-05-01", "09:00")
	}))
}

func TestAdjustStock(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()
	item := uuid.New()

	assert.ErrorIs(t, s.AdjustStock(ctx, item, -1), inventory.ErrItemNotFound)

	require.NoError(t, s.Upsert(ctx, inventory.Item{ID: item, Name: "gloves", Stock: 2}))
	assert.ErrorIs(t, s.AdjustStock(ctx, item, -3), inventory.ErrInsufficientStock)
	require.NoError(t, s.AdjustStock(ctx, item, -2))

	n, ok := s.Stock(item)
	assert.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestAppendTransaction_ComparesBalance(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()

	rec := billing.Record{
		ID:               uuid.New(),
		AppointmentID:    uuid.New(),
		PatientID:        uuid.New(),
		TotalAmount:      decimal.RequireFromString("100.00"),
		RemainingBalance: decimal.RequireFromString("100.00"),
		Status:           billing.RecordUnpaid,
	}
	s.PutRecord(rec)

	tx := billing.Transaction{ID: uuid.New(), BillingID: rec.ID, Amount: decimal.RequireFromString("40.00"), Method: "cash"}
	err := s.AppendTransaction(ctx, tx, decimal.RequireFromString("90.00"), decimal.RequireFromString("50.00"), billing.RecordPartial)
	assert.ErrorIs(t, err, billing.ErrBalanceConflict)

	require.NoError(t, s.AppendTransaction(ctx, tx, rec.RemainingBalance, decimal.RequireFromString("60.00"), billing.RecordPartial))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingBalance.Equal(decimal.RequireFromString("60.00")))
	assert.Equal(t, billing.RecordPartial, got.Status)
	assert.Len(t, got.Transactions, 1)
}

func TestFailOn(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()
	down := errors.New("store down")

	s.FailOn("GetPolicy", down)
	_, err := s.GetPolicy(ctx)
	assert.ErrorIs(t, err, down)

	s.ClearFailures()
	_, err = s.GetPolicy(ctx)
	assert.NoError(t, err)
}

func TestWithTx_CommitFailureRollsBack(t *testing.T) {
	s := New(calendar.DefaultPolicy(2))
	ctx := context.Background()
	item := uuid.New()
	s.SetStock(item, 5)
	s.FailOn("Commit", errors.New("connection reset"))

	err := s.WithTx(ctx, func(ctx context.Context) error {
		return s.AdjustStock(ctx, item, -2)
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	n, _ := s.Stock(item)
	assert.Equal(t, 5, n)
}
