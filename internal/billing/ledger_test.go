package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
)

var planStart = time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*billing.Ledger, *memstore.Store) {
	t.Helper()
	store := memstore.New(calendar.DefaultPolicy(2))
	l := billing.NewLedger(store, store, lock.NewLocal(), billing.WithClock(func() time.Time { return planStart }))
	return l, store
}

func openRecord(t *testing.T, l *billing.Ledger, prices ...string) *billing.Record {
	t.Helper()
	var items []billing.ItemInput
	for i, p := range prices {
		items = append(items, billing.ItemInput{Name: "procedure " + string(rune('A'+i)), Price: decimal.RequireFromString(p)})
	}
	rec, err := l.OpenRecord(context.Background(), billing.OpenRequest{
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		Items:         items,
	})
	require.NoError(t, err)
	return rec
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpenRecord(t *testing.T) {
	l, _ := newLedger(t)

	rec := openRecord(t, l, "1200", "800.50")
	assert.True(t, money("2000.50").Equal(rec.TotalAmount))
	assert.True(t, rec.TotalAmount.Equal(rec.RemainingBalance))
	assert.Equal(t, billing.RecordUnpaid, rec.Status)
	assert.Len(t, rec.Items, 2)

	free := openRecord(t, l, "0")
	assert.Equal(t, billing.RecordPaid, free.Status)

	_, err := l.OpenRecord(context.Background(), billing.OpenRequest{PatientID: uuid.New()})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestRecordPayment_Procedure(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	rec := openRecord(t, l, "300", "200")

	res, err := l.RecordPayment(ctx, billing.PaymentRequest{
		BillingID: rec.ID,
		Amount:    money("300"),
		Method:    "card",
		Mode:      billing.ModeProcedure,
		ItemIDs:   []uuid.UUID{rec.Items[0].ID},
	})
	require.NoError(t, err)
	assert.True(t, money("200").Equal(res.NewRemainingBalance))
	assert.Equal(t, billing.RecordPartial, res.Status)

	got, err := l.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, []uuid.UUID{rec.Items[0].ID}, got.Transactions[0].ItemIDs)
	assert.NoError(t, got.CheckBalance())

	res, err = l.RecordPayment(ctx, billing.PaymentRequest{BillingID: rec.ID, Amount: money("200"), Method: "cash", Mode: billing.ModeProcedure})
	require.NoError(t, err)
	assert.Equal(t, billing.RecordPaid, res.Status)

	_, err = l.RecordPayment(ctx, billing.PaymentRequest{BillingID: rec.ID, Amount: money("1"), Method: "cash", Mode: billing.ModeProcedure})
	assert.ErrorIs(t, err, billing.ErrNothingOutstanding)
}

func TestRecordPayment_RejectsWithoutChange(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	rec := openRecord(t, l, "100")

	tests := []struct {
		name string
		req  billing.PaymentRequest
		kind apperr.Kind
	}{
		{
			name: "overpayment",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("100.01"), Method: "cash", Mode: billing.ModeProcedure},
			kind: apperr.KindInvalidAmount,
		},
		{
			name: "zero amount",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: decimal.Zero, Method: "cash", Mode: billing.ModeProcedure},
			kind: apperr.KindInvalidAmount,
		},
		{
			name: "sub-cent amount",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("0.001"), Method: "cash", Mode: billing.ModeProcedure},
			kind: apperr.KindInvalidAmount,
		},
		{
			name: "missing method",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("10"), Mode: billing.ModeProcedure},
			kind: apperr.KindInvalidInput,
		},
		{
			name: "unknown mode",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("10"), Method: "cash", Mode: "barter"},
			kind: apperr.KindInvalidInput,
		},
		{
			name: "foreign item",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("10"), Method: "cash", Mode: billing.ModeProcedure, ItemIDs: []uuid.UUID{uuid.New()}},
			kind: apperr.KindInvalidInput,
		},
		{
			name: "installment without plan",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("10"), Method: "cash", Mode: billing.ModeInstallment, InstallmentID: ptr(uuid.New())},
			kind: apperr.KindNotFound,
		},
		{
			name: "full settlement without plan",
			req:  billing.PaymentRequest{BillingID: rec.ID, Amount: money("100"), Method: "cash", Mode: billing.ModeInstallmentFull},
			kind: apperr.KindInvalidTransition,
		},
		{
			name: "unknown record",
			req:  billing.PaymentRequest{BillingID: uuid.New(), Amount: money("10"), Method: "cash", Mode: billing.ModeProcedure},
			kind: apperr.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.RecordPayment(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	got, err := l.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, money("100").Equal(got.RemainingBalance))
	assert.Empty(t, got.Transactions)
}

func TestPaymentPlan_InstallmentFlow(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	rec := openRecord(t, l, "3000")

	plan, err := l.CreatePaymentPlan(ctx, rec.ID, 3)
	require.NoError(t, err)
	require.Len(t, plan.Installments, 3)

	var due []string
	for _, in := range plan.Installments {
		assert.True(t, money("1000").Equal(in.Amount))
		assert.Equal(t, billing.InstallmentUnpaid, in.Status)
		due = append(due, in.DueDate)
	}
	assert.Equal(t, []string{"2024-02-29", "2024-03-31", "2024-04-30"}, due)

	_, err = l.CreatePaymentPlan(ctx, rec.ID, 6)
	assert.ErrorIs(t, err, billing.ErrPlanExists)

	_, err = l.RecordPayment(ctx, billing.PaymentRequest{BillingID: rec.ID, Amount: money("500"), Method: "cash", Mode: billing.ModeProcedure})
	assert.ErrorIs(t, err, billing.ErrPlanActive)

	first := plan.Installments[0].ID
	_, err = l.RecordPayment(ctx, billing.PaymentRequest{
		BillingID: rec.ID, Amount: money("999"), Method: "card", Mode: billing.ModeInstallment, InstallmentID: &first,
	})
	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(err))

	res, err := l.RecordPayment(ctx, billing.PaymentRequest{
		BillingID: rec.ID, Amount: money("1000"), Method: "card", Mode: billing.ModeInstallment, InstallmentID: &first,
	})
	require.NoError(t, err)
	assert.True(t, money("2000").Equal(res.NewRemainingBalance))
	assert.Equal(t, billing.RecordPartial, res.Status)
	require.NotNil(t, res.Transaction.InstallmentID)
	assert.Equal(t, first, *res.Transaction.InstallmentID)

	got, err := l.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	in, ok := got.Plan.Installment(first)
	require.True(t, ok)
	assert.Equal(t, billing.InstallmentPaid, in.Status)
	require.NotNil(t, in.PaidMethod)
	assert.Equal(t, "card", *in.PaidMethod)
	assert.Len(t, got.Plan.OpenInstallments(), 2)

	_, err = l.RecordPayment(ctx, billing.PaymentRequest{
		BillingID: rec.ID, Amount: money("1000"), Method: "card", Mode: billing.ModeInstallment, InstallmentID: &first,
	})
	assert.ErrorIs(t, err, billing.ErrInstallmentPaid)

	_, err = l.RecordPayment(ctx, billing.PaymentRequest{BillingID: rec.ID, Amount: money("1000"), Method: "cash", Mode: billing.ModeInstallmentFull})
	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(err))

	res, err = l.RecordPayment(ctx, billing.PaymentRequest{BillingID: rec.ID, Amount: money("2000"), Method: "cash", Mode: billing.ModeInstallmentFull})
	require.NoError(t, err)
	assert.True(t, res.NewRemainingBalance.IsZero())
	assert.Equal(t, billing.RecordPaid, res.Status)

	got, err = l.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Plan.OpenInstallments())
	assert.NoError(t, got.CheckBalance())
}

func TestCreatePaymentPlan_Validation(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	rec := openRecord(t, l, "0.02")
	_, err := l.CreatePaymentPlan(ctx, rec.ID, 0)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	_, err = l.CreatePaymentPlan(ctx, rec.ID, 121)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	_, err = l.CreatePaymentPlan(ctx, rec.ID, 3)
	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(err))

	free := openRecord(t, l, "0")
	_, err = l.CreatePaymentPlan(ctx, free.ID, 3)
	assert.ErrorIs(t, err, billing.ErrNothingOutstanding)
}

func TestRecordPayment_ConcurrentPaymentsConserveBalance(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	rec := openRecord(t, l, "1000")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := decimal.Zero
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.RecordPayment(ctx, billing.PaymentRequest{
				BillingID: rec.ID, Amount: money("45.50"), Method: "card", Mode: billing.ModeProcedure,
			})
			if err != nil {
				assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(err))
				return
			}
			mu.Lock()
			accepted = accepted.Add(res.Transaction.Amount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	got, err := l.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, got.CheckBalance())
	assert.Len(t, got.Transactions, 21)
	assert.True(t, accepted.Equal(got.PaidAmount()))
	assert.True(t, money("44.50").Equal(got.RemainingBalance))
	assert.True(t, got.RemainingBalance.Sign() >= 0)
}

func TestRecordPayment_StoreFailureIsRetryable(t *testing.T) {
	l, store := newLedger(t)
	rec := openRecord(t, l, "100")
	store.FailOn("AppendTransaction", errors.New("connection reset"))

	_, err := l.RecordPayment(context.Background(), billing.PaymentRequest{
		BillingID: rec.ID, Amount: money("10"), Method: "cash", Mode: billing.ModeProcedure,
	})
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))

	store.ClearFailures()
	got, err := l.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, money("100").Equal(got.RemainingBalance))
}

func TestMarkOverdue(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	rec := openRecord(t, l, "900")

	plan, err := l.CreatePaymentPlan(ctx, rec.ID, 3)
	require.NoError(t, err)

	n, err := l.MarkOverdue(ctx, time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = l.MarkOverdue(ctx, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := l.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InstallmentOverdue, got.Plan.Installments[0].Status)
	assert.Equal(t, billing.InstallmentOverdue, got.Plan.Installments[1].Status)
	assert.Equal(t, billing.InstallmentUnpaid, got.Plan.Installments[2].Status)

	// overdue installments stay payable
	first := plan.Installments[0].ID
	_, err = l.RecordPayment(ctx, billing.PaymentRequest{
		BillingID: rec.ID, Amount: money("300"), Method: "cash", Mode: billing.ModeInstallment, InstallmentID: &first,
	})
	require.NoError(t, err)

	n, err = l.MarkOverdue(ctx, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func ptr[T any](v T) *T {
	return &v
}
