package billing

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func TestSplitInstallments(t *testing.T) {
	tests := []struct {
		balance string
		months  int
		want    []string
	}{
		{balance: "3000", months: 3, want: []string{"1000", "1000", "1000"}},
		{balance: "1000", months: 3, want: []string{"333", "333", "334"}},
		{balance: "100", months: 7, want: []string{"14", "14", "14", "14", "14", "14", "16"}},
		{balance: "199.99", months: 3, want: []string{"66", "66", "67.99"}},
		{balance: "0.05", months: 2, want: []string{"0", "0.05"}},
		{balance: "250.5", months: 1, want: []string{"250.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.balance, func(t *testing.T) {
			got := SplitInstallments(decimal.RequireFromString(tt.balance), tt.months)
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				assert.True(t, decimal.RequireFromString(w).Equal(got[i]), "part %d: want %s, got %s", i, w, got[i])
			}
		})
	}

	assert.Nil(t, SplitInstallments(decimal.NewFromInt(10), 0))
}

func TestSplitInstallments_SumsToBalance(t *testing.T) {
	f := gofakeit.New(42)

	for i := 0; i < 500; i++ {
		balance := decimal.NewFromFloat(f.Price(0.01, 50000)).Round(moneyPlaces)
		months := f.Number(1, maxPlanMonths)

		parts := SplitInstallments(balance, months)
		require.Len(t, parts, months)

		sum := decimal.Zero
		for _, p := range parts[:months-1] {
			assert.True(t, p.Equal(parts[0]))
			assert.True(t, p.Equal(p.Floor()))
			sum = sum.Add(p)
		}
		last := parts[months-1]
		sum = sum.Add(last)

		assert.True(t, sum.Equal(balance), "balance %s months %d sum %s", balance, months, sum)
		assert.True(t, last.GreaterThanOrEqual(parts[0]))
	}
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		start string
		n     int
		want  string
	}{
		{start: "2024-01-31", n: 1, want: "2024-02-29"},
		{start: "2023-01-31", n: 1, want: "2023-02-28"},
		{start: "2024-01-31", n: 2, want: "2024-03-31"},
		{start: "2024-08-31", n: 1, want: "2024-09-30"},
		{start: "2024-11-15", n: 3, want: "2025-02-15"},
		{start: "2024-05-01", n: 12, want: "2025-05-01"},
	}

	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			start, err := time.Parse("2006-01-02", tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.want, AddMonthsClamped(start, tt.n).Format("2006-01-02"))
		})
	}
}

func TestDueDates_DoNotDrift(t *testing.T) {
	start := time.Date(2024, time.January, 31, 15, 0, 0, 0, time.UTC)

	var got []string
	for _, d := range DueDates(start, 3) {
		got = append(got, d.Format("2006-01-02"))
	}
	assert.Equal(t, []string{"2024-02-29", "2024-03-31", "2024-04-30"}, got)
}

func TestStatusFor(t *testing.T) {
	total := decimal.NewFromInt(300)

	assert.Equal(t, RecordUnpaid, statusFor(total, total))
	assert.Equal(t, RecordPartial, statusFor(total, decimal.NewFromInt(1)))
	assert.Equal(t, RecordPaid, statusFor(total, decimal.Zero))
	assert.Equal(t, RecordPaid, statusFor(decimal.Zero, decimal.Zero))
}

func TestValidateMoney(t *testing.T) {
	assert.NoError(t, validateMoney(decimal.RequireFromString("10.25"), false))
	assert.NoError(t, validateMoney(decimal.RequireFromString("10.250"), false))
	assert.NoError(t, validateMoney(decimal.Zero, true))

	for _, bad := range []string{"0", "-1", "10.255"} {
		err := validateMoney(decimal.RequireFromString(bad), false)
		assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(err), bad)
	}
}

func TestRecord_CheckBalance(t *testing.T) {
	r := Record{
		TotalAmount:      decimal.NewFromInt(100),
		RemainingBalance: decimal.NewFromInt(60),
		Transactions:     []Transaction{{Amount: decimal.NewFromInt(40)}},
	}
	assert.NoError(t, r.CheckBalance())

	r.RemainingBalance = decimal.NewFromInt(70)
	assert.Error(t, r.CheckBalance())
}
