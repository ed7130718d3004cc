package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money amounts carry two decimal places.
const moneyPlaces = 2

// SplitInstallments divides balance into months equal whole-unit parts
// (floor of balance/months). The remainder, cents included, goes to the last
// part so the parts sum to balance exactly.
func SplitInstallments(balance decimal.Decimal, months int) []decimal.Decimal {
	if months < 1 {
		return nil
	}
	n := decimal.NewFromInt(int64(months))
	base := balance.Div(n).Floor()

	parts := make([]decimal.Decimal, months)
	for i := range parts {
		parts[i] = base
	}
	parts[months-1] = balance.Sub(base.Mul(decimal.NewFromInt(int64(months - 1))))
	return parts
}

// AddMonthsClamped moves t forward by n calendar months keeping the day of
// month, clamped to the last day of a shorter target month (Jan 31 + 1 is
// Feb 28 or 29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

// DueDates returns months due dates, the first one month after start.
// Every date is computed from start so clamping never accumulates.
func DueDates(start time.Time, months int) []time.Time {
	out := make([]time.Time, months)
	for i := range out {
		out[i] = AddMonthsClamped(start, i+1)
	}
	return out
}
