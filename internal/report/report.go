// Package report computes read-only rollups over the ledger and the
// appointment store. Nothing here writes.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

const (
	Bucket0To30   = "0-30"
	Bucket31To60  = "31-60"
	Bucket61To90  = "61-90"
	BucketOver90  = "90+"
	dayDuration   = 24 * time.Hour
	unassignedKey = "unassigned"
)

type LedgerSource interface {
	ListOutstanding(ctx context.Context) ([]billing.Record, error)
	ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]billing.Transaction, error)
}

type AppointmentSource interface {
	ListCompletedBetween(ctx context.Context, fromDate, toDate string) ([]appointment.Appointment, error)
}

type Aging struct {
	AsOf    time.Time
	Buckets map[string]decimal.Decimal
	Total   decimal.Decimal
}

type Collections struct {
	From     time.Time
	To       time.Time
	Total    decimal.Decimal
	ByMethod map[string]decimal.Decimal
	ByMode   map[billing.Mode]decimal.Decimal
	Count    int
}

type DentistProductivity struct {
	DentistID *uuid.UUID
	Completed int
	Billed    decimal.Decimal
}

type Service struct {
	ledger       LedgerSource
	appointments AppointmentSource
}

func NewService(ledger LedgerSource, appointments AppointmentSource) *Service {
	return &Service{ledger: ledger, appointments: appointments}
}

func (s *Service) Aging(ctx context.Context, asOf time.Time) (*Aging, error) {
	recs, err := s.ledger.ListOutstanding(ctx)
	if err != nil {
		return nil, apperr.Unavailable("list outstanding balances", err)
	}
	a := AgingOf(recs, asOf)
	return &a, nil
}

// AgingOf buckets the remaining balance of every record with a positive
// balance by whole days elapsed since creation. Records without a usable
// creation time land in 90+.
func AgingOf(recs []billing.Record, asOf time.Time) Aging {
	a := Aging{
		AsOf: asOf,
		Buckets: map[string]decimal.Decimal{
			Bucket0To30:  decimal.Zero,
			Bucket31To60: decimal.Zero,
			Bucket61To90: decimal.Zero,
			BucketOver90: decimal.Zero,
		},
		Total: decimal.Zero,
	}

	for _, r := range recs {
		if r.RemainingBalance.Sign() <= 0 {
			continue
		}
		b := bucketFor(r.CreatedAt, asOf)
		a.Buckets[b] = a.Buckets[b].Add(r.RemainingBalance)
		a.Total = a.Total.Add(r.RemainingBalance)
	}
	return a
}

func bucketFor(createdAt, asOf time.Time) string {
	if createdAt.IsZero() {
		return BucketOver90
	}
	days := int(asOf.Sub(createdAt) / dayDuration)
	switch {
	case days <= 30:
		return Bucket0To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// Collections sums payments recorded in [from, to).
func (s *Service) Collections(ctx context.Context, from, to time.Time) (*Collections, error) {
	if !to.After(from) {
		return nil, apperr.New(apperr.KindInvalidInput, "collections range end must be after start")
	}
	txs, err := s.ledger.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, apperr.Unavailable("list transactions", err)
	}

	c := &Collections{
		From:     from,
		To:       to,
		Total:    decimal.Zero,
		ByMethod: map[string]decimal.Decimal{},
		ByMode:   map[billing.Mode]decimal.Decimal{},
	}
	for _, t := range txs {
		c.Total = c.Total.Add(t.Amount)
		c.ByMethod[t.Method] = c.ByMethod[t.Method].Add(t.Amount)
		c.ByMode[t.Mode] = c.ByMode[t.Mode].Add(t.Amount)
		c.Count++
	}
	return c, nil
}

// Productivity counts completed appointments and billed totals per dentist
// for appointment dates in [fromDate, toDate]. Unassigned work is grouped
// under a nil DentistID and sorts last.
func (s *Service) Productivity(ctx context.Context, fromDate, toDate string) ([]DentistProductivity, error) {
	from, err := calendar.ParseDate(fromDate)
	if err != nil {
		return nil, err
	}
	to, err := calendar.ParseDate(toDate)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, apperr.New(apperr.KindInvalidInput, "productivity range end must not be before start")
	}

	appts, err := s.appointments.ListCompletedBetween(ctx, from.Format(calendar.DateLayout), to.Format(calendar.DateLayout))
	if err != nil {
		return nil, apperr.Unavailable("list completed appointments", err)
	}

	byKey := map[string]*DentistProductivity{}
	for _, a := range appts {
		key := unassignedKey
		if a.DentistID != nil {
			key = a.DentistID.String()
		}
		p, ok := byKey[key]
		if !ok {
			p = &DentistProductivity{DentistID: a.DentistID, Billed: decimal.Zero}
			byKey[key] = p
		}
		p.Completed++
		if a.Treatment != nil {
			p.Billed = p.Billed.Add(a.Treatment.TotalBill)
		}
	}

	out := make([]DentistProductivity, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].DentistID == nil) != (out[j].DentistID == nil) {
			return out[j].DentistID == nil
		}
		if out[i].Completed != out[j].Completed {
			return out[i].Completed > out[j].Completed
		}
		if out[i].DentistID == nil {
			return false
		}
		return out[i].DentistID.String() < out[j].DentistID.String()
	})
	return out, nil
}
