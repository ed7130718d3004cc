package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
)

const maxPlanMonths = 120

var (
	ErrPlanExists         = apperr.New(apperr.KindInvalidTransition, "billing record already has a payment plan")
	ErrNoPlan             = apperr.New(apperr.KindInvalidTransition, "billing record has no open payment plan")
	ErrPlanActive         = apperr.New(apperr.KindInvalidTransition, "balance is under a payment plan, pay by installment")
	ErrInstallmentPaid    = apperr.New(apperr.KindInvalidTransition, "installment already paid")
	ErrNothingOutstanding = apperr.New(apperr.KindInvalidAmount, "billing record has no remaining balance")
)

type Ledger struct {
	repo   Repository
	tx     db.TxRunner
	locker lock.Locker
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the clinic timezone used for due dates.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

func NewLedger(repo Repository, tx db.TxRunner, locker lock.Locker, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		tx:     tx,
		locker: locker,
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type ItemInput struct {
	Name  string
	Price decimal.Decimal
}

type OpenRequest struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Items         []ItemInput
}

type PaymentRequest struct {
	BillingID     uuid.UUID
	Amount        decimal.Decimal
	Method        string
	Mode          Mode
	ItemIDs       []uuid.UUID
	InstallmentID *uuid.UUID
}

type PaymentResult struct {
	Transaction         Transaction
	NewRemainingBalance decimal.Decimal
	Status              RecordStatus
}

// OpenRecord seeds the ledger of a completed appointment. The total and the
// starting balance are the sum of item prices. It joins the caller's
// transaction when one is active.
func (l *Ledger) OpenRecord(ctx context.Context, req OpenRequest) (*Record, error) {
	if req.AppointmentID == uuid.Nil || req.PatientID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "appointment_id and patient_id are required")
	}

	total := decimal.Zero
	items := make([]Item, 0, len(req.Items))
	for _, in := range req.Items {
		if err := validateMoney(in.Price, true); err != nil {
			return nil, err
		}
		items = append(items, Item{ID: uuid.New(), Name: strings.TrimSpace(in.Name), Price: in.Price})
		total = total.Add(in.Price)
	}

	now := l.now()
	rec := &Record{
		ID:               uuid.New(),
		AppointmentID:    req.AppointmentID,
		PatientID:        req.PatientID,
		Items:            items,
		TotalAmount:      total,
		RemainingBalance: total,
		Status:           statusFor(total, total),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := l.tx.WithTx(ctx, func(txCtx context.Context) error {
		return l.repo.CreateRecord(txCtx, rec)
	})
	if err != nil {
		return nil, apperr.Unavailable("create billing record", err)
	}

	log.Ctx(ctx).Info().Str("billing_id", rec.ID.String()).
		Str("appointment_id", rec.AppointmentID.String()).
		Str("total", total.StringFixed(2)).Msg("billing record opened")
	return rec, nil
}

// RecordPayment appends a payment and decrements the balance. Validation
// failures leave the record untouched.
func (l *Ledger) RecordPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if err := validateMoney(req.Amount, false); err != nil {
		return nil, err
	}
	req.Method = strings.TrimSpace(req.Method)
	if req.Method == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "payment method is required")
	}
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return nil, err
	}

	var result *PaymentResult
	err := l.withRecord(ctx, req.BillingID, func(txCtx context.Context, rec *Record) error {
		paidInstallments, err := checkPayment(rec, req)
		if err != nil {
			return err
		}

		now := l.now()
		t := Transaction{
			ID:        uuid.New(),
			BillingID: rec.ID,
			Amount:    req.Amount,
			Date:      now,
			Method:    req.Method,
			Mode:      req.Mode,
		}
		if req.Mode == ModeProcedure {
			t.ItemIDs = req.ItemIDs
		}
		if req.Mode == ModeInstallment {
			id := *req.InstallmentID
			t.InstallmentID = &id
		}

		newBalance := rec.RemainingBalance.Sub(req.Amount)
		status := statusFor(rec.TotalAmount, newBalance)

		if err := l.repo.AppendTransaction(txCtx, t, rec.RemainingBalance, newBalance, status); err != nil {
			return apperr.Unavailable("append transaction", err)
		}
		if len(paidInstallments) > 0 {
			if err := l.repo.MarkInstallmentsPaid(txCtx, rec.ID, paidInstallments, now, req.Method); err != nil {
				return apperr.Unavailable("mark installments paid", err)
			}
		}

		result = &PaymentResult{Transaction: t, NewRemainingBalance: newBalance, Status: status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("billing_id", req.BillingID.String()).
		Str("mode", string(req.Mode)).Str("amount", req.Amount.StringFixed(2)).
		Str("remaining", result.NewRemainingBalance.StringFixed(2)).Msg("payment recorded")
	return result, nil
}

// checkPayment validates req against the locked record and returns the
// installments the payment settles.
func checkPayment(rec *Record, req PaymentRequest) ([]uuid.UUID, error) {
	if rec.RemainingBalance.Sign() <= 0 {
		return nil, ErrNothingOutstanding
	}
	if req.Amount.GreaterThan(rec.RemainingBalance) {
		return nil, apperr.Newf(apperr.KindInvalidAmount, "payment %s exceeds remaining balance %s",
			req.Amount.StringFixed(2), rec.RemainingBalance.StringFixed(2))
	}

	open := rec.Plan.OpenInstallments()

	switch req.Mode {
	case ModeProcedure:
		if len(open) > 0 {
			return nil, ErrPlanActive
		}
		for _, id := range req.ItemIDs {
			if !rec.HasItem(id) {
				return nil, apperr.Newf(apperr.KindInvalidInput, "item %s is not on this billing record", id)
			}
		}
		return nil, nil

	case ModeInstallment:
		if req.InstallmentID == nil {
			return nil, apperr.New(apperr.KindInvalidInput, "installment_id is required for installment payments")
		}
		in, ok := rec.Plan.Installment(*req.InstallmentID)
		if !ok {
			return nil, ErrInstallmentNotFound
		}
		if !in.Status.Open() {
			return nil, ErrInstallmentPaid
		}
		if !req.Amount.Equal(in.Amount) {
			return nil, apperr.Newf(apperr.KindInvalidAmount, "installment amount is %s, got %s",
				in.Amount.StringFixed(2), req.Amount.StringFixed(2))
		}
		return []uuid.UUID{in.ID}, nil

	case ModeInstallmentFull:
		if len(open) == 0 {
			return nil, ErrNoPlan
		}
		if !req.Amount.Equal(rec.RemainingBalance) {
			return nil, apperr.Newf(apperr.KindInvalidAmount, "full settlement must equal remaining balance %s",
				rec.RemainingBalance.StringFixed(2))
		}
		ids := make([]uuid.UUID, 0, len(open))
		for _, in := range open {
			ids = append(ids, in.ID)
		}
		return ids, nil
	}

	return nil, apperr.Newf(apperr.KindInvalidInput, "unknown payment mode %q", req.Mode)
}

// CreatePaymentPlan splits the remaining balance into months installments
// due monthly from today. A record holds at most one plan.
func (l *Ledger) CreatePaymentPlan(ctx context.Context, billingID uuid.UUID, months int) (*PaymentPlan, error) {
	if months < 1 || months > maxPlanMonths {
		return nil, apperr.Newf(apperr.KindInvalidInput, "months must be between 1 and %d, got %d", maxPlanMonths, months)
	}

	var plan *PaymentPlan
	err := l.withRecord(ctx, billingID, func(txCtx context.Context, rec *Record) error {
		if rec.Plan != nil {
			return ErrPlanExists
		}
		if rec.RemainingBalance.Sign() <= 0 {
			return ErrNothingOutstanding
		}

		parts := SplitInstallments(rec.RemainingBalance, months)
		if parts[0].Sign() <= 0 {
			return apperr.Newf(apperr.KindInvalidAmount, "balance %s is too small to split into %d installments",
				rec.RemainingBalance.StringFixed(2), months)
		}

		now := l.now()
		due := DueDates(now.In(l.loc), months)
		p := PaymentPlan{Months: months, CreatedAt: now, Installments: make([]Installment, months)}
		for i := range parts {
			p.Installments[i] = Installment{
				ID:      uuid.New(),
				Seq:     i + 1,
				Amount:  parts[i],
				DueDate: due[i].Format(calendar.DateLayout),
				Status:  InstallmentUnpaid,
			}
		}

		if err := l.repo.CreatePlan(txCtx, rec.ID, p); err != nil {
			return apperr.Unavailable("create payment plan", err)
		}
		plan = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("billing_id", billingID.String()).Int("months", months).Msg("payment plan created")
	return plan, nil
}

// MarkOverdue flags open installments due before asOf.
func (l *Ledger) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	n, err := l.repo.MarkOverdue(ctx, asOf.In(l.loc).Format(calendar.DateLayout))
	if err != nil {
		return 0, apperr.Unavailable("mark overdue installments", err)
	}
	return n, nil
}

func (l *Ledger) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := l.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("load billing record", err)
	}
	return rec, nil
}

func (l *Ledger) GetRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	rec, err := l.repo.GetRecordByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, apperr.Unavailable("load billing record", err)
	}
	return rec, nil
}

func (l *Ledger) ListRecordsByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error) {
	recs, err := l.repo.ListRecordsByPatient(ctx, patientID)
	if err != nil {
		return nil, apperr.Unavailable("list billing records", err)
	}
	return recs, nil
}

// withRecord runs fn under the ledger lock with the record row locked in a
// transaction.
func (l *Ledger) withRecord(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, rec *Record) error) error {
	return l.locker.WithLock(ctx, lock.LedgerKey(id), func(lockCtx context.Context) error {
		return l.tx.WithTx(lockCtx, func(txCtx context.Context) error {
			rec, err := l.repo.LockRecord(txCtx, id)
			if err != nil {
				return apperr.Unavailable("lock billing record", err)
			}
			return fn(txCtx, rec)
		})
	})
}

func validateMoney(v decimal.Decimal, allowZero bool) error {
	if v.Sign() < 0 || (!allowZero && v.IsZero()) {
		return apperr.Newf(apperr.KindInvalidAmount, "amount must be positive, got %s", v.String())
	}
	if v.Exponent() < -moneyPlaces && !v.Equal(v.Round(moneyPlaces)) {
		return apperr.Newf(apperr.KindInvalidAmount, "amount %s has more than %d decimal places", v.String(), moneyPlaces)
	}
	return nil
}
