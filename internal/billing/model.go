package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type RecordStatus string

const (
	RecordUnpaid  RecordStatus = "unpaid"
	RecordPartial RecordStatus = "partial"
	RecordPaid    RecordStatus = "paid"
)

type Mode string

const (
	ModeProcedure       Mode = "procedure"
	ModeInstallment     Mode = "installment"
	ModeInstallmentFull Mode = "installment_full"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeProcedure, ModeInstallment, ModeInstallmentFull:
		return m, nil
	}
	return "", apperr.Newf(apperr.KindInvalidInput, "unknown payment mode %q", s)
}

type InstallmentStatus string

const (
	InstallmentUnpaid  InstallmentStatus = "unpaid"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Open installments still expect a payment.
func (s InstallmentStatus) Open() bool {
	return s == InstallmentUnpaid || s == InstallmentOverdue
}

type Item struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Transaction is a payment event. It is never edited once recorded.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	BillingID     uuid.UUID       `json:"billing_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Method        string          `json:"method"`
	Mode          Mode            `json:"mode"`
	ItemIDs       []uuid.UUID     `json:"item_ids,omitempty"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
}

type Installment struct {
	ID         uuid.UUID         `json:"id"`
	Seq        int               `json:"seq"`
	Amount     decimal.Decimal   `json:"amount"`
	DueDate    string            `json:"due_date"` // YYYY-MM-DD
	Status     InstallmentStatus `json:"status"`
	PaidAt     *time.Time        `json:"paid_at,omitempty"`
	PaidMethod *string           `json:"paid_method,omitempty"`
}

type PaymentPlan struct {
	Months       int           `json:"months"`
	CreatedAt    time.Time     `json:"created_at"`
	Installments []Installment `json:"installments"`
}

// OpenInstallments returns the installments still awaiting payment.
func (p *PaymentPlan) OpenInstallments() []Installment {
	if p == nil {
		return nil
	}
	var out []Installment
	for _, in := range p.Installments {
		if in.Status.Open() {
			out = append(out, in)
		}
	}
	return out
}

func (p *PaymentPlan) Installment(id uuid.UUID) (*Installment, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Installments {
		if p.Installments[i].ID == id {
			return &p.Installments[i], true
		}
	}
	return nil, false
}

// Record is the ledger of one completed appointment. RemainingBalance is
// the authoritative open amount; it is kept equal to TotalAmount minus the
// sum of Transactions by every mutation.
type Record struct {
	ID               uuid.UUID
	AppointmentID    uuid.UUID
	PatientID        uuid.UUID
	Items            []Item
	Transactions     []Transaction
	Plan             *PaymentPlan
	TotalAmount      decimal.Decimal
	RemainingBalance decimal.Decimal
	Status           RecordStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r *Record) PaidAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range r.Transactions {
		sum = sum.Add(t.Amount)
	}
	return sum
}

// CheckBalance verifies TotalAmount - sum(transactions) == RemainingBalance.
func (r *Record) CheckBalance() error {
	want := r.TotalAmount.Sub(r.PaidAmount())
	if !want.Equal(r.RemainingBalance) {
		return fmt.Errorf("billing %s: remaining balance %s, transactions imply %s",
			r.ID, r.RemainingBalance.StringFixed(2), want.StringFixed(2))
	}
	return nil
}

func (r *Record) HasItem(id uuid.UUID) bool {
	for _, it := range r.Items {
		if it.ID == id {
			return true
		}
	}
	return false
}

func statusFor(total, remaining decimal.Decimal) RecordStatus {
	switch {
	case remaining.IsZero():
		return RecordPaid
	case remaining.Equal(total):
		return RecordUnpaid
	default:
		return RecordPartial
	}
}
