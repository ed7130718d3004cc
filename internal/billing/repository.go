package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var (
	ErrRecordNotFound      = apperr.New(apperr.KindNotFound, "billing record not found")
	ErrInstallmentNotFound = apperr.New(apperr.KindNotFound, "installment not found")
	// ErrBalanceConflict means the balance moved between read and write.
	// The caller must re-read the record before trying again.
	ErrBalanceConflict = apperr.New(apperr.KindUnavailable, "billing balance changed concurrently")
)

// Repository persists billing records and their embedded entities.
type Repository interface {
	CreateRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	GetRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error)
	ListRecordsByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error)

	// LockRecord loads the record and holds it until the current
	// transaction ends.
	LockRecord(ctx context.Context, id uuid.UUID) (*Record, error)

	// AppendTransaction stores t and moves the balance from expected to
	// newBalance. It fails with ErrBalanceConflict when the stored balance
	// is not expected.
	AppendTransaction(ctx context.Context, t Transaction, expected, newBalance decimal.Decimal, status RecordStatus) error
	MarkInstallmentsPaid(ctx context.Context, billingID uuid.UUID, ids []uuid.UUID, paidAt time.Time, method string) error
	CreatePlan(ctx context.Context, billingID uuid.UUID, plan PaymentPlan) error
	MarkOverdue(ctx context.Context, asOfDate string) (int, error)

	// ListOutstanding returns record headers with a positive balance.
	ListOutstanding(ctx context.Context) ([]Record, error)
	ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]Transaction, error)
}
