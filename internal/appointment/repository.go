package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.KindNotFound, "appointment not found")
	// ErrStaleStatus is returned by conditional writes whose expected
	// status no longer matches the stored one.
	ErrStaleStatus = apperr.New(apperr.KindInvalidTransition, "appointment status changed concurrently")
)

// Repository contains all store interactions needed by the service.
// Writes that take a from status are compare-and-set on that status.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDate(ctx context.Context, date string) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListCompletedBetween(ctx context.Context, fromDate, toDate string) ([]Appointment, error)

	// LockSlot serializes writers of one (date, time) inside the current
	// transaction.
	LockSlot(ctx context.Context, date, clock string) error
	CountActiveInSlot(ctx context.Context, date, clock string) (int, error)

	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, from Status, date, clock string) (*Appointment, error)
	AssignDentist(ctx context.Context, id uuid.UUID, dentistID uuid.UUID) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, t Treatment, ps PaymentStatus) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
