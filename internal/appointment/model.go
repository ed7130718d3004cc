package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the complete set of legal status changes. pending->pending
// is the reschedule edge.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPending:   true,
		StatusConfirmed: true,
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusPending:   true,
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", apperr.Newf(apperr.KindInvalidInput, "unknown appointment status %q", s)
	}
	return st, nil
}

func (s Status) CanTransitionTo(next Status) bool {
	return transitions[s][next]
}

// Active statuses occupy slot capacity.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type Procedure struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type InventoryUse struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int       `json:"quantity"`
}

// Treatment is attached once, when the appointment completes.
type Treatment struct {
	Procedures    []Procedure     `json:"procedures"`
	InventoryUsed []InventoryUse  `json:"inventory_used"`
	Notes         string          `json:"notes,omitempty"`
	TotalBill     decimal.Decimal `json:"total_bill"`
	CompletedAt   time.Time       `json:"completed_at"`
}

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DentistID     *uuid.UUID
	ServiceType   string
	Date          string // YYYY-MM-DD
	Time          string // HH:MM
	Status        Status
	Treatment     *Treatment
	PaymentStatus *PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Availability is the occupancy of one date.
type Availability struct {
	Date          string
	TakenTimes    []string // sorted
	IsHoliday     bool
	HolidayReason string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type BookRequest struct {
	PatientID   uuid.UUID
	DentistID   *uuid.UUID
	ServiceType string
	Date        string
	Time        string
}
