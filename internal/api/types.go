package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/report"
)

type CreateAppointmentRequest struct {
	PatientID   string  `json:"patient_id"`
	DentistID   *string `json:"dentist_id,omitempty"`
	ServiceType string  `json:"service_type"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AssignDentistRequest struct {
	DentistID string `json:"dentist_id"`
}

type CompleteRequest struct {
	Procedures    []appointment.Procedure    `json:"procedures"`
	InventoryUsed []appointment.InventoryUse `json:"inventory_used"`
	Notes         string                     `json:"notes"`
}

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Mode          string          `json:"mode"`
	ItemIDs       []uuid.UUID     `json:"item_ids,omitempty"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
}

type PlanRequest struct {
	Months int `json:"months"`
}

type CapacityRequest struct {
	Capacity int `json:"capacity"`
}

type AppointmentResponse struct {
	ID            uuid.UUID              `json:"id"`
	PatientID     uuid.UUID              `json:"patient_id"`
	DentistID     *uuid.UUID             `json:"dentist_id,omitempty"`
	ServiceType   string                 `json:"service_type"`
	Date          string                 `json:"date"`
	Time          string                 `json:"time"`
	Status        string                 `json:"status"`
	Treatment     *appointment.Treatment `json:"treatment,omitempty"`
	PaymentStatus *string                `json:"payment_status,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type AvailabilityResponse struct {
	Date          string   `json:"date"`
	TakenTimes    []string `json:"taken_times"`
	IsHoliday     bool     `json:"is_holiday"`
	HolidayReason string   `json:"holiday_reason,omitempty"`
}

type BillingResponse struct {
	ID               uuid.UUID             `json:"id"`
	AppointmentID    uuid.UUID             `json:"appointment_id"`
	PatientID        uuid.UUID             `json:"patient_id"`
	Items            []billing.Item        `json:"items"`
	Transactions     []billing.Transaction `json:"transactions"`
	PaymentPlan      *billing.PaymentPlan  `json:"payment_plan,omitempty"`
	TotalAmount      decimal.Decimal       `json:"total_amount"`
	RemainingBalance decimal.Decimal       `json:"remaining_balance"`
	Status           string                `json:"status"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

type CompleteResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Billing     BillingResponse     `json:"billing"`
}

type PaymentResponse struct {
	Transaction         billing.Transaction `json:"transaction"`
	NewRemainingBalance decimal.Decimal     `json:"new_remaining_balance"`
	Status              string              `json:"status"`
}

type PolicyResponse struct {
	Hours    map[string]calendar.DayHours `json:"hours"`
	Capacity int                          `json:"capacity"`
	OffDays  []calendar.OffDay            `json:"off_days"`
}

type AgingResponse struct {
	AsOf    time.Time                  `json:"as_of"`
	Buckets map[string]decimal.Decimal `json:"buckets"`
	Total   decimal.Decimal            `json:"total"`
}

type CollectionsResponse struct {
	From     time.Time                  `json:"from"`
	To       time.Time                  `json:"to"`
	Total    decimal.Decimal            `json:"total"`
	ByMethod map[string]decimal.Decimal `json:"by_method"`
	ByMode   map[string]decimal.Decimal `json:"by_mode"`
	Count    int                        `json:"count"`
}

type ProductivityResponse struct {
	DentistID *uuid.UUID      `json:"dentist_id"`
	Completed int             `json:"completed"`
	Billed    decimal.Decimal `json:"billed"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DentistID:   a.DentistID,
		ServiceType: a.ServiceType,
		Date:        a.Date,
		Time:        a.Time,
		Status:      string(a.Status),
		Treatment:   a.Treatment,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.PaymentStatus != nil {
		ps := string(*a.PaymentStatus)
		resp.PaymentStatus = &ps
	}
	return resp
}

func toAppointmentList(as []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(as))
	for i := range as {
		out = append(out, toAppointmentResponse(&as[i]))
	}
	return out
}

func toBillingResponse(r *billing.Record) BillingResponse {
	resp := BillingResponse{
		ID:               r.ID,
		AppointmentID:    r.AppointmentID,
		PatientID:        r.PatientID,
		Items:            r.Items,
		Transactions:     r.Transactions,
		PaymentPlan:      r.Plan,
		TotalAmount:      r.TotalAmount,
		RemainingBalance: r.RemainingBalance,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if resp.Items == nil {
		resp.Items = []billing.Item{}
	}
	if resp.Transactions == nil {
		resp.Transactions = []billing.Transaction{}
	}
	return resp
}

func toPolicyResponse(p calendar.Policy) PolicyResponse {
	resp := PolicyResponse{
		Hours:    make(map[string]calendar.DayHours, len(p.Hours)),
		Capacity: p.Capacity,
		OffDays:  make([]calendar.OffDay, 0, len(p.OffDays)),
	}
	for d, h := range p.Hours {
		resp.Hours[weekdayName(time.Weekday(d))] = h
	}
	for date, reason := range p.OffDays {
		resp.OffDays = append(resp.OffDays, calendar.OffDay{Date: date, Reason: reason})
	}
	sortOffDays(resp.OffDays)
	return resp
}

func toAgingResponse(a *report.Aging) AgingResponse {
	return AgingResponse{AsOf: a.AsOf, Buckets: a.Buckets, Total: a.Total}
}

func toCollectionsResponse(c *report.Collections) CollectionsResponse {
	resp := CollectionsResponse{
		From:     c.From,
		To:       c.To,
		Total:    c.Total,
		ByMethod: c.ByMethod,
		ByMode:   make(map[string]decimal.Decimal, len(c.ByMode)),
		Count:    c.Count,
	}
	for m, v := range c.ByMode {
		resp.ByMode[string(m)] = v
	}
	return resp
}
