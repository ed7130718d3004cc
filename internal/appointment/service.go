package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventDentistAssigned        = "DENTIST_ASSIGNED"
)

var (
	ErrSlotFull          = apperr.New(apperr.KindSlotUnavailable, "slot full")
	ErrClinicClosed      = apperr.New(apperr.KindSlotUnavailable, "clinic closed")
	ErrOutsideHours      = apperr.New(apperr.KindSlotUnavailable, "outside operating hours")
	ErrInvalidTransition = apperr.New(apperr.KindInvalidTransition, "invalid status transition")
)

// PolicySource supplies the current clinic policy.
type PolicySource interface {
	Policy(ctx context.Context) (calendar.Policy, error)
}

type Service struct {
	repo   Repository
	policy PolicySource
	locker lock.Locker
	tx     db.TxRunner
}

func NewService(repo Repository, policy PolicySource, locker lock.Locker, tx db.TxRunner) *Service {
	return &Service{
		repo:   repo,
		policy: policy,
		locker: locker,
		tx:     tx,
	}
}

// TransitionError reports a disallowed status change for op.
func TransitionError(op string, from Status) error {
	return &apperr.Error{
		Kind:    apperr.KindInvalidTransition,
		Message: fmt.Sprintf("cannot %s a %s appointment", op, from),
		Err:     ErrInvalidTransition,
	}
}

// Availability returns the times on date whose active bookings reached
// capacity. Closed days report IsHoliday and no per-time occupancy.
func (s *Service) Availability(ctx context.Context, date string) (*Availability, error) {
	date, err := calendar.NormalizeDate(date)
	if err != nil {
		return nil, err
	}

	policy, err := s.policy.Policy(ctx)
	if err != nil {
		return nil, apperr.Unavailable("load clinic policy", err)
	}

	open, err := policy.IsOpen(date, "")
	if err != nil {
		return nil, err
	}
	if !open.Open {
		return &Availability{Date: date, TakenTimes: []string{}, IsHoliday: true, HolidayReason: open.Reason}, nil
	}

	appts, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, apperr.Unavailable("cannot confirm availability", err)
	}

	counts := make(map[string]int)
	for _, a := range appts {
		if a.Status.Active() {
			counts[a.Time]++
		}
	}

	taken := []string{}
	for clock, n := range counts {
		if n >= policy.Capacity {
			taken = append(taken, clock)
		}
	}
	sort.Strings(taken)

	return &Availability{Date: date, TakenTimes: taken}, nil
}

// Book creates a pending appointment. Capacity is re-checked under the slot
// lock and inside the write transaction.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "patient_id is required")
	}
	req.ServiceType = strings.TrimSpace(req.ServiceType)
	if req.ServiceType == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "service_type is required")
	}

	date, clock, policy, err := s.admissible(ctx, req.Date, req.Time)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   req.PatientID,
		DentistID:   req.DentistID,
		ServiceType: req.ServiceType,
		Date:        date,
		Time:        clock,
		Status:      StatusPending,
	}

	err = s.locker.WithLock(ctx, lock.SlotKey(date, clock), func(lockCtx context.Context) error {
		return s.tx.WithTx(lockCtx, func(txCtx context.Context) error {
			if err := s.claimSeat(txCtx, date, clock, policy.Capacity); err != nil {
				return err
			}
			if err := s.repo.CreateAppointment(txCtx, appt); err != nil {
				return apperr.Unavailable("create appointment", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("appointment_id", appt.ID.String()).
		Str("date", date).Str("time", clock).Msg("appointment booked")
	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"patient_id": appt.PatientID.String(),
		"date":       date,
		"time":       clock,
	})

	return appt, nil
}

// Reschedule moves an appointment to another slot and resets it to pending.
// Moving to the current slot is a no-op.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date, clock string) (*Appointment, error) {
	appt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(StatusPending) {
		return nil, TransitionError("reschedule", appt.Status)
	}

	date, err = calendar.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	clock, err = calendar.NormalizeClock(clock)
	if err != nil {
		return nil, err
	}
	if appt.Date == date && appt.Time == clock {
		return appt, nil
	}

	_, _, policy, err := s.admissible(ctx, date, clock)
	if err != nil {
		return nil, err
	}

	fromDate, fromTime := appt.Date, appt.Time
	var moved *Appointment

	err = s.locker.WithLock(ctx, lock.SlotKey(date, clock), func(lockCtx context.Context) error {
		return s.tx.WithTx(lockCtx, func(txCtx context.Context) error {
			if err := s.claimSeat(txCtx, date, clock, policy.Capacity); err != nil {
				return err
			}
			current, err := s.get(txCtx, id)
			if err != nil {
				return err
			}
			if !current.Status.CanTransitionTo(StatusPending) {
				return TransitionError("reschedule", current.Status)
			}
			moved, err = s.repo.MoveAppointment(txCtx, id, current.Status, date, clock)
			if err != nil {
				return apperr.Unavailable("move appointment", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("appointment_id", id.String()).
		Str("from", fromDate+" "+fromTime).Str("to", date+" "+clock).Msg("appointment rescheduled")
	s.logEvent(ctx, id, EventAppointmentRescheduled, map[string]any{
		"from_date": fromDate,
		"from_time": fromTime,
		"to_date":   date,
		"to_time":   clock,
	})

	return moved, nil
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "confirm", StatusConfirmed, EventAppointmentConfirmed)
}

// Cancel frees the appointment's seat. Billing is not touched.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, "cancel", StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) AssignDentist(ctx context.Context, id, dentistID uuid.UUID) (*Appointment, error) {
	if dentistID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "dentist_id is required")
	}
	appt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.Active() {
		return nil, TransitionError("assign a dentist to", appt.Status)
	}

	updated, err := s.repo.AssignDentist(ctx, id, dentistID)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, TransitionError("assign a dentist to", StatusCompleted)
		}
		return nil, apperr.Unavailable("assign dentist", err)
	}

	s.logEvent(ctx, id, EventDentistAssigned, map[string]any{"dentist_id": dentistID.String()})
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.get(ctx, id)
}

func (s *Service) ListByDate(ctx context.Context, date string) ([]Appointment, error) {
	date, err := calendar.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, apperr.Unavailable("list appointments by date", err)
	}
	return appts, nil
}

// ListByPatient retrieves appointments for a specific patient
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, apperr.Unavailable("list appointments by patient", err)
	}
	return appts, nil
}

// LogEvent records an audit event for the appointment. Failures are logged
// and never surface to the caller.
func (s *Service) LogEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	s.logEvent(ctx, appointmentID, eventType, payload)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, op string, to Status, event string) (*Appointment, error) {
	appt, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(to) || appt.Status == to {
		return nil, TransitionError(op, appt.Status)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, err
		}
		return nil, apperr.Unavailable(op+" appointment", err)
	}

	log.Ctx(ctx).Info().Str("appointment_id", id.String()).
		Str("from", string(appt.Status)).Str("to", string(to)).Msg("appointment status changed")
	s.logEvent(ctx, id, event, map[string]any{"from": string(appt.Status)})

	return updated, nil
}

// admissible normalizes the target slot and checks it against the policy.
func (s *Service) admissible(ctx context.Context, date, clock string) (string, string, calendar.Policy, error) {
	date, err := calendar.NormalizeDate(date)
	if err != nil {
		return "", "", calendar.Policy{}, err
	}
	clock, err = calendar.NormalizeClock(clock)
	if err != nil {
		return "", "", calendar.Policy{}, err
	}

	policy, err := s.policy.Policy(ctx)
	if err != nil {
		return "", "", calendar.Policy{}, apperr.Unavailable("load clinic policy", err)
	}

	open, err := policy.IsOpen(date, clock)
	if err != nil {
		return "", "", calendar.Policy{}, err
	}
	if !open.Open {
		return "", "", calendar.Policy{}, closedError(date, open.Reason)
	}

	inHours, err := policy.InHours(date, clock)
	if err != nil {
		return "", "", calendar.Policy{}, err
	}
	if !inHours {
		return "", "", calendar.Policy{}, ErrOutsideHours
	}

	return date, clock, policy, nil
}

// claimSeat must run inside a transaction holding the slot.
func (s *Service) claimSeat(ctx context.Context, date, clock string, capacity int) error {
	if err := s.repo.LockSlot(ctx, date, clock); err != nil {
		return apperr.Unavailable("lock slot", err)
	}
	n, err := s.repo.CountActiveInSlot(ctx, date, clock)
	if err != nil {
		return apperr.Unavailable("count slot occupancy", err)
	}
	if n >= capacity {
		return ErrSlotFull
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("load appointment", err)
	}
	return appt, nil
}

func closedError(date, reason string) error {
	msg := "clinic closed"
	if reason != "" {
		msg += ": " + reason
	} else if d, err := time.Parse(calendar.DateLayout, date); err == nil {
		msg += " on " + d.Weekday().String()
	}
	return &apperr.Error{Kind: apperr.KindSlotUnavailable, Message: msg, Err: ErrClinicClosed}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("event", eventType).
			Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}
