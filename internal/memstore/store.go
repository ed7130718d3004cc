// Package memstore is an in-process implementation of every repository and
// of the transaction runner. Transactions are serialized by one mutex and
// rolled back by restoring a snapshot. It backs STORE=memory and the tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
)

type txKey struct{}

type state struct {
	appts   map[uuid.UUID]appointment.Appointment
	events  []appointment.EventLog
	records map[uuid.UUID]billing.Record
	byAppt  map[uuid.UUID]uuid.UUID
	stock   map[uuid.UUID]int
	policy  calendar.Policy
}

func (s state) clone() state {
	out := state{
		appts:   make(map[uuid.UUID]appointment.Appointment, len(s.appts)),
		events:  append([]appointment.EventLog(nil), s.events...),
		records: make(map[uuid.UUID]billing.Record, len(s.records)),
		byAppt:  make(map[uuid.UUID]uuid.UUID, len(s.byAppt)),
		stock:   make(map[uuid.UUID]int, len(s.stock)),
		policy:  s.policy.Clone(),
	}
	for k, v := range s.appts {
		out.appts[k] = v
	}
	for k, v := range s.records {
		out.records[k] = cloneRecord(v)
	}
	for k, v := range s.byAppt {
		out.byAppt[k] = v
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	return out
}

type Store struct {
	mu   sync.Mutex
	st   state
	now  func() time.Time
	fail map[string]error
	seq  int64
}

func New(policy calendar.Policy) *Store {
	return &Store{
		st: state{
			appts:   map[uuid.UUID]appointment.Appointment{},
			records: map[uuid.UUID]billing.Record{},
			byAppt:  map[uuid.UUID]uuid.UUID{},
			stock:   map[uuid.UUID]int{},
			policy:  policy.Clone(),
		},
		now:  time.Now,
		fail: map[string]error{},
	}
}

// SetClock overrides the time source used for created/updated stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes every later call of op return err until ClearFailures.
// op is the method name, e.g. "ListByDate".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = map[string]error{}
}

// SetStock sets the stock of an inventory item, creating it if needed.
func (s *Store) SetStock(itemID uuid.UUID, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.stock[itemID] = stock
}

func (s *Store) Stock(itemID uuid.UUID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.st.stock[itemID]
	return n, ok
}

// Events returns a copy of the appointment audit log.
func (s *Store) Events() []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appointment.EventLog(nil), s.st.events...)
}

// Put stores a as is. It is meant for fixtures.
func (s *Store) Put(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.appts[a.ID] = a
}

// PutRecord stores r as is. It is meant for fixtures.
func (s *Store) PutRecord(r billing.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.records[r.ID] = cloneRecord(r)
	s.st.byAppt[r.AppointmentID] = r.ID
}

// WithTx runs fn with exclusive access to the store. State is restored when
// fn fails. FailOn("Begin") and FailOn("Commit") fail the transaction itself.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail["Begin"]; err != nil {
		return apperr.Unavailable("begin tx", err)
	}

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = snapshot
		return err
	}
	if err := s.fail["Commit"]; err != nil {
		s.st = snapshot
		return apperr.Unavailable("commit tx", err)
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// enter takes the store mutex unless ctx already runs inside WithTx.
func (s *Store) enter(ctx context.Context, op string) (func(), error) {
	release := func() {}
	if !inTx(ctx) {
		s.mu.Lock()
		release = s.mu.Unlock
	}
	if err := s.fail[op]; err != nil {
		release()
		return func() {}, err
	}
	return release, nil
}

// Calendar store

func (s *Store) GetPolicy(ctx context.Context) (calendar.Policy, error) {
	release, err := s.enter(ctx, "GetPolicy")
	if err != nil {
		return calendar.Policy{}, err
	}
	defer release()
	return s.st.policy.Clone(), nil
}

func (s *Store) SaveHours(ctx context.Context, day time.Weekday, h calendar.DayHours) error {
	release, err := s.enter(ctx, "SaveHours")
	if err != nil {
		return err
	}
	defer release()
	s.st.policy.Hours[day] = h
	return nil
}

func (s *Store) SetCapacity(ctx context.Context, capacity int) error {
	release, err := s.enter(ctx, "SetCapacity")
	if err != nil {
		return err
	}
	defer release()
	s.st.policy.Capacity = capacity
	return nil
}

func (s *Store) AddOffDay(ctx context.Context, off calendar.OffDay) error {
	release, err := s.enter(ctx, "AddOffDay")
	if err != nil {
		return err
	}
	defer release()
	s.st.policy.OffDays[off.Date] = off.Reason
	return nil
}

func (s *Store) RemoveOffDay(ctx context.Context, date string) error {
	release, err := s.enter(ctx, "RemoveOffDay")
	if err != nil {
		return err
	}
	defer release()
	if _, ok := s.st.policy.OffDays[date]; !ok {
		return calendar.ErrOffDayNotFound
	}
	delete(s.st.policy.OffDays, date)
	return nil
}

// Inventory

func (s *Store) AdjustStock(ctx context.Context, itemID uuid.UUID, delta int) error {
	release, err := s.enter(ctx, "AdjustStock")
	if err != nil {
		return err
	}
	defer release()

	n, ok := s.st.stock[itemID]
	if !ok {
		return inventory.ErrItemNotFound
	}
	if n+delta < 0 {
		return inventory.ErrInsufficientStock
	}
	s.st.stock[itemID] = n + delta
	return nil
}

// Upsert creates the item or resets its stock.
func (s *Store) Upsert(ctx context.Context, it inventory.Item) error {
	release, err := s.enter(ctx, "Upsert")
	if err != nil {
		return err
	}
	defer release()
	s.st.stock[it.ID] = it.Stock
	return nil
}

var errNoTx = errors.New("memstore: operation requires a transaction")

// Appointment repository

func (s *Store) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	release, err := s.enter(ctx, "GetAppointmentByID")
	if err != nil {
		return nil, err
	}
	defer release()

	a, ok := s.st.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Store) ListByDate(ctx context.Context, date string) ([]appointment.Appointment, error) {
	release, err := s.enter(ctx, "ListByDate")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []appointment.Appointment
	for _, a := range s.st.appts {
		if a.Date == date {
			out = append(out, a)
		}
	}
	sortAppointments(out, false)
	return out, nil
}

func (s *Store) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	release, err := s.enter(ctx, "ListByPatient")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []appointment.Appointment
	for _, a := range s.st.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sortAppointments(out, true)

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCompletedBetween(ctx context.Context, fromDate, toDate string) ([]appointment.Appointment, error) {
	release, err := s.enter(ctx, "ListCompletedBetween")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []appointment.Appointment
	for _, a := range s.st.appts {
		if a.Status == appointment.StatusCompleted && a.Date >= fromDate && a.Date <= toDate {
			out = append(out, a)
		}
	}
	sortAppointments(out, false)
	return out, nil
}

func (s *Store) LockSlot(ctx context.Context, date, clock string) error {
	if !inTx(ctx) {
		return errNoTx
	}
	release, err := s.enter(ctx, "LockSlot")
	if err != nil {
		return err
	}
	release()
	return nil
}

func (s *Store) CountActiveInSlot(ctx context.Context, date, clock string) (int, error) {
	release, err := s.enter(ctx, "CountActiveInSlot")
	if err != nil {
		return 0, err
	}
	defer release()

	n := 0
	for _, a := range s.st.appts {
		if a.Date == date && a.Time == clock && a.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateAppointment(ctx context.Context, a *appointment.Appointment) error {
	release, err := s.enter(ctx, "CreateAppointment")
	if err != nil {
		return err
	}
	defer release()

	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.st.appts[a.ID] = *a
	return nil
}

// update applies fn to the stored appointment when its status is one of
// from. An empty from accepts any active status.
func (s *Store) update(ctx context.Context, op string, id uuid.UUID, from []appointment.Status, fn func(a *appointment.Appointment)) (*appointment.Appointment, error) {
	release, err := s.enter(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	a, ok := s.st.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	matched := false
	for _, st := range from {
		if a.Status == st {
			matched = true
		}
	}
	if !matched {
		return nil, appointment.ErrStaleStatus
	}

	fn(&a)
	a.UpdatedAt = s.now()
	s.st.appts[id] = a
	return &a, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	return s.update(ctx, "UpdateStatus", id, []appointment.Status{from}, func(a *appointment.Appointment) {
		a.Status = to
	})
}

func (s *Store) MoveAppointment(ctx context.Context, id uuid.UUID, from appointment.Status, date, clock string) (*appointment.Appointment, error) {
	return s.update(ctx, "MoveAppointment", id, []appointment.Status{from}, func(a *appointment.Appointment) {
		a.Date = date
		a.Time = clock
		a.Status = appointment.StatusPending
	})
}

func (s *Store) AssignDentist(ctx context.Context, id uuid.UUID, dentistID uuid.UUID) (*appointment.Appointment, error) {
	active := []appointment.Status{appointment.StatusPending, appointment.StatusConfirmed}
	return s.update(ctx, "AssignDentist", id, active, func(a *appointment.Appointment) {
		d := dentistID
		a.DentistID = &d
	})
}

func (s *Store) CompleteAppointment(ctx context.Context, id uuid.UUID, from appointment.Status, t appointment.Treatment, ps appointment.PaymentStatus) (*appointment.Appointment, error) {
	return s.update(ctx, "CompleteAppointment", id, []appointment.Status{from}, func(a *appointment.Appointment) {
		tr := t
		p := ps
		a.Status = appointment.StatusCompleted
		a.Treatment = &tr
		a.PaymentStatus = &p
	})
}

func (s *Store) InsertEvent(ctx context.Context, ev appointment.EventLog) error {
	release, err := s.enter(ctx, "InsertEvent")
	if err != nil {
		return err
	}
	defer release()

	s.seq++
	ev.ID = s.seq
	s.st.events = append(s.st.events, ev)
	return nil
}

func sortAppointments(as []appointment.Appointment, desc bool) {
	sort.Slice(as, func(i, j int) bool {
		ki, kj := as[i].Date+" "+as[i].Time, as[j].Date+" "+as[j].Time
		if ki != kj {
			if desc {
				return ki > kj
			}
			return ki < kj
		}
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID.String() < as[j].ID.String()
	})
}

// Billing repository

func (s *Store) CreateRecord(ctx context.Context, r *billing.Record) error {
	release, err := s.enter(ctx, "CreateRecord")
	if err != nil {
		return err
	}
	defer release()

	if _, dup := s.st.byAppt[r.AppointmentID]; dup {
		return errors.New("memstore: billing record already exists for appointment")
	}
	s.st.records[r.ID] = cloneRecord(*r)
	s.st.byAppt[r.AppointmentID] = r.ID
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*billing.Record, error) {
	release, err := s.enter(ctx, "GetRecord")
	if err != nil {
		return nil, err
	}
	defer release()

	r, ok := s.st.records[id]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	out := cloneRecord(r)
	return &out, nil
}

func (s *Store) GetRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*billing.Record, error) {
	release, err := s.enter(ctx, "GetRecordByAppointment")
	if err != nil {
		return nil, err
	}
	defer release()

	id, ok := s.st.byAppt[appointmentID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	out := cloneRecord(s.st.records[id])
	return &out, nil
}

func (s *Store) ListRecordsByPatient(ctx context.Context, patientID uuid.UUID) ([]billing.Record, error) {
	release, err := s.enter(ctx, "ListRecordsByPatient")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []billing.Record
	for _, r := range s.st.records {
		if r.PatientID == patientID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) LockRecord(ctx context.Context, id uuid.UUID) (*billing.Record, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	return s.GetRecord(ctx, id)
}

func (s *Store) AppendTransaction(ctx context.Context, t billing.Transaction, expected, newBalance decimal.Decimal, status billing.RecordStatus) error {
	release, err := s.enter(ctx, "AppendTransaction")
	if err != nil {
		return err
	}
	defer release()

	r, ok := s.st.records[t.BillingID]
	if !ok {
		return billing.ErrRecordNotFound
	}
	if !r.RemainingBalance.Equal(expected) {
		return billing.ErrBalanceConflict
	}

	r = cloneRecord(r)
	r.RemainingBalance = newBalance
	r.Status = status
	r.Transactions = append(r.Transactions, t)
	r.UpdatedAt = s.now()
	s.st.records[r.ID] = r
	return nil
}

func (s *Store) MarkInstallmentsPaid(ctx context.Context, billingID uuid.UUID, ids []uuid.UUID, paidAt time.Time, method string) error {
	release, err := s.enter(ctx, "MarkInstallmentsPaid")
	if err != nil {
		return err
	}
	defer release()

	r, ok := s.st.records[billingID]
	if !ok {
		return billing.ErrRecordNotFound
	}
	r = cloneRecord(r)
	for _, id := range ids {
		in, ok := r.Plan.Installment(id)
		if !ok || !in.Status.Open() {
			return billing.ErrInstallmentNotFound
		}
		at, m := paidAt, method
		in.Status = billing.InstallmentPaid
		in.PaidAt = &at
		in.PaidMethod = &m
	}
	s.st.records[billingID] = r
	return nil
}

func (s *Store) CreatePlan(ctx context.Context, billingID uuid.UUID, plan billing.PaymentPlan) error {
	release, err := s.enter(ctx, "CreatePlan")
	if err != nil {
		return err
	}
	defer release()

	r, ok := s.st.records[billingID]
	if !ok {
		return billing.ErrRecordNotFound
	}
	if r.Plan != nil {
		return billing.ErrPlanExists
	}
	r = cloneRecord(r)
	p := plan
	p.Installments = append([]billing.Installment(nil), plan.Installments...)
	r.Plan = &p
	r.UpdatedAt = s.now()
	s.st.records[billingID] = r
	return nil
}

func (s *Store) MarkOverdue(ctx context.Context, asOfDate string) (int, error) {
	release, err := s.enter(ctx, "MarkOverdue")
	if err != nil {
		return 0, err
	}
	defer release()

	n := 0
	for id, r := range s.st.records {
		if r.Plan == nil {
			continue
		}
		changed := false
		r = cloneRecord(r)
		for i := range r.Plan.Installments {
			in := &r.Plan.Installments[i]
			if in.Status == billing.InstallmentUnpaid && in.DueDate < asOfDate {
				in.Status = billing.InstallmentOverdue
				changed = true
				n++
			}
		}
		if changed {
			s.st.records[id] = r
		}
	}
	return n, nil
}

func (s *Store) ListOutstanding(ctx context.Context) ([]billing.Record, error) {
	release, err := s.enter(ctx, "ListOutstanding")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []billing.Record
	for _, r := range s.st.records {
		if r.RemainingBalance.Sign() > 0 {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]billing.Transaction, error) {
	release, err := s.enter(ctx, "ListTransactionsBetween")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []billing.Transaction
	for _, r := range s.st.records {
		for _, t := range r.Transactions {
			if !t.Date.Before(from) && t.Date.Before(to) {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func cloneRecord(r billing.Record) billing.Record {
	out := r
	out.Items = append([]billing.Item(nil), r.Items...)
	out.Transactions = append([]billing.Transaction(nil), r.Transactions...)
	if r.Plan != nil {
		p := *r.Plan
		p.Installments = append([]billing.Installment(nil), r.Plan.Installments...)
		out.Plan = &p
	}
	return out
}
