package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, dentist_id, service_type, to_char(appt_date, 'YYYY-MM-DD'), appt_time,
	status, treatment, payment_status, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var treatment []byte
	var paymentStatus *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DentistID,
		&a.ServiceType,
		&a.Date,
		&a.Time,
		&a.Status,
		&treatment,
		&paymentStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if len(treatment) > 0 {
		var t Treatment
		if err := json.Unmarshal(treatment, &t); err != nil {
			return nil, fmt.Errorf("decode treatment of %s: %w", a.ID, err)
		}
		a.Treatment = &t
	}
	if paymentStatus != nil {
		ps := PaymentStatus(*paymentStatus)
		a.PaymentStatus = &ps
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// conditionalResult turns a missing row from a compare-and-set update into
// either NotFound or a stale status.
func (r *PgRepository) conditionalResult(ctx context.Context, id uuid.UUID, a *Appointment, err error) (*Appointment, error) {
	if !errors.Is(err, ErrAppointmentNotFound) {
		return a, err
	}
	if _, getErr := r.GetAppointmentByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStaleStatus
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDate(ctx context.Context, date string) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date = $1::date
		ORDER BY appt_time, created_at
	`, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appt_date DESC, appt_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListCompletedBetween(ctx context.Context, fromDate, toDate string) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'completed'
		  AND appt_date >= $1::date
		  AND appt_date <= $2::date
		ORDER BY appt_date, appt_time
	`, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) LockSlot(ctx context.Context, date, clock string) error {
	if !db.InTx(ctx) {
		return errors.New("lock slot: no transaction in context")
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lock.SlotKey(date, clock))
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (r *PgRepository) CountActiveInSlot(ctx context.Context, date, clock string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE appt_date = $1::date
		  AND appt_time = $2
		  AND status IN ('pending', 'confirmed')
	`, date, clock).Scan(&n)
	return n, err
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, dentist_id, service_type, appt_date, appt_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DentistID, a.ServiceType, a.Date, a.Time, a.Status)

	created, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *created
	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	a, err := scanAppointment(row)
	return r.conditionalResult(ctx, id, a, err)
}

func (r *PgRepository) MoveAppointment(ctx context.Context, id uuid.UUID, from Status, date, clock string) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2::date,
		    appt_time = $3,
		    status = 'pending',
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentColumns,
		id, date, clock, from)

	a, err := scanAppointment(row)
	return r.conditionalResult(ctx, id, a, err)
}

func (r *PgRepository) AssignDentist(ctx context.Context, id uuid.UUID, dentistID uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET dentist_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns,
		id, dentistID)

	a, err := scanAppointment(row)
	return r.conditionalResult(ctx, id, a, err)
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, t Treatment, ps PaymentStatus) (*Appointment, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode treatment: %w", err)
	}

	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    treatment = $2,
		    payment_status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentColumns,
		id, payload, string(ps), from)

	a, err := scanAppointment(row)
	return r.conditionalResult(ctx, id, a, err)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
