package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const recordColumns = `
	id, appointment_id, patient_id, total_amount, remaining_balance, status,
	plan_months, plan_created_at, created_at, updated_at`

// Helpers

func scanRecordHeader(row pgx.Row) (*Record, error) {
	var r Record
	var planMonths *int
	var planCreatedAt *time.Time

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.PatientID,
		&r.TotalAmount,
		&r.RemainingBalance,
		&r.Status,
		&planMonths,
		&planCreatedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if planMonths != nil {
		r.Plan = &PaymentPlan{Months: *planMonths}
		if planCreatedAt != nil {
			r.Plan.CreatedAt = *planCreatedAt
		}
	}
	return &r, nil
}

// loadChildren fills items, transactions and installments of r.
func (p *PgRepository) loadChildren(ctx context.Context, r *Record) error {
	q := db.Conn(ctx, p.pool)

	rows, err := q.Query(ctx, `
		SELECT id, name, price
		FROM billing_items
		WHERE billing_id = $1
		ORDER BY position
	`, r.ID)
	if err != nil {
		return fmt.Errorf("query billing items: %w", err)
	}
	r.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.Name, &it.Price)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("scan billing items: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT id, billing_id, amount, paid_at, method, mode, COALESCE(item_ids, '{}'), installment_id
		FROM billing_transactions
		WHERE billing_id = $1
		ORDER BY paid_at, id
	`, r.ID)
	if err != nil {
		return fmt.Errorf("query billing transactions: %w", err)
	}
	r.Transactions, err = pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return fmt.Errorf("scan billing transactions: %w", err)
	}

	if r.Plan == nil {
		return nil
	}

	rows, err = q.Query(ctx, `
		SELECT id, seq, amount, to_char(due_date, 'YYYY-MM-DD'), status, paid_at, paid_method
		FROM billing_installments
		WHERE billing_id = $1
		ORDER BY seq
	`, r.ID)
	if err != nil {
		return fmt.Errorf("query installments: %w", err)
	}
	r.Plan.Installments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Installment, error) {
		var in Installment
		err := row.Scan(&in.ID, &in.Seq, &in.Amount, &in.DueDate, &in.Status, &in.PaidAt, &in.PaidMethod)
		return in, err
	})
	if err != nil {
		return fmt.Errorf("scan installments: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.CollectableRow) (Transaction, error) {
	var t Transaction
	var itemIDs []string

	if err := row.Scan(&t.ID, &t.BillingID, &t.Amount, &t.Date, &t.Method, &t.Mode, &itemIDs, &t.InstallmentID); err != nil {
		return t, err
	}
	for _, s := range itemIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return t, fmt.Errorf("transaction %s item id %q: %w", t.ID, s, err)
		}
		t.ItemIDs = append(t.ItemIDs, id)
	}
	return t, nil
}

func (p *PgRepository) getFull(ctx context.Context, where string, arg any) (*Record, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT `+recordColumns+` FROM billing_records WHERE `+where, arg)
	r, err := scanRecordHeader(row)
	if err != nil {
		return nil, err
	}
	if err := p.loadChildren(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Interface methods

func (p *PgRepository) CreateRecord(ctx context.Context, r *Record) error {
	q := db.Conn(ctx, p.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO billing_records (id, appointment_id, patient_id, total_amount, remaining_balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, r.ID, r.AppointmentID, r.PatientID, r.TotalAmount, r.RemainingBalance, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert billing record: %w", err)
	}

	for i, it := range r.Items {
		_, err := q.Exec(ctx, `
			INSERT INTO billing_items (id, billing_id, name, price, position)
			VALUES ($1, $2, $3, $4, $5)
		`, it.ID, r.ID, it.Name, it.Price, i)
		if err != nil {
			return fmt.Errorf("insert billing item: %w", err)
		}
	}
	return nil
}

func (p *PgRepository) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return p.getFull(ctx, `id = $1`, id)
}

func (p *PgRepository) GetRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	return p.getFull(ctx, `appointment_id = $1`, appointmentID)
}

func (p *PgRepository) ListRecordsByPatient(ctx context.Context, patientID uuid.UUID) ([]Record, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+recordColumns+`
		FROM billing_records
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	headers, err := collectHeaders(rows)
	if err != nil {
		return nil, err
	}
	for i := range headers {
		if err := p.loadChildren(ctx, &headers[i]); err != nil {
			return nil, err
		}
	}
	return headers, nil
}

func (p *PgRepository) LockRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	if !db.InTx(ctx) {
		return nil, errors.New("lock billing record: no transaction in context")
	}
	return p.getFull(ctx, `id = $1 FOR UPDATE`, id)
}

func (p *PgRepository) AppendTransaction(ctx context.Context, t Transaction, expected, newBalance decimal.Decimal, status RecordStatus) error {
	q := db.Conn(ctx, p.pool)

	tag, err := q.Exec(ctx, `
		UPDATE billing_records
		SET remaining_balance = $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND remaining_balance = $4
	`, t.BillingID, newBalance, status, expected)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}

	var itemIDs []string
	for _, id := range t.ItemIDs {
		itemIDs = append(itemIDs, id.String())
	}

	_, err = q.Exec(ctx, `
		INSERT INTO billing_transactions (id, billing_id, amount, paid_at, method, mode, item_ids, installment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.BillingID, t.Amount, t.Date, t.Method, t.Mode, itemIDs, t.InstallmentID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PgRepository) MarkInstallmentsPaid(ctx context.Context, billingID uuid.UUID, ids []uuid.UUID, paidAt time.Time, method string) error {
	q := db.Conn(ctx, p.pool)
	for _, id := range ids {
		tag, err := q.Exec(ctx, `
			UPDATE billing_installments
			SET status = 'paid',
			    paid_at = $3,
			    paid_method = $4
			WHERE id = $1
			  AND billing_id = $2
			  AND status IN ('unpaid', 'overdue')
		`, id, billingID, paidAt, method)
		if err != nil {
			return fmt.Errorf("mark installment paid: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInstallmentNotFound
		}
	}
	return nil
}

func (p *PgRepository) CreatePlan(ctx context.Context, billingID uuid.UUID, plan PaymentPlan) error {
	q := db.Conn(ctx, p.pool)

	tag, err := q.Exec(ctx, `
		UPDATE billing_records
		SET plan_months = $2,
		    plan_created_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND plan_months IS NULL
	`, billingID, plan.Months, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanExists
	}

	for _, in := range plan.Installments {
		_, err := q.Exec(ctx, `
			INSERT INTO billing_installments (id, billing_id, seq, amount, due_date, status, created_at)
			VALUES ($1, $2, $3, $4, $5::date, $6, $7)
		`, in.ID, billingID, in.Seq, in.Amount, in.DueDate, in.Status, plan.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert installment: %w", err)
		}
	}
	return nil
}

func (p *PgRepository) MarkOverdue(ctx context.Context, asOfDate string) (int, error) {
	tag, err := db.Conn(ctx, p.pool).Exec(ctx, `
		UPDATE billing_installments
		SET status = 'overdue'
		WHERE status = 'unpaid'
		  AND due_date < $1::date
	`, asOfDate)
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PgRepository) ListOutstanding(ctx context.Context) ([]Record, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+recordColumns+`
		FROM billing_records
		WHERE remaining_balance > 0
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectHeaders(rows)
}

func (p *PgRepository) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT id, billing_id, amount, paid_at, method, mode, COALESCE(item_ids, '{}'), installment_id
		FROM billing_transactions
		WHERE paid_at >= $1
		  AND paid_at < $2
		ORDER BY paid_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}

func collectHeaders(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecordHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
