package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var ErrOffDayNotFound = apperr.New(apperr.KindNotFound, "off-day not found")

type PgStore struct {
	pool     *pgxpool.Pool
	defaults Policy
}

// NewPgStore returns a Store whose missing rows fall back to defaults.
func NewPgStore(pool *pgxpool.Pool, defaults Policy) *PgStore {
	return &PgStore{pool: pool, defaults: defaults}
}

func (s *PgStore) GetPolicy(ctx context.Context) (Policy, error) {
	p := s.defaults.Clone()
	p.OffDays = map[string]string{}

	rows, err := s.pool.Query(ctx, `
		SELECT weekday, is_open, open_time, close_time
		FROM clinic_hours
	`)
	if err != nil {
		return Policy{}, fmt.Errorf("query clinic hours: %w", err)
	}
	for rows.Next() {
		var day int16
		var h DayHours
		if err := rows.Scan(&day, &h.Open, &h.OpenTime, &h.CloseTime); err != nil {
			rows.Close()
			return Policy{}, err
		}
		if day >= 0 && day <= 6 {
			p.Hours[day] = h
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Policy{}, err
	}

	var capacity int
	err = s.pool.QueryRow(ctx, `SELECT capacity FROM clinic_settings WHERE id = 1`).Scan(&capacity)
	switch {
	case err == nil:
		p.Capacity = capacity
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return Policy{}, fmt.Errorf("query clinic settings: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), COALESCE(reason, '')
		FROM clinic_off_days
	`)
	if err != nil {
		return Policy{}, fmt.Errorf("query off-days: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day, reason string
		if err := rows.Scan(&day, &reason); err != nil {
			return Policy{}, err
		}
		p.OffDays[day] = reason
	}

	return p, rows.Err()
}

func (s *PgStore) SaveHours(ctx context.Context, day time.Weekday, h DayHours) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_hours (weekday, is_open, open_time, close_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (weekday) DO UPDATE
		SET is_open = EXCLUDED.is_open,
		    open_time = EXCLUDED.open_time,
		    close_time = EXCLUDED.close_time
	`, int16(day), h.Open, h.OpenTime, h.CloseTime)
	if err != nil {
		return fmt.Errorf("upsert clinic hours: %w", err)
	}
	return nil
}

func (s *PgStore) SetCapacity(ctx context.Context, capacity int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_settings (id, capacity) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET capacity = EXCLUDED.capacity
	`, capacity)
	if err != nil {
		return fmt.Errorf("upsert clinic settings: %w", err)
	}
	return nil
}

func (s *PgStore) AddOffDay(ctx context.Context, off OffDay) error {
	var reason *string
	if off.Reason != "" {
		reason = &off.Reason
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_off_days (day, reason) VALUES ($1::date, $2)
		ON CONFLICT (day) DO UPDATE SET reason = EXCLUDED.reason
	`, off.Date, reason)
	if err != nil {
		return fmt.Errorf("upsert off-day: %w", err)
	}
	return nil
}

func (s *PgStore) RemoveOffDay(ctx context.Context, date string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clinic_off_days WHERE day = $1::date`, date)
	if err != nil {
		return fmt.Errorf("delete off-day: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOffDayNotFound
	}
	return nil
}
