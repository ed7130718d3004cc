package calendar

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

// Store persists the clinic policy. It is written only by administration.
type Store interface {
	GetPolicy(ctx context.Context) (Policy, error)
	SaveHours(ctx context.Context, day time.Weekday, h DayHours) error
	SetCapacity(ctx context.Context, capacity int) error
	AddOffDay(ctx context.Context, off OffDay) error
	RemoveOffDay(ctx context.Context, date string) error
}

// Service validates administrative changes before they reach the Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Policy(ctx context.Context) (Policy, error) {
	p, err := s.store.GetPolicy(ctx)
	if err != nil {
		return Policy{}, apperr.Unavailable("load clinic policy", err)
	}
	return p, nil
}

// IsOpen loads the current policy and evaluates it for date.
func (s *Service) IsOpen(ctx context.Context, date, clock string) (Openness, error) {
	p, err := s.Policy(ctx)
	if err != nil {
		return Openness{}, err
	}
	return p.IsOpen(date, clock)
}

func (s *Service) UpdateHours(ctx context.Context, day time.Weekday, h DayHours) error {
	if day < time.Sunday || day > time.Saturday {
		return apperr.Newf(apperr.KindInvalidInput, "invalid weekday %d", day)
	}
	var err error
	if h.OpenTime, err = NormalizeClock(h.OpenTime); err != nil {
		return err
	}
	if h.CloseTime, err = NormalizeClock(h.CloseTime); err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveHours(ctx, day, h); err != nil {
		return apperr.Unavailable("save clinic hours", err)
	}
	log.Ctx(ctx).Info().Str("weekday", day.String()).Bool("open", h.Open).
		Str("open_time", h.OpenTime).Str("close_time", h.CloseTime).Msg("clinic hours updated")
	return nil
}

func (s *Service) SetCapacity(ctx context.Context, capacity int) error {
	if capacity < 1 {
		return apperr.Newf(apperr.KindInvalidInput, "capacity must be at least 1, got %d", capacity)
	}
	if err := s.store.SetCapacity(ctx, capacity); err != nil {
		return apperr.Unavailable("save capacity", err)
	}
	log.Ctx(ctx).Info().Int("capacity", capacity).Msg("slot capacity updated")
	return nil
}

func (s *Service) AddOffDay(ctx context.Context, off OffDay) error {
	date, err := NormalizeDate(off.Date)
	if err != nil {
		return err
	}
	off.Date = date
	if err := s.store.AddOffDay(ctx, off); err != nil {
		return apperr.Unavailable("save off-day", err)
	}
	log.Ctx(ctx).Info().Str("date", off.Date).Str("reason", off.Reason).Msg("off-day added")
	return nil
}

func (s *Service) RemoveOffDay(ctx context.Context, date string) error {
	date, err := NormalizeDate(date)
	if err != nil {
		return err
	}
	if err := s.store.RemoveOffDay(ctx, date); err != nil {
		return apperr.Unavailable("remove off-day", err)
	}
	return nil
}
