package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

var procedures = []appointment.Procedure{
	{Name: "Cleaning", Price: decimal.RequireFromString("80.00")},
	{Name: "Filling", Price: decimal.RequireFromString("150.00")},
	{Name: "X-ray", Price: decimal.RequireFromString("45.50")},
	{Name: "Extraction", Price: decimal.RequireFromString("220.00")},
	{Name: "Root canal", Price: decimal.RequireFromString("950.00")},
	{Name: "Crown", Price: decimal.RequireFromString("1200.00")},
	{Name: "Whitening", Price: decimal.RequireFromString("300.00")},
}

var serviceTypes = []string{"checkup", "cleaning", "filling", "extraction", "consultation", "orthodontics"}

func main() {
	days := flag.Int("days", 14, "number of calendar days to seed, starting today")
	perDay := flag.Int("per-day", 12, "bookings attempted per open day")
	patients := flag.Int("patients", 200, "distinct patients")
	dentists := flag.Int("dentists", 5, "distinct dentists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("seed", cfg.Env)
	if cfg.Store != config.StorePostgres {
		log.Fatal().Str("store", cfg.Store).Msg("seed only makes sense against the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	gofakeit.Seed(time.Now().UnixNano())

	s := &seeder{app: a, patients: ids(*patients), dentists: ids(*dentists)}

	items, err := s.seedInventory(ctx, 20)
	if err != nil {
		log.Fatal().Err(err).Msg("seed inventory")
	}
	if err := s.seedOffDays(ctx, *days); err != nil {
		log.Fatal().Err(err).Msg("seed off-days")
	}
	if err := s.seedAppointments(ctx, *days, *perDay, items); err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}

	log.Info().Int("booked", s.booked).Int("completed", s.completed).Int("plans", s.plans).
		Int("procedure_payments", s.paid).Msg("seed complete")
}

type seeder struct {
	app      *app.App
	patients []uuid.UUID
	dentists []uuid.UUID

	booked, completed, plans, paid int
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func pick[T any](xs []T) T {
	return xs[gofakeit.Number(0, len(xs)-1)]
}

func (s *seeder) seedInventory(ctx context.Context, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding inventory")

	out := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		it := inventory.Item{
			ID:    uuid.New(),
			Name:  fmt.Sprintf("%s %s", gofakeit.Color(), gofakeit.ProductMaterial()),
			Stock: gofakeit.Number(50, 500),
		}
		if err := s.app.Stock.Upsert(ctx, it); err != nil {
			return nil, err
		}
		out = append(out, it.ID)
	}
	return out, nil
}

// seedOffDays closes one random weekday in the seeded window.
func (s *seeder) seedOffDays(ctx context.Context, days int) error {
	if days < 2 {
		return nil
	}
	d := time.Now().AddDate(0, 0, gofakeit.Number(1, days-1))
	return s.app.Calendar.AddOffDay(ctx, calendar.OffDay{
		Date:   d.Format(calendar.DateLayout),
		Reason: gofakeit.HipsterWord() + " day",
	})
}

func (s *seeder) seedAppointments(ctx context.Context, days, perDay int, items []uuid.UUID) error {
	policy, err := s.app.Calendar.Policy(ctx)
	if err != nil {
		return err
	}

	today := time.Now()
	for d := 0; d < days; d++ {
		date := today.AddDate(0, 0, d).Format(calendar.DateLayout)
		open, err := policy.IsOpen(date, "")
		if err != nil {
			return err
		}
		if !open.Open {
			continue
		}

		hours := policy.Hours[today.AddDate(0, 0, d).Weekday()]
		openAt, _ := calendar.ParseClock(hours.OpenTime)
		closeAt, _ := calendar.ParseClock(hours.CloseTime)

		for i := 0; i < perDay; i++ {
			// half-hour slots
			m := openAt + 30*gofakeit.Number(0, (closeAt-openAt)/30-1)
			clock := fmt.Sprintf("%02d:%02d", m/60, m%60)

			var dentist *uuid.UUID
			if gofakeit.Bool() {
				id := pick(s.dentists)
				dentist = &id
			}

			appt, err := s.app.Appointments.Book(ctx, appointment.BookRequest{
				PatientID:   pick(s.patients),
				DentistID:   dentist,
				ServiceType: pick(serviceTypes),
				Date:        date,
				Time:        clock,
			})
			if errors.Is(err, appointment.ErrSlotFull) {
				continue
			}
			if err != nil {
				return fmt.Errorf("book %s %s: %w", date, clock, err)
			}
			s.booked++

			if err := s.advance(ctx, appt, items); err != nil {
				return err
			}
		}
		log.Info().Str("date", date).Int("booked_total", s.booked).Msg("day seeded")
	}
	return nil
}

// advance walks a fresh booking to a random later state.
func (s *seeder) advance(ctx context.Context, appt *appointment.Appointment, items []uuid.UUID) error {
	switch n := gofakeit.Number(0, 9); {
	case n < 3:
		return nil
	case n < 5:
		_, err := s.app.Appointments.Confirm(ctx, appt.ID)
		return err
	case n < 6:
		_, err := s.app.Appointments.Cancel(ctx, appt.ID)
		return err
	}

	payload := treatment.Payload{Notes: gofakeit.Sentence(6)}
	for i := gofakeit.Number(1, 3); i > 0; i-- {
		payload.Procedures = append(payload.Procedures, pick(procedures))
	}
	payload.InventoryUsed = append(payload.InventoryUsed, appointment.InventoryUse{ItemID: pick(items), Quantity: gofakeit.Number(1, 3)})

	res, err := s.app.Treatments.Complete(ctx, appt.ID, payload)
	if apperr.IsKind(err, apperr.KindInvalidInput) {
		// stock ran out, leave the booking pending
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete %s: %w", appt.ID, err)
	}
	s.completed++

	return s.pay(ctx, res.Billing)
}

func (s *seeder) pay(ctx context.Context, rec *billing.Record) error {
	if rec.RemainingBalance.IsZero() {
		return nil
	}

	switch gofakeit.Number(0, 2) {
	case 0:
		return nil
	case 1:
		_, err := s.app.Ledger.RecordPayment(ctx, billing.PaymentRequest{
			BillingID: rec.ID,
			Amount:    rec.Items[0].Price,
			Method:    pick([]string{"cash", "card", "transfer"}),
			Mode:      billing.ModeProcedure,
			ItemIDs:   []uuid.UUID{rec.Items[0].ID},
		})
		if apperr.IsKind(err, apperr.KindInvalidAmount) {
			return nil
		}
		if err == nil {
			s.paid++
		}
		return err
	}

	plan, err := s.app.Ledger.CreatePaymentPlan(ctx, rec.ID, gofakeit.Number(2, 12))
	if apperr.IsKind(err, apperr.KindInvalidAmount) {
		return nil
	}
	if err != nil {
		return err
	}
	s.plans++

	first := plan.Installments[0]
	_, err = s.app.Ledger.RecordPayment(ctx, billing.PaymentRequest{
		BillingID:     rec.ID,
		Amount:        first.Amount,
		Method:        "card",
		Mode:          billing.ModeInstallment,
		InstallmentID: &first.ID,
	})
	return err
}
