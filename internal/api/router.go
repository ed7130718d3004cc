package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/report"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Treatments   *treatment.Handler
	Ledger       *billing.Ledger
	Reports      *report.Service
	Calendar     *calendar.Service
	Dependencies []Dependency
	Location     *time.Location // clinic timezone for report ranges
	Now          func() time.Time
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Scheduling
	r.Get("/availability", availabilityHandler(cfg.Appointments))
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Appointments))
		r.Get("/", listAppointmentsHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/dentist", assignDentistHandler(cfg.Appointments))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Treatments))
		r.Get("/{id}/billing", appointmentBillingHandler(cfg.Ledger))
	})

	// Billing
	r.Get("/billing/{id}", getBillingHandler(cfg.Ledger))
	r.Post("/billing/{id}/payments", recordPaymentHandler(cfg.Ledger))
	r.Post("/billing/{id}/plan", createPlanHandler(cfg.Ledger))
	r.Get("/patients/{id}/billing", patientBillingHandler(cfg.Ledger))

	// Reports
	r.Get("/reports/aging", agingHandler(cfg.Reports, cfg.Location, cfg.Now))
	r.Get("/reports/collections", collectionsHandler(cfg.Reports, cfg.Location))
	r.Get("/reports/productivity", productivityHandler(cfg.Reports))

	// Clinic policy
	r.Route("/policy", func(r chi.Router) {
		r.Get("/", getPolicyHandler(cfg.Calendar))
		r.Put("/hours/{weekday}", updateHoursHandler(cfg.Calendar))
		r.Put("/capacity", setCapacityHandler(cfg.Calendar))
		r.Post("/off-days", addOffDayHandler(cfg.Calendar))
		r.Delete("/off-days/{date}", removeOffDayHandler(cfg.Calendar))
	})

	return r
}
