// Package treatment turns an appointment into a completed one, consuming
// stock and opening its billing record in a single transaction.
package treatment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/inventory"
)

type Payload struct {
	Procedures    []appointment.Procedure
	InventoryUsed []appointment.InventoryUse
	Notes         string
}

type Result struct {
	Appointment *appointment.Appointment
	Billing     *billing.Record
}

type Handler struct {
	appointments *appointment.Service
	repo         appointment.Repository
	ledger       *billing.Ledger
	stock        inventory.Adjuster
	tx           db.TxRunner
	now          func() time.Time
}

func NewHandler(appointments *appointment.Service, repo appointment.Repository, ledger *billing.Ledger, stock inventory.Adjuster, tx db.TxRunner) *Handler {
	return &Handler{
		appointments: appointments,
		repo:         repo,
		ledger:       ledger,
		stock:        stock,
		tx:           tx,
		now:          time.Now,
	}
}

// Complete attaches the treatment, decrements consumed stock and opens the
// billing record seeded with the sum of procedure prices. Either all of it
// commits or none of it does.
func (h *Handler) Complete(ctx context.Context, appointmentID uuid.UUID, p Payload) (*Result, error) {
	treatment, err := buildTreatment(p, h.now())
	if err != nil {
		return nil, err
	}

	appt, err := h.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(appointment.StatusCompleted) {
		return nil, appointment.TransitionError("complete", appt.Status)
	}

	paymentStatus := appointment.PaymentUnpaid
	if treatment.TotalBill.IsZero() {
		paymentStatus = appointment.PaymentPaid
	}

	items := make([]billing.ItemInput, 0, len(treatment.Procedures))
	for _, proc := range treatment.Procedures {
		items = append(items, billing.ItemInput{Name: proc.Name, Price: proc.Price})
	}

	var res Result
	err = h.tx.WithTx(ctx, func(txCtx context.Context) error {
		completed, err := h.repo.CompleteAppointment(txCtx, appt.ID, appt.Status, treatment, paymentStatus)
		if err != nil {
			return apperr.Unavailable("complete appointment", err)
		}

		for _, use := range treatment.InventoryUsed {
			if err := h.stock.AdjustStock(txCtx, use.ItemID, -use.Quantity); err != nil {
				return apperr.Unavailable("adjust stock of "+use.ItemID.String(), err)
			}
		}

		rec, err := h.ledger.OpenRecord(txCtx, billing.OpenRequest{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			Items:         items,
		})
		if err != nil {
			return err
		}

		res = Result{Appointment: completed, Billing: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("appointment_id", appt.ID.String()).
		Str("billing_id", res.Billing.ID.String()).
		Str("total", treatment.TotalBill.StringFixed(2)).Msg("treatment completed")
	h.appointments.LogEvent(ctx, appt.ID, appointment.EventAppointmentCompleted, map[string]any{
		"billing_id": res.Billing.ID.String(),
		"total":      treatment.TotalBill.StringFixed(2),
	})

	return &res, nil
}

func buildTreatment(p Payload, now time.Time) (appointment.Treatment, error) {
	if len(p.Procedures) == 0 {
		return appointment.Treatment{}, apperr.New(apperr.KindInvalidInput, "at least one procedure is required")
	}

	total := decimal.Zero
	procs := make([]appointment.Procedure, 0, len(p.Procedures))
	for _, proc := range p.Procedures {
		name := strings.TrimSpace(proc.Name)
		if name == "" {
			return appointment.Treatment{}, apperr.New(apperr.KindInvalidInput, "procedure name is required")
		}
		if proc.Price.Sign() < 0 || !proc.Price.Equal(proc.Price.Round(2)) {
			return appointment.Treatment{}, apperr.Newf(apperr.KindInvalidAmount, "invalid price %s for %s", proc.Price.String(), name)
		}
		procs = append(procs, appointment.Procedure{Name: name, Price: proc.Price})
		total = total.Add(proc.Price)
	}

	// repeated items collapse into one adjustment
	qty := make(map[uuid.UUID]int)
	var order []uuid.UUID
	for _, use := range p.InventoryUsed {
		if use.ItemID == uuid.Nil || use.Quantity <= 0 {
			return appointment.Treatment{}, apperr.New(apperr.KindInvalidInput, "inventory use needs an item_id and a positive quantity")
		}
		if _, seen := qty[use.ItemID]; !seen {
			order = append(order, use.ItemID)
		}
		qty[use.ItemID] += use.Quantity
	}
	used := make([]appointment.InventoryUse, 0, len(order))
	for _, id := range order {
		used = append(used, appointment.InventoryUse{ItemID: id, Quantity: qty[id]})
	}

	return appointment.Treatment{
		Procedures:    procs,
		InventoryUsed: used,
		Notes:         strings.TrimSpace(p.Notes),
		TotalBill:     total,
		CompletedAt:   now,
	}, nil
}
