package api

import (
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/billing"
)

func getBillingHandler(l *billing.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		rec, err := l.GetRecord(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBillingResponse(rec))
	}
}

func appointmentBillingHandler(l *billing.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		rec, err := l.GetRecordByAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBillingResponse(rec))
	}
}

func patientBillingHandler(l *billing.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		recs, err := l.ListRecordsByPatient(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		out := make([]BillingResponse, 0, len(recs))
		for i := range recs {
			out = append(out, toBillingResponse(&recs[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func recordPaymentHandler(l *billing.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req PaymentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := l.RecordPayment(r.Context(), billing.PaymentRequest{
			BillingID:     id,
			Amount:        req.Amount,
			Method:        req.Method,
			Mode:          billing.Mode(req.Mode),
			ItemIDs:       req.ItemIDs,
			InstallmentID: req.InstallmentID,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, PaymentResponse{
			Transaction:         res.Transaction,
			NewRemainingBalance: res.NewRemainingBalance,
			Status:              string(res.Status),
		})
	}
}

func createPlanHandler(l *billing.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req PlanRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		plan, err := l.CreatePaymentPlan(r.Context(), id, req.Months)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, plan)
	}
}
