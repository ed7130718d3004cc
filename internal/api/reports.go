package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/report"
)

// agingHandler buckets open balances as of ?as_of=YYYY-MM-DD, end of that
// day in the clinic timezone. Without as_of it uses the current time.
func agingHandler(svc *report.Service, loc *time.Location, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asOf := now()
		if s := r.URL.Query().Get("as_of"); s != "" {
			d, err := calendar.ParseDate(s)
			if err != nil {
				handleError(w, r, err)
				return
			}
			asOf = dayStart(d, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
		}

		a, err := svc.Aging(r.Context(), asOf)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAgingResponse(a))
	}
}

// collectionsHandler sums payments for the inclusive date range
// ?from=&to= in the clinic timezone.
func collectionsHandler(svc *report.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := calendar.ParseDate(q.Get("from"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		to, err := calendar.ParseDate(q.Get("to"))
		if err != nil {
			handleError(w, r, err)
			return
		}

		c, err := svc.Collections(r.Context(), dayStart(from, loc), dayStart(to, loc).AddDate(0, 0, 1))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCollectionsResponse(c))
	}
}

func productivityHandler(svc *report.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rows, err := svc.Productivity(r.Context(), q.Get("from"), q.Get("to"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		out := make([]ProductivityResponse, 0, len(rows))
		for _, p := range rows {
			out = append(out, ProductivityResponse{DentistID: p.DentistID, Completed: p.Completed, Billed: p.Billed})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func dayStart(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}
