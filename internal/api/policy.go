package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

func getPolicyHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Policy(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPolicyResponse(p))
	}
}

func updateHoursHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := parseWeekday(chi.URLParam(r, "weekday"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be a day name or 0-6")
			return
		}
		var h calendar.DayHours
		if !decodeJSON(w, r, &h) {
			return
		}

		if err := svc.UpdateHours(r.Context(), day, h); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func setCapacityHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CapacityRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.SetCapacity(r.Context(), req.Capacity); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addOffDayHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var off calendar.OffDay
		if !decodeJSON(w, r, &off) {
			return
		}
		if err := svc.AddOffDay(r.Context(), off); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeOffDayHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveOffDay(r.Context(), chi.URLParam(r, "date")); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func weekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

func parseWeekday(s string) (time.Weekday, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Weekday(n), n >= 0 && n <= 6
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, true
		}
	}
	return 0, false
}

func sortOffDays(days []calendar.OffDay) {
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
}
