// Package calendar answers whether the clinic is open on a given date and
// at a given time of day.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type DayHours struct {
	Open      bool   `json:"is_open"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

type OffDay struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

// Policy is the clinic's weekly operating table, slot capacity and
// explicit off-days keyed by date.
type Policy struct {
	Hours    [7]DayHours       // indexed by time.Weekday
	Capacity int               // max pending+confirmed appointments per slot
	OffDays  map[string]string // date -> reason, reason may be empty
}

// Openness is the answer to "is this date open".
type Openness struct {
	Open   bool
	Reason string
}

// DefaultPolicy opens Monday to Friday 09:00-17:00 and Saturday 09:00-12:00.
func DefaultPolicy(capacity int) Policy {
	p := Policy{Capacity: capacity, OffDays: map[string]string{}}
	for d := time.Monday; d <= time.Friday; d++ {
		p.Hours[d] = DayHours{Open: true, OpenTime: "09:00", CloseTime: "17:00"}
	}
	p.Hours[time.Saturday] = DayHours{Open: true, OpenTime: "09:00", CloseTime: "12:00"}
	p.Hours[time.Sunday] = DayHours{OpenTime: "09:00", CloseTime: "17:00"}
	return p
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.KindInvalidInput, "invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseClock parses HH:MM and returns minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.Newf(apperr.KindInvalidInput, "invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// NormalizeDate returns the canonical YYYY-MM-DD form of s.
func NormalizeDate(s string) (string, error) {
	d, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return d.Format(DateLayout), nil
}

// NormalizeClock returns the canonical zero padded HH:MM form of s.
func NormalizeClock(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60), nil
}

func (h DayHours) Validate() error {
	openAt, err := ParseClock(h.OpenTime)
	if err != nil {
		return err
	}
	closeAt, err := ParseClock(h.CloseTime)
	if err != nil {
		return err
	}
	if h.Open && openAt >= closeAt {
		return apperr.Newf(apperr.KindInvalidInput, "open time %s must be before close time %s", h.OpenTime, h.CloseTime)
	}
	return nil
}

func (p Policy) Validate() error {
	if p.Capacity < 1 {
		return apperr.Newf(apperr.KindInvalidInput, "capacity must be at least 1, got %d", p.Capacity)
	}
	for d, h := range p.Hours {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("%s: %w", time.Weekday(d), err)
		}
	}
	return nil
}

// IsOpen reports whether the clinic accepts appointments on date. clock is
// validated but the open/close window is not applied here, see InHours.
func (p Policy) IsOpen(date, clock string) (Openness, error) {
	d, err := ParseDate(date)
	if err != nil {
		return Openness{}, err
	}
	if clock != "" {
		if _, err := ParseClock(clock); err != nil {
			return Openness{}, err
		}
	}
	return p.openOn(d), nil
}

func (p Policy) openOn(d time.Time) Openness {
	if !p.Hours[d.Weekday()].Open {
		return Openness{Open: false}
	}
	if reason, off := p.OffDays[d.Format(DateLayout)]; off {
		return Openness{Open: false, Reason: reason}
	}
	return Openness{Open: true}
}

// InHours reports whether clock falls inside [openTime, closeTime) of the
// weekday of date. Closed weekdays are never in hours.
func (p Policy) InHours(date, clock string) (bool, error) {
	d, err := ParseDate(date)
	if err != nil {
		return false, err
	}
	at, err := ParseClock(clock)
	if err != nil {
		return false, err
	}

	h := p.Hours[d.Weekday()]
	if !h.Open {
		return false, nil
	}
	openAt, err := ParseClock(h.OpenTime)
	if err != nil {
		return false, err
	}
	closeAt, err := ParseClock(h.CloseTime)
	if err != nil {
		return false, err
	}
	return at >= openAt && at < closeAt, nil
}

// Clone returns a deep copy, safe to mutate.
func (p Policy) Clone() Policy {
	out := p
	out.OffDays = make(map[string]string, len(p.OffDays))
	for k, v := range p.OffDays {
		out.OffDays[k] = v
	}
	return out
}
