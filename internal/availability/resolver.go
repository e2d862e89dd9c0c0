package availability

import (
	"slices"
	"time"

	"reserva/internal/model"
)

// DefaultCutoffHour closes same-day bookings from this local hour on.
const DefaultCutoffHour = 12

const (
	MsgPastDate     = "cannot book past dates"
	MsgTodayClosed  = "today's bookings are closed"
	MsgDateClosed   = "date unavailable for reservations"
	MsgSundayClosed = "we are closed on Sundays"
	MsgDayClosed    = "day not available"
)

// Decision is the resolved availability of one date.
type Decision struct {
	Date      model.Date `json:"date"`
	Available bool       `json:"available"`
	TimeSlots []string   `json:"timeSlots"`
	Message   string     `json:"message,omitempty"`
}

// HasSlot reports whether slot is one of the decision's time slots.
func (d Decision) HasSlot(slot string) bool {
	return d.Available && slices.Contains(d.TimeSlots, slot)
}

// Resolve applies the availability rules with the default cutoff hour.
// now must already be in the venue's time zone.
func Resolve(date model.Date, now time.Time, cfg *Config) Decision {
	return resolve(date, now, cfg, DefaultCutoffHour)
}

func resolve(date model.Date, now time.Time, cfg *Config, cutoffHour int) Decision {
	today := model.DateOf(now)
	closed := func(msg string) Decision {
		return Decision{Date: date, Available: false, TimeSlots: []string{}, Message: msg}
	}

	if date.Before(today) {
		return closed(MsgPastDate)
	}
	if date.Equal(today) && now.Hour() >= cutoffHour {
		return closed(MsgTodayClosed)
	}
	if ex, ok := cfg.exception(date); ok {
		if len(ex.TimeSlots) > 0 {
			return Decision{Date: date, Available: true, TimeSlots: slices.Clone(ex.TimeSlots), Message: ex.Message}
		}
		if ex.Message != "" {
			return closed(ex.Message)
		}
		return closed(MsgDateClosed)
	}
	if cfg.dateBlocked(date) {
		return closed(MsgDateClosed)
	}
	if wd := date.Weekday(); cfg.weekdayBlocked(int(wd)) {
		if wd == time.Sunday {
			return closed(MsgSundayClosed)
		}
		return closed(MsgDayClosed)
	}
	return Decision{Date: date, Available: true, TimeSlots: slices.Clone(cfg.DefaultTimeSlots)}
}
