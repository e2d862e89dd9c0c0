// Package availability decides which dates and time slots can be booked.
package availability

import (
	"fmt"
	"regexp"

	"reserva/internal/model"
)

var slotPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Exception overrides the normal rules for one date. Empty TimeSlots closes the date.
type Exception struct {
	Date      model.Date `json:"date" yaml:"date"`
	TimeSlots []string   `json:"timeSlots" yaml:"time_slots"`
	Message   string     `json:"message,omitempty" yaml:"message,omitempty"`
}

// Config is the venue availability configuration.
type Config struct {
	DefaultTimeSlots []string     `json:"defaultTimeSlots" yaml:"default_time_slots"`
	BlockedDates     []model.Date `json:"blockedDates" yaml:"blocked_dates"`
	BlockedWeekdays  []int        `json:"blockedWeekdays" yaml:"blocked_weekdays"` // 0=Sunday
	Exceptions       []Exception  `json:"exceptions" yaml:"exceptions"`
}

// DefaultConfig is used when the configured source cannot be loaded.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeSlots: []string{"18:00", "18:30", "19:00", "19:30", "20:00", "20:30"},
		BlockedWeekdays:  []int{0},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for _, s := range c.DefaultTimeSlots {
		if !slotPattern.MatchString(s) {
			return fmt.Errorf("default time slot %q: expected HH:MM", s)
		}
	}
	for _, wd := range c.BlockedWeekdays {
		if wd < 0 || wd > 6 {
			return fmt.Errorf("blocked weekday %d out of range 0..6", wd)
		}
	}
	seen := make(map[model.Date]bool, len(c.Exceptions))
	for i, ex := range c.Exceptions {
		if ex.Date.IsZero() {
			return fmt.Errorf("exception %d: date is required", i)
		}
		if seen[ex.Date] {
			return fmt.Errorf("duplicate exception for %s", ex.Date)
		}
		seen[ex.Date] = true
		for _, s := range ex.TimeSlots {
			if !slotPattern.MatchString(s) {
				return fmt.Errorf("exception %s: time slot %q: expected HH:MM", ex.Date, s)
			}
		}
	}
	return nil
}

func (c *Config) exception(d model.Date) (Exception, bool) {
	for _, ex := range c.Exceptions {
		if ex.Date.Equal(d) {
			return ex, true
		}
	}
	return Exception{}, false
}

func (c *Config) dateBlocked(d model.Date) bool {
	for _, b := range c.BlockedDates {
		if b.Equal(d) {
			return true
		}
	}
	return false
}

func (c *Config) weekdayBlocked(wd int) bool {
	for _, b := range c.BlockedWeekdays {
		if b == wd {
			return true
		}
	}
	return false
}
