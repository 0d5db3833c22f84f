package utils

import (
	"fmt"
	"strings"
	"time"

	"market-streamer/src/models"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers "is the market open" for a Mon-Fri trading window
// given in a fixed local timezone. Nothing is cached between calls.
type TradingCalendar struct {
	Timezone *time.Location
	Start    time.Duration // offset from local midnight
	End      time.Duration // inclusive
	// Calendar is optional; when set, exchange holidays count as closed.
	Calendar *calendar.Calendar
}

// -----------------------------------------------------------------------------

// ParseClock parses "HH:MM" into an offset from local midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day '%s' (want HH:MM): %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// -----------------------------------------------------------------------------

// NewTradingCalendar builds a calendar from trading-hours config.
func NewTradingCalendar(cfg models.MTradingHoursConfig) (*TradingCalendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone '%s': %w", cfg.Timezone, err)
	}
	start, err := ParseClock(cfg.Start)
	if err != nil {
		return nil, err
	}
	end, err := ParseClock(cfg.End)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("trading window end %s is not after start %s", cfg.End, cfg.Start)
	}

	tc := &TradingCalendar{Timezone: loc, Start: start, End: end}

	if mic := strings.ToLower(strings.TrimSpace(cfg.ExchangeMIC)); mic != "" {
		// scmhub/calendar.GetCalendar returns a calendar by MIC
		cal := calendar.GetCalendar(mic)
		if cal == nil {
			return nil, fmt.Errorf("no exchange calendar for MIC '%s'", mic)
		}
		tc.Calendar = cal
	}

	return tc, nil
}

// -----------------------------------------------------------------------------

// IsOpen reports whether now falls on a local weekday inside [Start, End].
func (tc *TradingCalendar) IsOpen(now time.Time) bool {
	local := now.In(tc.Timezone)

	if !tc.IsTradingDay(local) {
		return false
	}

	// Wall-clock offset, not elapsed time since midnight, so DST days behave.
	tod := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())

	return tod >= tc.Start && tod <= tc.End
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	date = date.In(tc.Timezone)

	weekday := date.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}

	if tc.Calendar != nil {
		// Library handles IsHoliday / IsBusinessDay
		return tc.Calendar.IsBusinessDay(date.In(tc.Calendar.Loc))
	}
	return true
}
