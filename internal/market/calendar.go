// Package market answers whether an exchange is open for trading at a given
// instant, from configured per-exchange trading-hours tables. There is no
// holiday calendar; weekends and session hours are the only rules.
package market

import (
	"fmt"
	"time"

	"autotrader/internal/config"
)

// hours is the parsed trading window of one exchange in its local timezone.
type hours struct {
	location  *time.Location
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// Calendar reports market-open state per exchange. It is immutable after
// construction and safe for concurrent use.
type Calendar struct {
	exchanges map[string]hours
}

// NewCalendar builds a Calendar from the configured markets.
func NewCalendar(markets []config.Market) (*Calendar, error) {
	cal := &Calendar{exchanges: make(map[string]hours, len(markets))}
	for _, m := range markets {
		loc, err := time.LoadLocation(m.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q for exchange %s: %w", m.Timezone, m.Exchange, err)
		}
		oh, om, err := parseClock(m.Open)
		if err != nil {
			return nil, fmt.Errorf("invalid open time for exchange %s: %w", m.Exchange, err)
		}
		ch, cm, err := parseClock(m.Close)
		if err != nil {
			return nil, fmt.Errorf("invalid close time for exchange %s: %w", m.Exchange, err)
		}
		cal.exchanges[m.Exchange] = hours{
			location:  loc,
			openHour:  oh,
			openMin:   om,
			closeHour: ch,
			closeMin:  cm,
		}
	}
	return cal, nil
}

// IsOpen reports whether the exchange is open at time now. Weekends are
// closed; within a weekday the window is inclusive of both the open and close
// minute. Unknown exchanges are treated as closed.
func (c *Calendar) IsOpen(exchange string, now time.Time) bool {
	h, ok := c.exchanges[exchange]
	if !ok {
		return false
	}

	local := now.In(h.location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	openAt := h.openHour*60 + h.openMin
	closeAt := h.closeHour*60 + h.closeMin
	return minute >= openAt && minute <= closeAt
}

// parseClock parses an "HH:MM" local-time string.
func parseClock(s string) (hour, min int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &min); err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("clock out of range: %q", s)
	}
	return hour, min, nil
}
