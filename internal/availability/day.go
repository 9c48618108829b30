// Package availability builds the canonical per-day timeline of a property
// from its bookings, manual blocks and imported calendar events.
//
// All day arithmetic is done on UTC civil dates. An interval [start, end)
// covers day(start) through the day before day(end); an interval that starts
// and ends on the same day covers that day.
package availability

import (
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// MaxHorizonDays bounds how many days are materialized per property.
const MaxHorizonDays = 730

// DateLayout is the storage and wire format of a day.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its UTC date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Days lists the days occupied by [start, end). Empty or inverted intervals
// occupy nothing.
func Days(start, end time.Time) []time.Time {
	first, last, ok := daySpan(start, end)
	if !ok {
		return nil
	}
	return walk(first, last)
}

// daySpan returns the occupied days of [start, end) as the half-open day
// range [first, last).
func daySpan(start, end time.Time) (first, last time.Time, ok bool) {
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	first, last = Day(start), Day(end)
	if !last.After(first) {
		last = first.AddDate(0, 0, 1)
	}
	return first, last, true
}

func walk(first, last time.Time) []time.Time {
	if !last.After(first) {
		return nil
	}
	days := make([]time.Time, 0, int(last.Sub(first).Hours()/24+0.5))
	for d := first; d.Before(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Horizon is the half-open range of days [From, To) that gets materialized.
type Horizon struct {
	From time.Time
	To   time.Time
}

// HorizonFor returns the publishable horizon of a property. It starts today
// or on AvailableFrom, whichever is later, and ends after AvailableTo or
// defaultDays from the start when AvailableTo is unset.
func HorizonFor(p *models.Property, now time.Time, defaultDays int) Horizon {
	from := Day(now)
	if !p.AvailableFrom.IsZero() && Day(p.AvailableFrom).After(from) {
		from = Day(p.AvailableFrom)
	}

	var to time.Time
	if !p.AvailableTo.IsZero() {
		to = Day(p.AvailableTo).AddDate(0, 0, 1)
	} else {
		to = from.AddDate(0, 0, defaultDays)
	}

	if limit := from.AddDate(0, 0, MaxHorizonDays); to.After(limit) {
		to = limit
	}
	if to.Before(from) {
		to = from
	}

	return Horizon{From: from, To: to}
}

// Len is the number of days in the horizon.
func (h Horizon) Len() int {
	if !h.To.After(h.From) {
		return 0
	}
	return int(h.To.Sub(h.From).Hours()/24 + 0.5)
}

// Days lists every day of the horizon in order.
func (h Horizon) Days() []time.Time {
	return Days(h.From, h.To)
}

// DaysIn lists the days of [start, end) that lie within the horizon. Only
// horizon days are visited, however long the interval is.
func (h Horizon) DaysIn(start, end time.Time) []time.Time {
	first, last, ok := daySpan(start, end)
	if !ok {
		return nil
	}
	if first.Before(h.From) {
		first = h.From
	}
	if last.After(h.To) {
		last = h.To
	}
	return walk(first, last)
}

// Overlaps reports whether [start, end) touches any day of the horizon.
func (h Horizon) Overlaps(start, end time.Time) bool {
	first, last, ok := daySpan(start, end)
	return ok && first.Before(h.To) && last.After(h.From)
}
