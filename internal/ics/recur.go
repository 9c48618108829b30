package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// MaxOccurrencesPerEvent caps how many instances a single RRULE may expand to.
const MaxOccurrencesPerEvent = 1000

// MaxRecurrenceSteps caps how many instances are generated from DTSTART while
// walking to the window, so a rule anchored centuries back stays cheap.
const MaxRecurrenceSteps = 50000

// Occurrences expands a recurring event into the instances that overlap
// [from, to). Non-recurring events are returned unchanged. The returned bool
// reports whether the expansion was cut short by MaxOccurrencesPerEvent or
// MaxRecurrenceSteps.
func Occurrences(ev models.CalendarEvent, from, to time.Time) ([]models.CalendarEvent, bool, error) {
	if ev.RRule == "" {
		return []models.CalendarEvent{ev}, false, nil
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, false, fmt.Errorf("parsing RRULE of %s: %w", ev.ExternalUID, err)
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Occurrences that start before from may still overlap it.
	span := ev.End.Sub(ev.Start)
	lower := from.Add(-span)

	var starts []time.Time
	truncated := false
	next := set.Iterator()
	for steps := 0; ; steps++ {
		if steps == MaxRecurrenceSteps {
			truncated = true
			break
		}
		start, ok := next()
		if !ok || !start.Before(to) {
			break
		}
		if start.Before(lower) {
			continue
		}
		if len(starts) == MaxOccurrencesPerEvent {
			truncated = true
			break
		}
		starts = append(starts, start)
	}

	days := 0
	if ev.AllDay {
		days = int(span.Hours()+12) / 24
		if days < 1 {
			days = 1
		}
	}

	out := make([]models.CalendarEvent, 0, len(starts))
	for _, start := range starts {
		occ := ev
		occ.RRule = ""
		occ.ExDates = nil
		occ.Start = start
		if ev.AllDay {
			occ.End = start.AddDate(0, 0, days)
		} else {
			occ.End = start.Add(span)
		}
		if !occ.End.After(from) || !occ.Start.Before(to) {
			continue
		}
		out = append(out, occ)
	}

	return out, truncated, nil
}
