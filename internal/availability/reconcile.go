package availability

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/ics"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// Provenance prefixes for contributors that are not calendar sources.
const (
	BookingRefPrefix = "booking:"
	BlockRefPrefix   = "block:"
)

// Input is everything Reconcile needs for one property.
type Input struct {
	PropertyID string
	Horizon    Horizon
	Sources    []models.CalendarSource
	Events     []models.CalendarEvent
	Bookings   []models.Booking
	Blocks     []models.ManualBlock
}

// Anomaly is an input item that was skipped instead of failing the run.
type Anomaly struct {
	Ref    string    `json:"ref"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

// Result is the canonical timeline of a property.
type Result struct {
	Intervals []models.AvailabilityInterval
	Conflicts []models.SyncConflict
	Anomalies []Anomaly
}

// ConflictDetected reports that external sources disagreed. It is never
// fatal; a run that sees it still persists and finishes as partial.
type ConflictDetected struct {
	Conflicts []models.SyncConflict
}

func (e *ConflictDetected) Error() string {
	return fmt.Sprintf("%d day(s) with conflicting external calendars", len(e.Conflicts))
}

// Err returns a *ConflictDetected when the result carries conflicts.
func (r Result) Err() error {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return &ConflictDetected{Conflicts: r.Conflicts}
}

// dayState accumulates contributions for one day.
type dayState struct {
	internal     models.DayStatus
	external     map[string]models.DayStatus
	contributors map[string]struct{}
}

// claimFor maps an imported event status onto the day status it asserts.
// Tentative events never assert booked; cancellations assert the day free.
func claimFor(s models.EventStatus) models.DayStatus {
	switch s {
	case models.EventTentative:
		return models.DayPending
	case models.EventCancelled:
		return models.DayAvailable
	default:
		return models.DayBooked
	}
}

func moreRestrictive(a, b models.DayStatus) models.DayStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Reconcile resolves every day of the horizon to exactly one status.
//
// Bookings and blocks always count. Each external source asserts its most
// restrictive claim per day; when sources disagree the lowest priority
// number wins, ties go to the more restrictive claim, and the day is
// recorded as a conflict. The final status is the most restrictive of the
// internal contribution and the winning external claim.
func Reconcile(in Input) Result {
	var res Result

	days := make(map[time.Time]*dayState, in.Horizon.Len())
	state := func(d time.Time) *dayState {
		s, ok := days[d]
		if !ok {
			s = &dayState{internal: models.DayAvailable}
			days[d] = s
		}
		return s
	}
	contribute := func(d time.Time, ref string) {
		s := state(d)
		if s.contributors == nil {
			s.contributors = make(map[string]struct{})
		}
		s.contributors[ref] = struct{}{}
	}

	priority := make(map[string]int, len(in.Sources))
	for _, src := range in.Sources {
		priority[src.ID] = src.Priority
	}

	for _, b := range in.Bookings {
		if !b.Status.Occupies() {
			continue
		}
		ref := BookingRefPrefix + b.ID
		if !b.CheckOut.After(b.CheckIn) {
			res.Anomalies = append(res.Anomalies, Anomaly{Ref: ref, Start: b.CheckIn, End: b.CheckOut, Reason: "check-out not after check-in"})
			continue
		}
		status := models.DayPending
		if b.Status == models.BookingConfirmed {
			status = models.DayBooked
		}
		for _, d := range in.Horizon.DaysIn(b.CheckIn, b.CheckOut) {
			s := state(d)
			s.internal = moreRestrictive(s.internal, status)
			contribute(d, ref)
		}
	}

	for _, blk := range in.Blocks {
		ref := BlockRefPrefix + blk.ID
		if !blk.End.After(blk.Start) {
			res.Anomalies = append(res.Anomalies, Anomaly{Ref: ref, Start: blk.Start, End: blk.End, Reason: "end not after start"})
			continue
		}
		for _, d := range in.Horizon.DaysIn(blk.Start, blk.End) {
			s := state(d)
			s.internal = moreRestrictive(s.internal, models.DayBlocked)
			contribute(d, ref)
		}
	}

	for _, ev := range in.Events {
		if !ev.Live() {
			continue
		}
		ref := ev.SourceID + "/" + ev.ExternalUID
		if _, known := priority[ev.SourceID]; !known {
			res.Anomalies = append(res.Anomalies, Anomaly{Ref: ref, Start: ev.Start, End: ev.End, Reason: "event from unknown source"})
			continue
		}
		if !ev.Valid() {
			res.Anomalies = append(res.Anomalies, Anomaly{Ref: ref, Start: ev.Start, End: ev.End, Reason: "end not after start"})
			continue
		}
		if ev.RRule == "" && !in.Horizon.Overlaps(ev.Start, ev.End) {
			continue
		}

		occurrences, truncated, err := ics.Occurrences(ev, in.Horizon.From, in.Horizon.To)
		if err != nil {
			res.Anomalies = append(res.Anomalies, Anomaly{Ref: ref, Start: ev.Start, End: ev.End, Reason: err.Error()})
			continue
		}
		if truncated {
			res.Anomalies = append(res.Anomalies, Anomaly{Ref: ref, Start: ev.Start, End: ev.End, Reason: "recurrence truncated"})
		}

		claim := claimFor(ev.Status)
		for _, occ := range occurrences {
			for _, d := range in.Horizon.DaysIn(occ.Start, occ.End) {
				s := state(d)
				if s.external == nil {
					s.external = make(map[string]models.DayStatus)
				}
				if cur, ok := s.external[ev.SourceID]; !ok || claim.Rank() > cur.Rank() {
					s.external[ev.SourceID] = claim
				}
				contribute(d, ev.SourceID)
			}
		}
	}

	for _, a := range res.Anomalies {
		log.Printf("Availability anomaly for property %s: %s (%s - %s): %s",
			in.PropertyID, a.Ref, a.Start.Format(time.RFC3339), a.End.Format(time.RFC3339), a.Reason)
	}

	for _, d := range in.Horizon.Days() {
		interval := models.AvailabilityInterval{
			PropertyID: in.PropertyID,
			Date:       d,
			Status:     models.DayAvailable,
			SourceIDs:  []string{},
		}

		s, ok := days[d]
		if ok {
			status := s.internal
			if len(s.external) > 0 {
				claim, conflict := resolveExternal(d, s.external, priority)
				status = moreRestrictive(status, claim)
				if conflict != nil {
					res.Conflicts = append(res.Conflicts, *conflict)
				}
			}
			interval.Status = status
			interval.SourceIDs = sortedKeys(s.contributors)
		}

		res.Intervals = append(res.Intervals, interval)
	}

	return res
}

// resolveExternal picks the winning external claim for one day. A conflict
// is returned when at least two sources assert different statuses.
func resolveExternal(d time.Time, claims map[string]models.DayStatus, priority map[string]int) (models.DayStatus, *models.SyncConflict) {
	ids := make([]string, 0, len(claims))
	for id := range claims {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	winner := ids[0]
	disagree := false
	for _, id := range ids[1:] {
		if claims[id] != claims[ids[0]] {
			disagree = true
		}
		switch {
		case priority[id] < priority[winner]:
			winner = id
		case priority[id] == priority[winner] && claims[id].Rank() > claims[winner].Rank():
			winner = id
		}
	}

	if !disagree {
		return claims[winner], nil
	}

	return claims[winner], &models.SyncConflict{
		Date:           d,
		Kind:           models.ConflictSourceDisagreement,
		SourceIDs:      ids,
		WinnerSourceID: winner,
		Resolved:       claims[winner],
	}
}

// ConflictsInvolving filters conflicts to those a given source took part in.
func ConflictsInvolving(conflicts []models.SyncConflict, sourceID string) []models.SyncConflict {
	var out []models.SyncConflict
	for _, c := range conflicts {
		for _, id := range c.SourceIDs {
			if id == sourceID {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
