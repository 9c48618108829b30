package availability

import (
	"sort"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// MergeStats counts what MergeEvents did.
type MergeStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Stale     int `json:"stale"`
	Removed   int `json:"removed"`
	Restored  int `json:"restored"`
}

// Processed is the number of incoming events that were looked at.
func (s MergeStats) Processed() int {
	return s.Added + s.Updated + s.Unchanged + s.Stale
}

// MergeEvents folds a freshly parsed feed into the events already stored for
// the same source and returns the complete new set, ordered by UID.
//
// An incoming event replaces the stored one unless its SEQUENCE is lower.
// Equal sequences are taken from the feed because several platforms edit
// events without bumping SEQUENCE. Stored events missing from the feed are
// marked removed rather than deleted; a removed event that reappears is
// restored even when the reappearing copy is stale.
func MergeEvents(existing, incoming []models.CalendarEvent, now time.Time) ([]models.CalendarEvent, MergeStats) {
	var stats MergeStats

	byUID := make(map[string]models.CalendarEvent, len(existing))
	for _, ev := range existing {
		byUID[ev.ExternalUID] = ev
	}

	// A feed may repeat a UID; keep its highest sequence.
	latest := make(map[string]models.CalendarEvent, len(incoming))
	for _, ev := range incoming {
		if cur, ok := latest[ev.ExternalUID]; ok && cur.Sequence > ev.Sequence {
			continue
		}
		latest[ev.ExternalUID] = ev
	}

	merged := make(map[string]models.CalendarEvent, len(byUID)+len(latest))
	for uid, in := range latest {
		cur, ok := byUID[uid]
		switch {
		case !ok:
			in.RemovedAt = nil
			in.UpdatedAt = now
			merged[uid] = in
			stats.Added++

		case in.Sequence < cur.Sequence:
			if cur.RemovedAt != nil {
				cur.RemovedAt = nil
				cur.UpdatedAt = now
				stats.Restored++
			}
			merged[uid] = cur
			stats.Stale++

		default:
			if cur.RemovedAt != nil {
				stats.Restored++
			}
			if sameContent(cur, in) && cur.RemovedAt == nil {
				merged[uid] = cur
				stats.Unchanged++
				continue
			}
			in.RemovedAt = nil
			in.UpdatedAt = now
			merged[uid] = in
			stats.Updated++
		}
	}

	for uid, cur := range byUID {
		if _, seen := latest[uid]; seen {
			continue
		}
		if cur.RemovedAt == nil {
			removed := now
			cur.RemovedAt = &removed
			cur.UpdatedAt = now
			stats.Removed++
		}
		merged[uid] = cur
	}

	out := make([]models.CalendarEvent, 0, len(merged))
	for _, ev := range merged {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExternalUID < out[j].ExternalUID
	})

	return out, stats
}

func sameContent(a, b models.CalendarEvent) bool {
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) ||
		a.AllDay != b.AllDay || a.Status != b.Status || a.Sequence != b.Sequence ||
		a.Summary != b.Summary || a.RRule != b.RRule ||
		len(a.ExDates) != len(b.ExDates) || len(a.Raw) != len(b.Raw) {
		return false
	}
	for i := range a.ExDates {
		if !a.ExDates[i].Equal(b.ExDates[i]) {
			return false
		}
	}
	for k, v := range a.Raw {
		if b.Raw[k] != v {
			return false
		}
	}
	return true
}
