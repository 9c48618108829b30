package availability

import (
	"sort"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// Run is a stretch of consecutive days sharing one status. To is exclusive.
type Run struct {
	From   time.Time        `json:"from"`
	To     time.Time        `json:"to"`
	Status models.DayStatus `json:"status"`
}

// Compact collapses per-day intervals into runs.
func Compact(intervals []models.AvailabilityInterval) []Run {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]models.AvailabilityInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var runs []Run
	for _, iv := range sorted {
		d := Day(iv.Date)
		if n := len(runs); n > 0 && runs[n-1].Status == iv.Status && runs[n-1].To.Equal(d) {
			runs[n-1].To = d.AddDate(0, 0, 1)
			continue
		}
		runs = append(runs, Run{From: d, To: d.AddDate(0, 0, 1), Status: iv.Status})
	}

	return runs
}
