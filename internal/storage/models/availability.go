package models

import (
	"time"
)

// DayStatus is the resolved state of one calendar day.
type DayStatus string

// Day statuses, listed from least to most restrictive.
const (
	DayAvailable DayStatus = "available"
	DayBlocked   DayStatus = "blocked"
	DayPending   DayStatus = "pending"
	DayBooked    DayStatus = "booked"
)

// Rank orders statuses by restrictiveness: booked > pending > blocked > available.
func (s DayStatus) Rank() int {
	switch s {
	case DayBooked:
		return 3
	case DayPending:
		return 2
	case DayBlocked:
		return 1
	default:
		return 0
	}
}

// AvailabilityInterval is the materialized status of one property day.
type AvailabilityInterval struct {
	PropertyID string    `json:"property_id"`
	Date       time.Time `json:"date"`
	Status     DayStatus `json:"status"`
	SourceIDs  []string  `json:"source_ids"`
}
