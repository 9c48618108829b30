// Package models contains the domain models for the application.
package models

import (
	"time"
)

// SourceKind identifies the role a calendar source plays for its property.
type SourceKind string

const (
	SourceKindInternal       SourceKind = "internal"        // The property's own bookings
	SourceKindExternalImport SourceKind = "external-import" // Third-party feed pulled into the timeline
	SourceKindExternalExport SourceKind = "external-export" // Feed published to third parties
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindInternal, SourceKindExternalImport, SourceKindExternalExport:
		return true
	}
	return false
}

// SyncFrequency is how often a source is due for synchronization.
type SyncFrequency string

const (
	SyncHourly  SyncFrequency = "hourly"
	SyncDaily   SyncFrequency = "daily"
	SyncWeekly  SyncFrequency = "weekly"
	SyncMonthly SyncFrequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f SyncFrequency) Valid() bool {
	switch f {
	case SyncHourly, SyncDaily, SyncWeekly, SyncMonthly:
		return true
	}
	return false
}

// Next returns the instant at which a source last synced at last becomes due again.
// Unknown frequencies are treated as hourly.
func (f SyncFrequency) Next(last time.Time) time.Time {
	switch f {
	case SyncDaily:
		return last.AddDate(0, 0, 1)
	case SyncWeekly:
		return last.AddDate(0, 0, 7)
	case SyncMonthly:
		return last.AddDate(0, 1, 0)
	default:
		return last.Add(time.Hour)
	}
}

// SyncStatus is the outcome of the most recent sync attempt of a source.
type SyncStatus string

const (
	SyncStatusUnknown SyncStatus = "unknown"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// CalendarSource is one configured feed for a property.
type CalendarSource struct {
	ID             string        `json:"id"`
	PropertyID     string        `json:"property_id"`
	Name           string        `json:"name"`
	Kind           SourceKind    `json:"kind"`
	Address        string        `json:"address,omitempty"`
	SyncFrequency  SyncFrequency `json:"sync_frequency"`
	Priority       int           `json:"priority"`
	Enabled        bool          `json:"enabled"`
	LastSyncAt     *time.Time    `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus    `json:"last_sync_status"`
	LastSyncError  *string       `json:"last_sync_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsDue reports whether the source should be synced by a scheduled sweep at now.
func (s *CalendarSource) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastSyncAt == nil {
		return true
	}
	return !now.Before(s.SyncFrequency.Next(*s.LastSyncAt))
}

// FetchesRemote reports whether syncing the source involves an HTTP fetch.
func (s *CalendarSource) FetchesRemote() bool {
	return s.Kind == SourceKindExternalImport
}

// EventStatus is the closed set of statuses an imported event can carry.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventTentative EventStatus = "tentative"
	EventCancelled EventStatus = "cancelled"
)

// ParseEventStatus maps an iCalendar STATUS value onto EventStatus.
// Unknown or empty values normalize to confirmed.
func ParseEventStatus(v string) EventStatus {
	switch v {
	case "TENTATIVE", "tentative":
		return EventTentative
	case "CANCELLED", "cancelled", "CANCELED", "canceled":
		return EventCancelled
	default:
		return EventConfirmed
	}
}

// CalendarEvent is one busy interval contributed by a source, keyed by
// (SourceID, ExternalUID).
type CalendarEvent struct {
	SourceID    string            `json:"source_id"`
	ExternalUID string            `json:"external_uid"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	AllDay      bool              `json:"all_day"`
	Status      EventStatus       `json:"status"`
	Sequence    int               `json:"sequence"`
	Summary     string            `json:"summary,omitempty"`
	RRule       string            `json:"rrule,omitempty"`
	ExDates     []time.Time       `json:"exdates,omitempty"`
	Raw         map[string]string `json:"raw,omitempty"`
	RemovedAt   *time.Time        `json:"removed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Valid reports whether the event spans a non-empty interval.
func (e *CalendarEvent) Valid() bool {
	return !e.Start.IsZero() && e.End.After(e.Start)
}

// Live reports whether the event is still present in its source's feed.
func (e *CalendarEvent) Live() bool {
	return e.RemovedAt == nil
}
