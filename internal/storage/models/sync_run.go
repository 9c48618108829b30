package models

import (
	"time"
)

// SyncOutcome is the final result of a sync run.
type SyncOutcome string

const (
	OutcomeRunning SyncOutcome = "running" // Open run, not yet finalized
	OutcomeSuccess SyncOutcome = "success"
	OutcomePartial SyncOutcome = "partial" // Completed with conflicts recorded
	OutcomeError   SyncOutcome = "error"
)

// SyncTrigger records what started a run.
type SyncTrigger string

const (
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
)

// Conflict kinds recorded against a run.
const (
	ConflictSourceDisagreement = "source_disagreement"
)

// SyncConflict records a day on which external sources disagreed.
type SyncConflict struct {
	Date           time.Time `json:"date"`
	Kind           string    `json:"kind"`
	SourceIDs      []string  `json:"source_ids"`
	WinnerSourceID string    `json:"winner_source_id"`
	Resolved       DayStatus `json:"resolved"`
}

// SyncRun is the append-only audit record of one reconciliation attempt.
type SyncRun struct {
	ID                string         `json:"id"`
	SourceID          string         `json:"source_id"`
	Trigger           SyncTrigger    `json:"trigger"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
	Outcome           SyncOutcome    `json:"outcome"`
	EventsProcessed   int            `json:"events_processed"`
	ConflictsDetected int            `json:"conflicts_detected"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	Conflicts         []SyncConflict `json:"conflicts,omitempty"`
}

// Finished reports whether the run has been finalized.
func (r *SyncRun) Finished() bool {
	return r.FinishedAt != nil
}
