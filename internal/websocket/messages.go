package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	TypeSyncStateChanged  MessageType = "sync.state_changed"
	TypeSyncCompleted     MessageType = "sync.completed"
	TypeSyncFailed        MessageType = "sync.failed"
	TypeConflictsDetected MessageType = "sync.conflicts_detected"
	TypeAvailabilityReset MessageType = "availability.refreshed"
	TypeNotification      MessageType = "notification"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncStatePayload is the payload for sync.state_changed events.
type SyncStatePayload struct {
	SourceID   string `json:"source_id"`
	PropertyID string `json:"property_id"`
	RunID      string `json:"run_id"`
	State      string `json:"state"`
}

// SyncResultPayload is the payload for sync.completed and sync.failed events.
type SyncResultPayload struct {
	SourceID          string     `json:"source_id"`
	SourceName        string     `json:"source_name"`
	PropertyID        string     `json:"property_id"`
	RunID             string     `json:"run_id"`
	Outcome           string     `json:"outcome"`
	EventsProcessed   int        `json:"events_processed"`
	ConflictsDetected int        `json:"conflicts_detected"`
	Error             string     `json:"error,omitempty"`
	NextSyncAt        *time.Time `json:"next_sync_at,omitempty"`
}

// ConflictPayload lists the days on which external calendars disagreed.
type ConflictPayload struct {
	SourceID   string        `json:"source_id"`
	PropertyID string        `json:"property_id"`
	Days       []ConflictDay `json:"days"`
}

// ConflictDay is one conflicting day and how it was resolved.
type ConflictDay struct {
	Date     string   `json:"date"`
	Sources  []string `json:"source_ids"`
	Winner   string   `json:"winner_source_id"`
	Resolved string   `json:"resolved"`
}

// AvailabilityPayload is the payload for availability.refreshed events.
type AvailabilityPayload struct {
	PropertyID string `json:"property_id"`
	Days       int    `json:"days"`
	Conflicts  int    `json:"conflicts"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}
