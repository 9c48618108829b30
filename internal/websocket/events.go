package websocket

import (
	"log"

	"github.com/clusterpj/cluster-estate-sub001/internal/availability"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// EventBroadcaster turns sync lifecycle callbacks into WebSocket messages.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// SyncStateChanged sends a sync.state_changed event.
func (b *EventBroadcaster) SyncStateChanged(sourceID, propertyID, runID, state string) {
	b.broadcast(NewMessage(TypeSyncStateChanged, SyncStatePayload{
		SourceID:   sourceID,
		PropertyID: propertyID,
		RunID:      runID,
		State:      state,
	}))
}

// SyncFinished sends sync.completed or sync.failed, followed by
// sync.conflicts_detected when the run recorded conflicts.
func (b *EventBroadcaster) SyncFinished(source models.CalendarSource, run models.SyncRun) {
	payload := SyncResultPayload{
		SourceID:          source.ID,
		SourceName:        source.Name,
		PropertyID:        source.PropertyID,
		RunID:             run.ID,
		Outcome:           string(run.Outcome),
		EventsProcessed:   run.EventsProcessed,
		ConflictsDetected: len(run.Conflicts),
	}

	msgType := TypeSyncCompleted
	if run.Outcome == models.OutcomeError {
		msgType = TypeSyncFailed
		if run.ErrorMessage != nil {
			payload.Error = *run.ErrorMessage
		}
	} else {
		next := source.SyncFrequency.Next(run.StartedAt)
		payload.NextSyncAt = &next
	}
	b.broadcast(NewMessage(msgType, payload))

	if len(run.Conflicts) == 0 {
		return
	}
	days := make([]ConflictDay, 0, len(run.Conflicts))
	for _, c := range run.Conflicts {
		days = append(days, ConflictDay{
			Date:     c.Date.Format(availability.DateLayout),
			Sources:  c.SourceIDs,
			Winner:   c.WinnerSourceID,
			Resolved: string(c.Resolved),
		})
	}
	b.broadcast(NewMessage(TypeConflictsDetected, ConflictPayload{
		SourceID:   source.ID,
		PropertyID: source.PropertyID,
		Days:       days,
	}))
}

// BroadcastAvailabilityRefreshed reports a reconcile-only refresh of a property.
func (b *EventBroadcaster) BroadcastAvailabilityRefreshed(propertyID string, days, conflicts int) {
	b.broadcast(NewMessage(TypeAvailabilityReset, AvailabilityPayload{
		PropertyID: propertyID,
		Days:       days,
		Conflicts:  conflicts,
	}))
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	b.broadcast(NewMessage(TypeNotification, NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}))
}

func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}

	b.hub.Broadcast(data)
}
