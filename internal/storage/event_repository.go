package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

const eventColumns = `
	e.source_id, e.external_uid, e.start_at, e.end_at, e.all_day, e.status, e.sequence,
	e.summary, e.rrule, e.exdates, e.raw, e.removed_at, e.updated_at`

// EventRepository provides data access for imported calendar events.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// ListBySource returns every stored event of a source, removed ones included.
func (r *EventRepository) ListBySource(ctx context.Context, sourceID string) ([]models.CalendarEvent, error) {
	return listEvents(ctx, r.DB(), `
		SELECT `+eventColumns+`
		FROM calendar_events e
		WHERE e.source_id = ?
		ORDER BY e.external_uid
	`, sourceID)
}

// ListLiveByProperty returns the events that currently count toward a
// property's availability: not removed and owned by an enabled source.
func (r *EventRepository) ListLiveByProperty(ctx context.Context, propertyID string) ([]models.CalendarEvent, error) {
	return listEvents(ctx, r.DB(), `
		SELECT `+eventColumns+`
		FROM calendar_events e
		JOIN calendar_sources s ON s.id = e.source_id
		WHERE s.property_id = ? AND s.enabled = 1 AND e.removed_at IS NULL
		ORDER BY e.start_at, e.source_id, e.external_uid
	`, propertyID)
}

func listEvents(ctx context.Context, q Queryable, query string, args ...any) ([]models.CalendarEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []models.CalendarEvent
	for rows.Next() {
		var (
			ev      models.CalendarEvent
			exdates string
			raw     string
		)
		if err := rows.Scan(
			&ev.SourceID, &ev.ExternalUID, &ev.Start, &ev.End, &ev.AllDay, &ev.Status, &ev.Sequence,
			&ev.Summary, &ev.RRule, &exdates, &raw, &ev.RemovedAt, &ev.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := decodeJSON(exdates, &ev.ExDates); err != nil {
			return nil, fmt.Errorf("decoding exdates of %s: %w", ev.ExternalUID, err)
		}
		if err := decodeJSON(raw, &ev.Raw); err != nil {
			return nil, fmt.Errorf("decoding raw properties of %s: %w", ev.ExternalUID, err)
		}
		ev.Start = ev.Start.UTC()
		ev.End = ev.End.UTC()
		events = append(events, ev)
	}

	return events, rows.Err()
}

// upsertEvents writes events keyed by (source_id, external_uid).
func upsertEvents(ctx context.Context, q Queryable, events []models.CalendarEvent) error {
	for _, ev := range events {
		exdates := ev.ExDates
		if exdates == nil {
			exdates = []time.Time{}
		}
		exJSON, err := encodeJSON(exdates)
		if err != nil {
			return fmt.Errorf("encoding exdates of %s: %w", ev.ExternalUID, err)
		}
		raw := ev.Raw
		if raw == nil {
			raw = map[string]string{}
		}
		rawJSON, err := encodeJSON(raw)
		if err != nil {
			return fmt.Errorf("encoding raw properties of %s: %w", ev.ExternalUID, err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO calendar_events (
				source_id, external_uid, start_at, end_at, all_day, status, sequence,
				summary, rrule, exdates, raw, removed_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_id, external_uid) DO UPDATE SET
				start_at = excluded.start_at,
				end_at = excluded.end_at,
				all_day = excluded.all_day,
				status = excluded.status,
				sequence = excluded.sequence,
				summary = excluded.summary,
				rrule = excluded.rrule,
				exdates = excluded.exdates,
				raw = excluded.raw,
				removed_at = excluded.removed_at,
				updated_at = excluded.updated_at
		`,
			ev.SourceID, ev.ExternalUID, ev.Start.UTC(), ev.End.UTC(), ev.AllDay, ev.Status, ev.Sequence,
			ev.Summary, ev.RRule, exJSON, rawJSON, ev.RemovedAt, ev.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting event %s: %w", ev.ExternalUID, err)
		}
	}

	return nil
}
