package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// SyncCommit is everything one reconciliation writes for a property.
type SyncCommit struct {
	PropertyID string
	Events     []models.CalendarEvent
	Intervals  []models.AvailabilityInterval
}

// AvailabilityRepository provides data access for the materialized timeline.
type AvailabilityRepository struct {
	BaseRepository
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *DB) *AvailabilityRepository {
	return &AvailabilityRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Commit upserts the events and replaces the property's timeline in one
// transaction. Either everything is written or nothing is.
func (r *AvailabilityRepository) Commit(ctx context.Context, c *SyncCommit) error {
	now := r.Now()

	return r.Transaction(func(tx *sql.Tx) error {
		if err := upsertEvents(ctx, tx, c.Events); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM availability WHERE property_id = ?", c.PropertyID); err != nil {
			return fmt.Errorf("clearing availability: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO availability (property_id, date, status, source_ids, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing availability insert: %w", err)
		}
		defer stmt.Close()

		for _, iv := range c.Intervals {
			ids := iv.SourceIDs
			if ids == nil {
				ids = []string{}
			}
			idsJSON, err := encodeJSON(ids)
			if err != nil {
				return fmt.Errorf("encoding source IDs: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, c.PropertyID, formatDate(iv.Date), iv.Status, idsJSON, now); err != nil {
				return fmt.Errorf("inserting availability for %s: %w", formatDate(iv.Date), err)
			}
		}

		return nil
	})
}

// List returns the stored timeline of a property for days in [from, to).
// A zero to means no upper bound.
func (r *AvailabilityRepository) List(ctx context.Context, propertyID string, from, to time.Time) ([]models.AvailabilityInterval, error) {
	upper := "9999-12-31"
	if !to.IsZero() {
		upper = formatDate(to)
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT date, status, source_ids
		FROM availability
		WHERE property_id = ? AND date >= ? AND date < ?
		ORDER BY date
	`, propertyID, formatDate(from), upper)
	if err != nil {
		return nil, fmt.Errorf("querying availability: %w", err)
	}
	defer rows.Close()

	var intervals []models.AvailabilityInterval
	for rows.Next() {
		var (
			date    string
			idsJSON string
			iv      = models.AvailabilityInterval{PropertyID: propertyID}
		)
		if err := rows.Scan(&date, &iv.Status, &idsJSON); err != nil {
			return nil, fmt.Errorf("scanning availability: %w", err)
		}
		if iv.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parsing availability date %q: %w", date, err)
		}
		if err := decodeJSON(idsJSON, &iv.SourceIDs); err != nil {
			return nil, fmt.Errorf("decoding source IDs: %w", err)
		}
		intervals = append(intervals, iv)
	}

	return intervals, rows.Err()
}
