package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// ErrDuplicateInternal is returned when a property would get a second internal source.
var ErrDuplicateInternal = errors.New("property already has an internal calendar source")

const sourceColumns = `
	id, property_id, name, kind, address, sync_frequency, priority, enabled,
	last_sync_at, last_sync_status, last_sync_error, created_at, updated_at`

// SourceRepository provides data access for calendar sources.
type SourceRepository struct {
	BaseRepository
}

// NewSourceRepository creates a new calendar source repository.
func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.CalendarSource, error) {
	src := &models.CalendarSource{}
	err := row.Scan(
		&src.ID, &src.PropertyID, &src.Name, &src.Kind, &src.Address,
		&src.SyncFrequency, &src.Priority, &src.Enabled,
		&src.LastSyncAt, &src.LastSyncStatus, &src.LastSyncError,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Create inserts a new calendar source.
func (r *SourceRepository) Create(ctx context.Context, src *models.CalendarSource) error {
	src.ID = GenerateID()
	src.CreatedAt = r.Now()
	src.UpdatedAt = src.CreatedAt
	src.LastSyncStatus = models.SyncStatusUnknown
	src.LastSyncAt = nil
	src.LastSyncError = nil
	if src.SyncFrequency == "" {
		src.SyncFrequency = models.SyncHourly
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO calendar_sources (
			id, property_id, name, kind, address, sync_frequency, priority, enabled,
			last_sync_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		src.ID, src.PropertyID, src.Name, src.Kind, src.Address, src.SyncFrequency,
		src.Priority, src.Enabled, src.LastSyncStatus, src.CreatedAt, src.UpdatedAt,
	)

	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateInternal
		}
		return fmt.Errorf("inserting calendar source: %w", err)
	}

	return nil
}

// GetByID retrieves a calendar source by its ID.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*models.CalendarSource, error) {
	src, err := scanSource(r.DB().QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM calendar_sources WHERE id = ?", id))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar source: %w", err)
	}

	return src, nil
}

// ListByProperty retrieves all sources of a property, highest precedence first.
func (r *SourceRepository) ListByProperty(ctx context.Context, propertyID string) ([]models.CalendarSource, error) {
	return r.list(ctx, `
		SELECT `+sourceColumns+`
		FROM calendar_sources
		WHERE property_id = ?
		ORDER BY priority, created_at
	`, propertyID)
}

// ListEnabled retrieves all enabled sources, least recently synced first.
func (r *SourceRepository) ListEnabled(ctx context.Context) ([]models.CalendarSource, error) {
	return r.list(ctx, `
		SELECT `+sourceColumns+`
		FROM calendar_sources
		WHERE enabled = 1
		ORDER BY last_sync_at ASC NULLS FIRST
	`)
}

func (r *SourceRepository) list(ctx context.Context, query string, args ...any) ([]models.CalendarSource, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying calendar sources: %w", err)
	}
	defer rows.Close()

	var sources []models.CalendarSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar source: %w", err)
		}
		sources = append(sources, *src)
	}

	return sources, rows.Err()
}

// ListPropertyIDs returns every property that has at least one enabled source.
func (r *SourceRepository) ListPropertyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT DISTINCT property_id FROM calendar_sources WHERE enabled = 1 ORDER BY property_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying source properties: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning property ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Update updates the owner-editable fields of a source.
func (r *SourceRepository) Update(ctx context.Context, src *models.CalendarSource) error {
	src.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_sources SET
			name = ?, address = ?, sync_frequency = ?, priority = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`,
		src.Name, src.Address, src.SyncFrequency, src.Priority, src.Enabled, src.UpdatedAt, src.ID,
	)

	if err != nil {
		return fmt.Errorf("updating calendar source: %w", err)
	}

	return checkAffected(result, "calendar source", src.ID)
}

// UpdateSyncStatus records the outcome of a sync attempt. lastSyncAt is only
// written when non-nil, so failed attempts keep the previous value.
func (r *SourceRepository) UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, lastSyncAt *time.Time, syncError *string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_sources SET
			last_sync_status = ?, last_sync_error = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE id = ?
	`, status, syncError, lastSyncAt, r.Now(), id)

	if err != nil {
		return fmt.Errorf("updating sync status: %w", err)
	}

	return nil
}

// Disable stops future syncs of a source while keeping its events and history.
func (r *SourceRepository) Disable(ctx context.Context, id string) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_sources SET enabled = 0, updated_at = ? WHERE id = ?
	`, r.Now(), id)
	if err != nil {
		return fmt.Errorf("disabling calendar source: %w", err)
	}

	return checkAffected(result, "calendar source", id)
}

// Delete removes a source together with its events and sync history.
func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM calendar_sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting calendar source: %w", err)
	}

	return checkAffected(result, "calendar source", id)
}
