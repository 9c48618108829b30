package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// ErrRunFinalized is returned when a finished sync run would be written again.
var ErrRunFinalized = errors.New("sync run already finalized")

// SyncRunRepository provides data access for the sync audit trail.
type SyncRunRepository struct {
	BaseRepository
}

// NewSyncRunRepository creates a new sync run repository.
func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create opens a run. StartedAt is kept if already set.
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	run.ID = GenerateID()
	if run.StartedAt.IsZero() {
		run.StartedAt = r.Now()
	}
	run.Outcome = models.OutcomeRunning
	run.FinishedAt = nil

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_runs (id, source_id, trigger, started_at, outcome)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.SourceID, run.Trigger, run.StartedAt, run.Outcome)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}

	return nil
}

// Finalize closes a run together with its conflicts. A run can be finalized
// exactly once; later attempts return ErrRunFinalized.
func (r *SyncRunRepository) Finalize(ctx context.Context, run *models.SyncRun) error {
	finished := r.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	run.ConflictsDetected = len(run.Conflicts)

	err := r.Transaction(func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE sync_runs SET
				finished_at = ?, outcome = ?, events_processed = ?, conflicts_detected = ?, error_message = ?
			WHERE id = ? AND finished_at IS NULL
		`, finished, run.Outcome, run.EventsProcessed, run.ConflictsDetected, run.ErrorMessage, run.ID)
		if err != nil {
			return fmt.Errorf("finalizing sync run: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrRunFinalized
		}

		for _, c := range run.Conflicts {
			ids, err := encodeJSON(c.SourceIDs)
			if err != nil {
				return fmt.Errorf("encoding conflict sources: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sync_run_conflicts (run_id, date, kind, source_ids, winner_source_id, resolved)
				VALUES (?, ?, ?, ?, ?, ?)
			`, run.ID, formatDate(c.Date), c.Kind, ids, c.WinnerSourceID, c.Resolved)
			if err != nil {
				return fmt.Errorf("inserting sync conflict: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	run.FinishedAt = &finished
	return nil
}

const runColumns = `
	id, source_id, trigger, started_at, finished_at, outcome,
	events_processed, conflicts_detected, error_message`

func scanRun(row rowScanner) (*models.SyncRun, error) {
	run := &models.SyncRun{}
	if err := row.Scan(
		&run.ID, &run.SourceID, &run.Trigger, &run.StartedAt, &run.FinishedAt, &run.Outcome,
		&run.EventsProcessed, &run.ConflictsDetected, &run.ErrorMessage,
	); err != nil {
		return nil, err
	}
	return run, nil
}

// GetByID retrieves a run and its conflicts.
func (r *SyncRunRepository) GetByID(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := scanRun(r.DB().QueryRowContext(ctx, "SELECT "+runColumns+" FROM sync_runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync run: %w", err)
	}

	if run.Conflicts, err = r.conflicts(ctx, run.ID); err != nil {
		return nil, err
	}

	return run, nil
}

// ListBySource returns the most recent runs of a source, newest first.
func (r *SyncRunRepository) ListBySource(ctx context.Context, sourceID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE source_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		if runs[i].Conflicts, err = r.conflicts(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}

	return runs, nil
}

func (r *SyncRunRepository) conflicts(ctx context.Context, runID string) ([]models.SyncConflict, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT date, kind, source_ids, winner_source_id, resolved
		FROM sync_run_conflicts
		WHERE run_id = ?
		ORDER BY date, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying sync conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []models.SyncConflict
	for rows.Next() {
		var (
			c    models.SyncConflict
			date string
			ids  string
		)
		if err := rows.Scan(&date, &c.Kind, &ids, &c.WinnerSourceID, &c.Resolved); err != nil {
			return nil, fmt.Errorf("scanning sync conflict: %w", err)
		}
		if c.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parsing conflict date %q: %w", date, err)
		}
		if err := decodeJSON(ids, &c.SourceIDs); err != nil {
			return nil, fmt.Errorf("decoding conflict sources: %w", err)
		}
		conflicts = append(conflicts, c)
	}

	return conflicts, rows.Err()
}
