package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "calendar.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedProperty(t *testing.T, db *DB, id string) {
	t.Helper()
	if err := NewPropertyRepository(db).Create(context.Background(), &models.Property{ID: id, Title: "Villa " + id}); err != nil {
		t.Fatalf("creating property: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
	if err := db.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy: %v", err)
	}
}

func TestSourceRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProperty(t, db, "p1")
	repo := NewSourceRepository(db)

	internal := &models.CalendarSource{PropertyID: "p1", Name: "Bookings", Kind: models.SourceKindInternal, Enabled: true}
	if err := repo.Create(ctx, internal); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("second internal source rejected", func(t *testing.T) {
		dup := &models.CalendarSource{PropertyID: "p1", Kind: models.SourceKindInternal, Enabled: true}
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicateInternal) {
			t.Fatalf("expected ErrDuplicateInternal, got %v", err)
		}
	})

	t.Run("sync status keeps last success on failure", func(t *testing.T) {
		started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		if err := repo.UpdateSyncStatus(ctx, internal.ID, models.SyncStatusSuccess, &started, nil); err != nil {
			t.Fatalf("UpdateSyncStatus: %v", err)
		}
		msg := "boom"
		if err := repo.UpdateSyncStatus(ctx, internal.ID, models.SyncStatusError, nil, &msg); err != nil {
			t.Fatalf("UpdateSyncStatus: %v", err)
		}

		got, err := repo.GetByID(ctx, internal.ID)
		if err != nil || got == nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.LastSyncAt == nil || !got.LastSyncAt.Equal(started) {
			t.Errorf("last sync moved: %v", got.LastSyncAt)
		}
		if got.LastSyncStatus != models.SyncStatusError || got.LastSyncError == nil || *got.LastSyncError != "boom" {
			t.Errorf("unexpected status %s / %v", got.LastSyncStatus, got.LastSyncError)
		}
	})

	t.Run("disable and missing rows", func(t *testing.T) {
		if err := repo.Disable(ctx, internal.ID); err != nil {
			t.Fatalf("Disable: %v", err)
		}
		enabled, err := repo.ListEnabled(ctx)
		if err != nil {
			t.Fatalf("ListEnabled: %v", err)
		}
		if len(enabled) != 0 {
			t.Errorf("disabled source still listed")
		}
		if err := repo.Disable(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if src, err := repo.GetByID(ctx, "missing"); src != nil || err != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", src, err)
		}
	})
}

func TestCommitAndEvents(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProperty(t, db, "p1")

	sources := NewSourceRepository(db)
	src := &models.CalendarSource{PropertyID: "p1", Kind: models.SourceKindExternalImport, Address: "https://example.com/a.ics", Enabled: true}
	if err := sources.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	removed := now
	day := func(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }

	commit := &SyncCommit{
		PropertyID: "p1",
		Events: []models.CalendarEvent{
			{SourceID: src.ID, ExternalUID: "a", Start: day(2), End: day(4), AllDay: true, Status: models.EventConfirmed, Raw: map[string]string{"X-TEST": "1"}, UpdatedAt: now},
			{SourceID: src.ID, ExternalUID: "b", Start: day(5), End: day(6), AllDay: true, Status: models.EventCancelled, RemovedAt: &removed, UpdatedAt: now},
		},
		Intervals: []models.AvailabilityInterval{
			{Date: day(1), Status: models.DayAvailable},
			{Date: day(2), Status: models.DayBooked, SourceIDs: []string{src.ID}},
		},
	}

	availability := NewAvailabilityRepository(db)
	if err := availability.Commit(ctx, commit); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	events := NewEventRepository(db)
	all, err := events.ListBySource(ctx, src.ID)
	if err != nil {
		t.Fatalf("ListBySource: %v", err)
	}
	if len(all) != 2 || all[0].Raw["X-TEST"] != "1" || !all[0].Start.Equal(day(2)) {
		t.Fatalf("unexpected events %+v", all)
	}

	live, err := events.ListLiveByProperty(ctx, "p1")
	if err != nil {
		t.Fatalf("ListLiveByProperty: %v", err)
	}
	if len(live) != 1 || live[0].ExternalUID != "a" {
		t.Errorf("expected only the live event, got %+v", live)
	}

	intervals, err := availability.List(ctx, "p1", day(1), time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(intervals) != 2 || intervals[1].Status != models.DayBooked || intervals[1].SourceIDs[0] != src.ID {
		t.Errorf("unexpected intervals %+v", intervals)
	}

	// A second commit replaces the timeline rather than merging into it.
	commit.Intervals = commit.Intervals[:1]
	if err := availability.Commit(ctx, commit); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if intervals, _ = availability.List(ctx, "p1", day(1), time.Time{}); len(intervals) != 1 {
		t.Errorf("expected replaced timeline of 1 day, got %d", len(intervals))
	}

	if err := sources.Delete(ctx, src.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if all, _ = events.ListBySource(ctx, src.ID); len(all) != 0 {
		t.Errorf("events outlived their source: %d", len(all))
	}
}

func TestSyncRunFinalizedOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProperty(t, db, "p1")

	src := &models.CalendarSource{PropertyID: "p1", Kind: models.SourceKindExternalImport, Enabled: true}
	if err := NewSourceRepository(db).Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}

	runs := NewSyncRunRepository(db)
	run := &models.SyncRun{SourceID: src.ID, Trigger: models.TriggerManual}
	if err := runs.Create(ctx, run); err != nil {
		t.Fatalf("Create run: %v", err)
	}

	run.Outcome = models.OutcomePartial
	run.EventsProcessed = 3
	run.Conflicts = []models.SyncConflict{{
		Date:           time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		Kind:           models.ConflictSourceDisagreement,
		SourceIDs:      []string{src.ID, "other"},
		WinnerSourceID: src.ID,
		Resolved:       models.DayBooked,
	}}
	if err := runs.Finalize(ctx, run); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	run.Outcome = models.OutcomeSuccess
	if err := runs.Finalize(ctx, run); !errors.Is(err, ErrRunFinalized) {
		t.Fatalf("expected ErrRunFinalized, got %v", err)
	}

	got, err := runs.GetByID(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Outcome != models.OutcomePartial || got.ConflictsDetected != 1 || len(got.Conflicts) != 1 {
		t.Errorf("run mutated or incomplete: %+v", got)
	}
	if !got.Finished() {
		t.Error("run not marked finished")
	}

	list, err := runs.ListBySource(ctx, src.ID, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListBySource: %d runs, err %v", len(list), err)
	}
}

func TestBookingsOverlap(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProperty(t, db, "p1")

	repo := NewBookingRepository(db)
	day := func(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }
	for _, b := range []models.Booking{
		{PropertyID: "p1", CheckIn: day(1), CheckOut: day(5), Status: models.BookingConfirmed},
		{PropertyID: "p1", CheckIn: day(10), CheckOut: day(12), Status: models.BookingPending},
	} {
		b := b
		if err := repo.Create(ctx, &b); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := repo.ListBookings(ctx, "p1", day(5), day(11))
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if len(got) != 1 || !got[0].CheckIn.Equal(day(10)) {
		t.Errorf("expected only the second booking, got %+v", got)
	}
}
