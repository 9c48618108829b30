package availability

import (
	"testing"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

func find(events []models.CalendarEvent, uid string) *models.CalendarEvent {
	for i := range events {
		if events[i].ExternalUID == uid {
			return &events[i]
		}
	}
	return nil
}

func TestMergeEventsKeepsHigherSequence(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	stored := []models.CalendarEvent{{
		SourceID: "a", ExternalUID: "E1", Start: day(6, 1), End: day(6, 3),
		Status: models.EventCancelled, Sequence: 2,
	}}
	stale := []models.CalendarEvent{{
		SourceID: "a", ExternalUID: "E1", Start: day(6, 1), End: day(6, 3),
		Status: models.EventConfirmed, Sequence: 1,
	}}

	merged, stats := MergeEvents(stored, stale, now)

	ev := find(merged, "E1")
	if ev == nil {
		t.Fatal("E1 missing from merge")
	}
	if ev.Status != models.EventCancelled || ev.Sequence != 2 {
		t.Errorf("stale update applied: %s seq %d", ev.Status, ev.Sequence)
	}
	if stats.Stale != 1 || stats.Updated != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMergeEventsEqualSequenceTakesFeed(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	stored := []models.CalendarEvent{{ExternalUID: "E1", Start: day(6, 1), End: day(6, 3), Status: models.EventConfirmed}}
	moved := []models.CalendarEvent{{ExternalUID: "E1", Start: day(6, 2), End: day(6, 4), Status: models.EventConfirmed}}

	merged, stats := MergeEvents(stored, moved, now)

	if ev := find(merged, "E1"); !ev.Start.Equal(day(6, 2)) || !ev.UpdatedAt.Equal(now) {
		t.Errorf("equal-sequence edit not applied: %+v", ev)
	}
	if stats.Updated != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	_, stats = MergeEvents(merged, moved, now.Add(time.Hour))
	if stats.Unchanged != 1 || stats.Updated != 0 {
		t.Errorf("identical feed should be unchanged, got %+v", stats)
	}
}

func TestMergeEventsSoftRemovesAndRestores(t *testing.T) {
	t0 := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	feed := []models.CalendarEvent{
		{ExternalUID: "keep", Start: day(6, 1), End: day(6, 2), Sequence: 3},
		{ExternalUID: "drop", Start: day(6, 5), End: day(6, 6), Sequence: 5},
	}

	merged, stats := MergeEvents(nil, feed, t0)
	if stats.Added != 2 || stats.Processed() != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	t1 := t0.Add(time.Hour)
	merged, stats = MergeEvents(merged, feed[:1], t1)
	drop := find(merged, "drop")
	if drop == nil || drop.RemovedAt == nil || !drop.RemovedAt.Equal(t1) {
		t.Fatalf("expected drop to be soft-removed at %s, got %+v", t1, drop)
	}
	if stats.Removed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	// Still absent: removal time is kept.
	merged, _ = MergeEvents(merged, feed[:1], t1.Add(time.Hour))
	if drop = find(merged, "drop"); !drop.RemovedAt.Equal(t1) {
		t.Errorf("removal time moved to %s", drop.RemovedAt)
	}

	// Reappears with a lower sequence: restored but content kept.
	back := models.CalendarEvent{ExternalUID: "drop", Start: day(6, 20), End: day(6, 21), Sequence: 1}
	merged, stats = MergeEvents(merged, []models.CalendarEvent{feed[0], back}, t1.Add(2*time.Hour))
	drop = find(merged, "drop")
	if drop.RemovedAt != nil {
		t.Error("reappearing event still marked removed")
	}
	if !drop.Start.Equal(day(6, 5)) || drop.Sequence != 5 {
		t.Errorf("stale content applied on restore: %+v", drop)
	}
	if stats.Restored != 1 || stats.Stale != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMergeEventsDuplicateUIDsInFeed(t *testing.T) {
	feed := []models.CalendarEvent{
		{ExternalUID: "dup", Start: day(6, 1), End: day(6, 2), Sequence: 4},
		{ExternalUID: "dup", Start: day(6, 9), End: day(6, 10), Sequence: 2},
	}
	merged, _ := MergeEvents(nil, feed, time.Now())
	if len(merged) != 1 || merged[0].Sequence != 4 {
		t.Errorf("expected highest sequence to survive, got %+v", merged)
	}
}
