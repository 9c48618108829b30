package availability

import (
	"fmt"
	"testing"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func june() Horizon {
	return Horizon{From: day(6, 1), To: day(7, 1)}
}

func statusOn(t *testing.T, res Result, d time.Time) models.AvailabilityInterval {
	t.Helper()
	for _, iv := range res.Intervals {
		if iv.Date.Equal(d) {
			return iv
		}
	}
	t.Fatalf("no interval for %s", d.Format(DateLayout))
	return models.AvailabilityInterval{}
}

func source(id string, priority int) models.CalendarSource {
	return models.CalendarSource{ID: id, Kind: models.SourceKindExternalImport, Priority: priority, Enabled: true}
}

func event(sourceID, uid string, start, end time.Time, status models.EventStatus) models.CalendarEvent {
	return models.CalendarEvent{SourceID: sourceID, ExternalUID: uid, Start: start, End: end, AllDay: true, Status: status}
}

func TestReconcileOneIntervalPerDay(t *testing.T) {
	res := Reconcile(Input{PropertyID: "p1", Horizon: june()})

	if len(res.Intervals) != 30 {
		t.Fatalf("expected 30 intervals, got %d", len(res.Intervals))
	}
	seen := make(map[time.Time]bool)
	for i, iv := range res.Intervals {
		if seen[iv.Date] {
			t.Fatalf("duplicate interval for %s", iv.Date)
		}
		seen[iv.Date] = true
		if want := day(6, 1).AddDate(0, 0, i); !iv.Date.Equal(want) {
			t.Errorf("interval %d dated %s, want %s", i, iv.Date, want)
		}
		if iv.Status != models.DayAvailable {
			t.Errorf("empty input should be available, got %s", iv.Status)
		}
		if iv.PropertyID != "p1" {
			t.Errorf("unexpected property %q", iv.PropertyID)
		}
	}
}

func TestReconcileConfirmedBookingWins(t *testing.T) {
	res := Reconcile(Input{
		PropertyID: "p1",
		Horizon:    june(),
		Sources:    []models.CalendarSource{source("airbnb", 1)},
		Bookings: []models.Booking{
			{ID: "b1", CheckIn: day(6, 1), CheckOut: day(6, 5), Status: models.BookingConfirmed},
		},
		Events: []models.CalendarEvent{
			event("airbnb", "e1", day(6, 1), day(6, 10), models.EventCancelled),
		},
	})

	for d := 1; d <= 4; d++ {
		if iv := statusOn(t, res, day(6, d)); iv.Status != models.DayBooked {
			t.Errorf("06-%02d: got %s, want booked", d, iv.Status)
		}
	}
	if iv := statusOn(t, res, day(6, 5)); iv.Status != models.DayAvailable {
		t.Errorf("check-out day should be free, got %s", iv.Status)
	}

	iv := statusOn(t, res, day(6, 2))
	if len(iv.SourceIDs) != 2 || iv.SourceIDs[0] != "airbnb" || iv.SourceIDs[1] != "booking:b1" {
		t.Errorf("unexpected provenance %v", iv.SourceIDs)
	}
}

func TestReconcileExternalPriority(t *testing.T) {
	tests := []struct {
		name       string
		prioA      int
		prioB      int
		want       models.DayStatus
		wantWinner string
	}{
		{name: "higher precedence says booked", prioA: 1, prioB: 2, want: models.DayBooked, wantWinner: "a"},
		{name: "higher precedence says available", prioA: 2, prioB: 1, want: models.DayAvailable, wantWinner: "b"},
		{name: "equal priority is restrictive", prioA: 1, prioB: 1, want: models.DayBooked, wantWinner: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile(Input{
				PropertyID: "p1",
				Horizon:    june(),
				Sources:    []models.CalendarSource{source("a", tt.prioA), source("b", tt.prioB)},
				Events: []models.CalendarEvent{
					event("a", "x", day(6, 10), day(6, 11), models.EventConfirmed),
					event("b", "y", day(6, 10), day(6, 11), models.EventCancelled),
				},
			})

			if iv := statusOn(t, res, day(6, 10)); iv.Status != tt.want {
				t.Errorf("got %s, want %s", iv.Status, tt.want)
			}
			if len(res.Conflicts) != 1 {
				t.Fatalf("expected 1 conflict, got %d", len(res.Conflicts))
			}
			c := res.Conflicts[0]
			if c.WinnerSourceID != tt.wantWinner || !c.Date.Equal(day(6, 10)) || c.Kind != models.ConflictSourceDisagreement {
				t.Errorf("unexpected conflict %+v", c)
			}
			if res.Err() == nil {
				t.Error("expected ConflictDetected")
			}
		})
	}
}

func TestReconcileAgreementIsNotAConflict(t *testing.T) {
	res := Reconcile(Input{
		Horizon: june(),
		Sources: []models.CalendarSource{source("a", 1), source("b", 2)},
		Events: []models.CalendarEvent{
			event("a", "x", day(6, 10), day(6, 12), models.EventConfirmed),
			event("b", "y", day(6, 11), day(6, 13), models.EventConfirmed),
		},
	})
	if len(res.Conflicts) != 0 {
		t.Errorf("expected no conflicts, got %+v", res.Conflicts)
	}
	if res.Err() != nil {
		t.Errorf("unexpected error %v", res.Err())
	}
}

func TestReconcilePrecedence(t *testing.T) {
	res := Reconcile(Input{
		Horizon: june(),
		Sources: []models.CalendarSource{source("vrbo", 1)},
		Bookings: []models.Booking{
			{ID: "pending", CheckIn: day(6, 3), CheckOut: day(6, 5), Status: models.BookingAwaitingApproval},
			{ID: "gone", CheckIn: day(6, 20), CheckOut: day(6, 22), Status: models.BookingCanceled},
		},
		Blocks: []models.ManualBlock{
			{ID: "paint", Start: day(6, 1), End: day(6, 4)},
		},
		Events: []models.CalendarEvent{
			event("vrbo", "t", day(6, 7), day(6, 8), models.EventTentative),
			event("vrbo", "c", day(6, 4), day(6, 5), models.EventConfirmed),
		},
	})

	tests := []struct {
		d    int
		want models.DayStatus
	}{
		{1, models.DayBlocked},
		{3, models.DayPending},
		{4, models.DayBooked},
		{7, models.DayPending},
		{20, models.DayAvailable},
	}
	for _, tt := range tests {
		if iv := statusOn(t, res, day(6, tt.d)); iv.Status != tt.want {
			t.Errorf("06-%02d: got %s, want %s", tt.d, iv.Status, tt.want)
		}
	}
}

func TestReconcileSkipsBadInput(t *testing.T) {
	removed := day(5, 1)
	res := Reconcile(Input{
		Horizon: june(),
		Sources: []models.CalendarSource{source("a", 1)},
		Events: []models.CalendarEvent{
			event("a", "inverted", day(6, 5), day(6, 2), models.EventConfirmed),
			event("a", "zero", day(6, 5), day(6, 5), models.EventConfirmed),
			event("ghost", "orphan", day(6, 5), day(6, 6), models.EventConfirmed),
			{SourceID: "a", ExternalUID: "gone", Start: day(6, 8), End: day(6, 9), Status: models.EventConfirmed, RemovedAt: &removed},
			event("a", "outside", day(8, 1), day(8, 5), models.EventConfirmed),
		},
	})

	if len(res.Anomalies) != 3 {
		t.Errorf("expected 3 anomalies, got %+v", res.Anomalies)
	}
	for _, iv := range res.Intervals {
		if iv.Status != models.DayAvailable {
			t.Errorf("%s: expected available, got %s", iv.Date.Format(DateLayout), iv.Status)
		}
	}
}

func TestReconcileTimedSameDayEvent(t *testing.T) {
	res := Reconcile(Input{
		Horizon: june(),
		Sources: []models.CalendarSource{source("a", 1)},
		Events: []models.CalendarEvent{{
			SourceID:    "a",
			ExternalUID: "viewing",
			Start:       time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC),
			End:         time.Date(2024, 6, 12, 11, 0, 0, 0, time.UTC),
			Status:      models.EventConfirmed,
		}},
	})

	if iv := statusOn(t, res, day(6, 12)); iv.Status != models.DayBooked {
		t.Errorf("got %s, want booked", iv.Status)
	}
	if iv := statusOn(t, res, day(6, 13)); iv.Status != models.DayAvailable {
		t.Errorf("got %s, want available", iv.Status)
	}
}

func TestReconcileRecurringEvent(t *testing.T) {
	ev := event("a", "weekly", day(6, 3), day(6, 4), models.EventConfirmed)
	ev.RRule = "FREQ=WEEKLY;COUNT=2"

	res := Reconcile(Input{
		Horizon: june(),
		Sources: []models.CalendarSource{source("a", 1)},
		Events:  []models.CalendarEvent{ev},
	})

	for _, d := range []int{3, 10} {
		if iv := statusOn(t, res, day(6, d)); iv.Status != models.DayBooked {
			t.Errorf("06-%02d: got %s, want booked", d, iv.Status)
		}
	}
	if iv := statusOn(t, res, day(6, 17)); iv.Status != models.DayAvailable {
		t.Errorf("06-17: got %s, want available", iv.Status)
	}
}

func TestConflictsInvolving(t *testing.T) {
	conflicts := []models.SyncConflict{
		{SourceIDs: []string{"a", "b"}},
		{SourceIDs: []string{"b", "c"}},
	}
	if got := ConflictsInvolving(conflicts, "a"); len(got) != 1 {
		t.Errorf("expected 1 conflict for a, got %d", len(got))
	}
	if got := ConflictsInvolving(conflicts, "b"); len(got) != 2 {
		t.Errorf("expected 2 conflicts for b, got %d", len(got))
	}
}

func TestReconcileClipsLongIntervalsToHorizon(t *testing.T) {
	ancient := time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	distant := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

	in := Input{
		Horizon:  june(),
		Sources:  []models.CalendarSource{source("a", 1)},
		Bookings: []models.Booking{{ID: "b1", CheckIn: ancient, CheckOut: distant, Status: models.BookingPending}},
		Blocks:   []models.ManualBlock{{ID: "k1", Start: ancient, End: distant}},
	}
	for i := 0; i < 200; i++ {
		in.Events = append(in.Events, event("a", fmt.Sprintf("forever-%d", i), ancient, distant, models.EventConfirmed))
	}

	started := time.Now()
	res := Reconcile(in)
	if took := time.Since(started); took > 5*time.Second {
		t.Fatalf("reconcile took %s", took)
	}

	if len(res.Intervals) != 30 {
		t.Fatalf("expected 30 intervals, got %d", len(res.Intervals))
	}
	for _, iv := range res.Intervals {
		if iv.Status != models.DayBooked {
			t.Errorf("%s: got %s, want booked", iv.Date.Format(DateLayout), iv.Status)
		}
	}

	t.Run("timed end before horizon day", func(t *testing.T) {
		res := Reconcile(Input{
			Horizon: june(),
			Sources: []models.CalendarSource{source("a", 1)},
			Events: []models.CalendarEvent{{
				SourceID:    "a",
				ExternalUID: "late-checkout",
				Start:       time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC),
				End:         time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
				Status:      models.EventConfirmed,
			}},
		})
		if iv := statusOn(t, res, day(6, 1)); iv.Status != models.DayAvailable {
			t.Errorf("got %s, want available", iv.Status)
		}
	})
}
