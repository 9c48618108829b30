package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

func TestSerializeDeterministic(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := models.CalendarEvent{
		ExternalUID: BookingUID("b2", "example.com"),
		Start:       date(2024, 6, 10),
		End:         date(2024, 6, 12),
		AllDay:      true,
		Status:      models.EventTentative,
		Summary:     "Pending",
	}
	b := models.CalendarEvent{
		ExternalUID: BookingUID("b1", "example.com"),
		Start:       date(2024, 6, 1),
		End:         date(2024, 6, 5),
		AllDay:      true,
		Status:      models.EventConfirmed,
		Summary:     "Booked",
	}

	first, err := Serialize([]models.CalendarEvent{a, b}, PropertyMeta{Title: "Villa"}, now)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	second, err := Serialize([]models.CalendarEvent{b, a}, PropertyMeta{Title: "Villa"}, now)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("output depends on input order:\n%s\n---\n%s", first, second)
	}

	out := string(first)
	for _, want := range []string{
		"METHOD:PUBLISH",
		"UID:booking-b1@example.com",
		"STATUS:TENTATIVE",
		"STATUS:CONFIRMED",
		"VALUE=DATE",
		"20240601",
		"DTSTAMP:20240501T120000Z",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "booking-b1@") > strings.Index(out, "booking-b2@") {
		t.Error("events not sorted by start")
	}
}

func TestSerializeRejectsInvalidEvents(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		ev   models.CalendarEvent
	}{
		{name: "missing uid", ev: models.CalendarEvent{Start: date(2024, 1, 1), End: date(2024, 1, 2)}},
		{name: "inverted", ev: models.CalendarEvent{ExternalUID: "x", Start: date(2024, 1, 2), End: date(2024, 1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Serialize([]models.CalendarEvent{tt.ev}, PropertyMeta{}, now); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		err  bool
	}{
		{in: "P1D", want: start.AddDate(0, 0, 1)},
		{in: "P1W", want: start.AddDate(0, 0, 7)},
		{in: "PT2H30M", want: start.Add(150 * time.Minute)},
		{in: "P1DT12H", want: start.AddDate(0, 0, 1).Add(12 * time.Hour)},
		{in: "-PT15M", want: start.Add(-15 * time.Minute)},
		{in: "P", err: true},
		{in: "1D", err: true},
		{in: "PT5", err: true},
		{in: "P1H", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDuration(tt.in)
			if tt.err {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q): %v", tt.in, err)
			}
			if got := d.AddTo(start); !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOccurrences(t *testing.T) {
	ev := models.CalendarEvent{
		ExternalUID: "cleaning@example.com",
		Start:       date(2024, 6, 3),
		End:         date(2024, 6, 4),
		AllDay:      true,
		Status:      models.EventConfirmed,
		RRule:       "FREQ=WEEKLY;COUNT=4",
		ExDates:     []time.Time{date(2024, 6, 10)},
	}

	occ, truncated, err := Occurrences(ev, date(2024, 6, 1), date(2024, 7, 1))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	if truncated {
		t.Error("unexpected truncation")
	}

	want := []time.Time{date(2024, 6, 3), date(2024, 6, 17), date(2024, 6, 24)}
	if len(occ) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(occ))
	}
	for i, w := range want {
		if !occ[i].Start.Equal(w) || !occ[i].End.Equal(w.AddDate(0, 0, 1)) {
			t.Errorf("occurrence %d = %s - %s, want start %s", i, occ[i].Start, occ[i].End, w)
		}
		if occ[i].RRule != "" {
			t.Errorf("occurrence %d still carries RRULE", i)
		}
	}

	t.Run("non recurring passes through", func(t *testing.T) {
		single := ev
		single.RRule = ""
		out, _, err := Occurrences(single, date(2024, 1, 1), date(2024, 2, 1))
		if err != nil || len(out) != 1 {
			t.Fatalf("expected passthrough, got %d events, err %v", len(out), err)
		}
	})

	t.Run("old anchor still reaches the window", func(t *testing.T) {
		yearly := ev
		yearly.Start, yearly.End = date(1900, 6, 3), date(1900, 6, 4)
		yearly.RRule = "FREQ=YEARLY"
		yearly.ExDates = nil
		out, truncated, err := Occurrences(yearly, date(2024, 6, 1), date(2024, 7, 1))
		if err != nil || truncated {
			t.Fatalf("err %v, truncated %v", err, truncated)
		}
		if len(out) != 1 || !out[0].Start.Equal(date(2024, 6, 3)) {
			t.Fatalf("expected the 2024 instance, got %+v", out)
		}
	})

	t.Run("walk from an ancient anchor is bounded", func(t *testing.T) {
		daily := ev
		daily.Start, daily.End = date(1800, 1, 1), date(1800, 1, 2)
		daily.RRule = "FREQ=DAILY"
		daily.ExDates = nil
		out, truncated, err := Occurrences(daily, date(2024, 6, 1), date(2024, 7, 1))
		if err != nil {
			t.Fatalf("Occurrences: %v", err)
		}
		if !truncated {
			t.Error("expected truncation")
		}
		if len(out) != 0 {
			t.Errorf("expected no instances past the step cap, got %d", len(out))
		}
	})

	t.Run("bad rule", func(t *testing.T) {
		bad := ev
		bad.RRule = "FREQ=SOMETIMES"
		if _, _, err := Occurrences(bad, date(2024, 1, 1), date(2024, 2, 1)); err == nil {
			t.Error("expected error")
		}
	})
}
