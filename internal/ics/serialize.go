package ics

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	goical "github.com/arran4/golang-ical"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// DefaultProductID is the PRODID written when PropertyMeta leaves it empty.
const DefaultProductID = "-//cluster-estate//calendar sync//EN"

// PropertyMeta describes the calendar-level properties of a published feed.
type PropertyMeta struct {
	ID        string
	Title     string
	Location  string
	ProductID string
}

// BookingUID is the UID of a booking-derived event published by this system.
func BookingUID(bookingID, domain string) string {
	return fmt.Sprintf("booking-%s@%s", bookingID, domain)
}

// BlockUID is the UID of a manual-block event published by this system.
func BlockUID(blockID, domain string) string {
	return fmt.Sprintf("block-%s@%s", blockID, domain)
}

// Serialize renders events as a VCALENDAR document. Events are ordered by
// start then UID and DTSTAMP is always now, so identical input yields
// identical bytes.
func Serialize(events []models.CalendarEvent, meta PropertyMeta, now time.Time) ([]byte, error) {
	sorted := make([]models.CalendarEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].ExternalUID < sorted[j].ExternalUID
	})

	productID := meta.ProductID
	if productID == "" {
		productID = DefaultProductID
	}

	cal := goical.NewCalendarFor(productID)
	cal.SetMethod(goical.MethodPublish)
	if meta.Title != "" {
		cal.SetXWRCalName(escapeText(meta.Title))
	}

	stamp := now.UTC()
	for _, ev := range sorted {
		if ev.ExternalUID == "" {
			return nil, fmt.Errorf("serializing event starting %s: missing UID", ev.Start.Format(time.RFC3339))
		}
		if !ev.End.After(ev.Start) {
			return nil, fmt.Errorf("serializing event %s: end not after start", ev.ExternalUID)
		}

		ve := cal.AddEvent(ev.ExternalUID)
		ve.SetDtStampTime(stamp)
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		if ev.Summary != "" {
			ve.SetProperty(goical.ComponentPropertySummary, escapeText(ev.Summary))
		}
		if meta.Location != "" {
			ve.SetProperty(goical.ComponentPropertyLocation, escapeText(meta.Location))
		}
		ve.SetStatus(objectStatus(ev.Status))
		ve.SetProperty(goical.ComponentPropertySequence, strconv.Itoa(ev.Sequence))
		if ev.RRule != "" {
			ve.SetProperty(goical.ComponentPropertyRrule, ev.RRule)
			for _, ex := range ev.ExDates {
				if ev.AllDay {
					ve.AddProperty(goical.ComponentPropertyExdate, ex.Format("20060102"), goical.WithValue("DATE"))
				} else {
					ve.AddProperty(goical.ComponentPropertyExdate, ex.UTC().Format("20060102T150405Z"))
				}
			}
		}
	}

	return []byte(cal.Serialize()), nil
}

func objectStatus(s models.EventStatus) goical.ObjectStatus {
	switch s {
	case models.EventTentative:
		return goical.ObjectStatusTentative
	case models.EventCancelled:
		return goical.ObjectStatusCancelled
	default:
		return goical.ObjectStatusConfirmed
	}
}
