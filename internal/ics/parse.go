// Package ics converts between iCalendar documents and calendar events.
// It performs no I/O; fetching lives in the calendar package.
package ics

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goical "github.com/arran4/golang-ical"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// ParseError reports a feed that could not be decoded. Fragment holds the
// offending piece of input so operators can find it in the source feed.
type ParseError struct {
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("parsing calendar: %v", e.Err)
	}
	return fmt.Sprintf("parsing calendar near %q: %v", e.Fragment, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// maxFragment bounds how much input a ParseError carries.
const maxFragment = 120

// knownProperties are decoded into CalendarEvent fields; everything else is
// kept verbatim in CalendarEvent.Raw.
var knownProperties = map[string]bool{
	"UID": true, "DTSTART": true, "DTEND": true, "DURATION": true, "STATUS": true,
	"SEQUENCE": true, "SUMMARY": true, "RRULE": true, "EXDATE": true, "DTSTAMP": true,
}

// Parse decodes an iCalendar document into events, one per VEVENT.
// Either every VEVENT decodes or a *ParseError is returned and no events are.
func Parse(body []byte) ([]models.CalendarEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Err: errors.New("empty calendar body")}
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, &ParseError{Fragment: firstLine(body), Err: errors.New("missing VCALENDAR")}
	}

	cal, err := goical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Fragment: firstLine(body), Err: err}
	}

	vevents := cal.Events()
	events := make([]models.CalendarEvent, 0, len(vevents))
	for _, ve := range vevents {
		ev, err := parseVEvent(ve)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(ve *goical.VEvent) (models.CalendarEvent, error) {
	var ev models.CalendarEvent

	dtStart := ve.GetProperty(goical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, &ParseError{Fragment: "VEVENT " + propValue(ve, goical.ComponentPropertyUniqueId), Err: errors.New("missing DTSTART")}
	}
	ev.AllDay = isDateValue(&dtStart.BaseProperty)

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, &ParseError{Fragment: fragment(&dtStart.BaseProperty), Err: err}
	}
	ev.Start = normalizeTime(start, ev.AllDay)

	if dtEnd := ve.GetProperty(goical.ComponentPropertyDtEnd); dtEnd != nil {
		end, err := ve.GetEndAt()
		if err != nil {
			return ev, &ParseError{Fragment: fragment(&dtEnd.BaseProperty), Err: err}
		}
		ev.End = normalizeTime(end, ev.AllDay || isDateValue(&dtEnd.BaseProperty))
	} else if dur := ve.GetProperty(goical.ComponentPropertyDuration); dur != nil {
		d, err := ParseDuration(dur.Value)
		if err != nil {
			return ev, &ParseError{Fragment: fragment(&dur.BaseProperty), Err: err}
		}
		ev.End = d.AddTo(ev.Start)
	} else {
		ev.End = ev.Start.AddDate(0, 0, 1)
	}

	ev.Summary = unescapeText(propValue(ve, goical.ComponentPropertySummary))
	ev.Status = models.ParseEventStatus(strings.ToUpper(strings.TrimSpace(propValue(ve, goical.ComponentPropertyStatus))))

	if seq := strings.TrimSpace(propValue(ve, goical.ComponentPropertySequence)); seq != "" {
		n, err := strconv.Atoi(seq)
		if err != nil {
			return ev, &ParseError{Fragment: "SEQUENCE:" + seq, Err: err}
		}
		ev.Sequence = n
	}

	ev.ExternalUID = strings.TrimSpace(propValue(ve, goical.ComponentPropertyUniqueId))
	if ev.ExternalUID == "" {
		ev.ExternalUID = SynthesizeUID(ev.Start, ev.End, ev.Summary)
	}

	ev.RRule = strings.TrimSpace(propValue(ve, goical.ComponentPropertyRrule))
	for _, p := range ve.GetProperties(goical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, p.ICalParameters)
			if err != nil {
				return ev, &ParseError{Fragment: fragment(&p.BaseProperty), Err: err}
			}
			ev.ExDates = append(ev.ExDates, normalizeTime(t, ev.AllDay))
		}
	}

	for _, p := range ve.Properties {
		if knownProperties[p.IANAToken] {
			continue
		}
		if ev.Raw == nil {
			ev.Raw = make(map[string]string)
		}
		if _, seen := ev.Raw[p.IANAToken]; !seen {
			ev.Raw[p.IANAToken] = p.Value
		}
	}

	return ev, nil
}

// SynthesizeUID derives a stable identifier for events whose source omits UID,
// so that re-parsing the same feed never creates duplicates.
func SynthesizeUID(start, end time.Time, summary string) string {
	sum := sha256.Sum256([]byte(start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339) + "|" + summary))
	return "synth-" + hex.EncodeToString(sum[:16]) + "@ics"
}

// isDateValue reports whether a DTSTART/DTEND carries a DATE rather than DATE-TIME.
func isDateValue(p *goical.BaseProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// normalizeTime pins all-day values to midnight UTC of their civil date.
// Timed values keep the wall clock they were written in, so TZID and floating
// times land on the local day they name. UTC values are unchanged.
func normalizeTime(t time.Time, allDay bool) time.Time {
	if allDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// parseICSTime parses a single EXDATE value, honouring a TZID parameter.
func parseICSTime(v string, params map[string][]string) (time.Time, error) {
	loc := time.UTC
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		l, err := time.LoadLocation(tz[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("loading TZID %q: %w", tz[0], err)
		}
		loc = l
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func propValue(ve *goical.VEvent, prop goical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func fragment(p *goical.BaseProperty) string {
	return truncate(p.IANAToken + ":" + p.Value)
}

func firstLine(body []byte) string {
	line := body
	if i := bytes.IndexAny(body, "\r\n"); i >= 0 {
		line = body[:i]
	}
	return truncate(string(line))
}

func truncate(s string) string {
	if len(s) > maxFragment {
		return s[:maxFragment]
	}
	return s
}

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i+1 == len(value) {
			b.WriteByte(c)
			continue
		}
		i++
		switch value[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

// escapeText applies RFC 5545 TEXT escaping.
func escapeText(value string) string {
	r := strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)
	return r.Replace(value)
}
