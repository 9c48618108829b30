package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is an RFC 5545 DURATION value. Days are nominal (calendar days)
// and Clock is exact, so adding one day across a DST change keeps wall time.
type Duration struct {
	Days     int
	Clock    time.Duration
	Negative bool
}

// AddTo returns t shifted by d.
func (d Duration) AddTo(t time.Time) time.Time {
	if d.Negative {
		return t.AddDate(0, 0, -d.Days).Add(-d.Clock)
	}
	return t.AddDate(0, 0, d.Days).Add(d.Clock)
}

// ParseDuration parses values such as P1D, PT2H30M, P1W and -P1DT12H.
func ParseDuration(v string) (Duration, error) {
	var d Duration
	s := strings.ToUpper(strings.TrimSpace(v))

	switch {
	case strings.HasPrefix(s, "-"):
		d.Negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return d, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	inTime := false
	num := ""
	seen := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			num += string(c)
			continue
		case c == 'T':
			if inTime || num != "" {
				return d, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}

		if num == "" {
			return d, fmt.Errorf("invalid duration %q: missing number before %c", v, c)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return d, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""
		seen = true

		switch {
		case !inTime && c == 'W':
			d.Days += n * 7
		case !inTime && c == 'D':
			d.Days += n
		case inTime && c == 'H':
			d.Clock += time.Duration(n) * time.Hour
		case inTime && c == 'M':
			d.Clock += time.Duration(n) * time.Minute
		case inTime && c == 'S':
			d.Clock += time.Duration(n) * time.Second
		default:
			return d, fmt.Errorf("invalid duration %q: unexpected %c", v, c)
		}
	}

	if num != "" || !seen {
		return d, fmt.Errorf("invalid duration %q", v)
	}

	return d, nil
}
