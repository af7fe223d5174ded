// Package daterange validates caller date ranges against a provider's span
// and recency rules and splits open-ended ranges into upstream-legal windows.
// All range math is done on UTC calendar days; "today" always comes from an
// injected clock.
package daterange

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Layouts used by the providers.
const (
	ISOLayout   = "2006-01-02"
	SlashLayout = "02/01/2006"
)

var parseLayouts = []string{
	ISOLayout,
	SlashLayout,
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar day.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysBetween returns to-from in whole calendar days.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// ParseDay parses a date in any provider layout and truncates it to a day.
func ParseDay(s string) (time.Time, error) {
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// ParseTime parses a date or timestamp in any provider layout. Timestamps
// without a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("daterange: empty date")
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("daterange: unrecognized date %q", s)
}
