// Package calendar converts between calendar dates and ISO-8601 week coordinates.
// All computations are done in UTC on date-only values.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout used for every date string in snapshots.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidWeek is returned for malformed week keys or out-of-range week numbers.
	ErrInvalidWeek = errors.New("invalid ISO week")
	// ErrInvalidDate is returned for malformed date strings.
	ErrInvalidDate = errors.New("invalid date")
)

// Week is an ISO-8601 (year, week) coordinate.
type Week struct {
	Year   int
	Number int
}

// String returns the storage key of the week, e.g. "2025-07".
func (w Week) String() string {
	return FormatWeek(w.Year, w.Number)
}

// Valid reports whether the week exists in its ISO year.
func (w Week) Valid() bool {
	return w.Year >= 1 && w.Year <= 9999 && w.Number >= 1 && w.Number <= WeeksInYear(w.Year)
}

// Before reports whether w is chronologically before o.
func (w Week) Before(o Week) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Number < o.Number
}

// FormatWeek renders a (year, week) pair as "YYYY-WW".
func FormatWeek(year, week int) string {
	return fmt.Sprintf("%04d-%02d", year, week)
}

// ParseWeek parses a "YYYY-WW" key. It is the left inverse of FormatWeek.
func ParseWeek(s string) (Week, error) {
	yearStr, weekStr, ok := strings.Cut(s, "-")
	if !ok || len(yearStr) != 4 || len(weekStr) != 2 {
		return Week{}, fmt.Errorf("%w: %q (want YYYY-WW)", ErrInvalidWeek, s)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return Week{}, fmt.Errorf("%w: %q: %v", ErrInvalidWeek, s, err)
	}
	number, err := strconv.Atoi(weekStr)
	if err != nil {
		return Week{}, fmt.Errorf("%w: %q: %v", ErrInvalidWeek, s, err)
	}
	w := Week{Year: year, Number: number}
	if !w.Valid() {
		return Week{}, fmt.Errorf("%w: %q: year %d has %d weeks", ErrInvalidWeek, s, year, WeeksInYear(year))
	}
	return w, nil
}

// WeeksInYear returns the number of ISO weeks (52 or 53) in the given ISO year.
// December 28th always falls in the last ISO week of its year.
func WeeksInYear(year int) int {
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

// WeekOf returns the ISO week containing t, evaluated in UTC.
func WeekOf(t time.Time) Week {
	year, week := t.UTC().ISOWeek()
	return Week{Year: year, Number: week}
}

// CurrentWeek returns the ISO week containing now.
func CurrentWeek(now time.Time) Week {
	return WeekOf(now)
}

// WeekForDate returns the ISO week of a "YYYY-MM-DD" date string.
func WeekForDate(date string) (Week, error) {
	t, err := ParseDate(date)
	if err != nil {
		return Week{}, err
	}
	return WeekOf(t), nil
}

// DateRange returns the Monday and Sunday bounding the week, both at UTC midnight.
func DateRange(w Week) (start, end time.Time) {
	// Week 1 is the week containing January 4th.
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7 // days since Monday
	start = jan4.AddDate(0, 0, -offset+(w.Number-1)*7)
	end = start.AddDate(0, 0, 6)
	return start, end
}

// AllDates returns the seven dates of the week in ascending order.
func AllDates(w Week) []string {
	start, _ := DateRange(w)
	dates := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		dates = append(dates, FormatDate(start.AddDate(0, 0, i)))
	}
	return dates
}

// PreviousWeek returns the week before w, rolling back into the last ISO week
// of the previous year when w is week 1.
func PreviousWeek(w Week) Week {
	if w.Number > 1 {
		return Week{Year: w.Year, Number: w.Number - 1}
	}
	return Week{Year: w.Year - 1, Number: WeeksInYear(w.Year - 1)}
}

// NextWeek returns the week after w.
func NextWeek(w Week) Week {
	if w.Number < WeeksInYear(w.Year) {
		return Week{Year: w.Year, Number: w.Number + 1}
	}
	return Week{Year: w.Year + 1, Number: 1}
}

// WeeksBetween returns every week from 'from' to 'to' inclusive, in order.
// It returns nil if 'to' is before 'from'.
func WeeksBetween(from, to Week) []Week {
	var weeks []Week
	for w := from; !to.Before(w); w = NextWeek(w) {
		weeks = append(weeks, w)
	}
	return weeks
}

// ParseDate parses a "YYYY-MM-DD" date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidDate, s, err)
	}
	return t, nil
}

// FormatDate renders the UTC calendar date of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
