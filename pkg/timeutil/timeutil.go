// Package timeutil provides the day arithmetic and clocks used by streak
// tracking. Every function takes an explicit *time.Location so that calendar
// boundaries follow the configured learner time zone instead of the host's.
package timeutil

import (
	"sync"
	"time"
)

// Day is the length of one elapsed day.
const Day = 24 * time.Hour

// DateLayout is the ISO date format used in logs and responses.
const DateLayout = "2006-01-02"

// LoadLocation resolves an IANA zone name, falling back to UTC for empty or
// unknown names.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StartOfDay returns midnight of t's date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// ElapsedDays returns floor((to - from) / 24h). The result is negative when
// to precedes from.
func ElapsedDays(from, to time.Time) int {
	d := to.Sub(from)
	days := d / Day
	if d < 0 && d%Day != 0 {
		days--
	}
	return int(days)
}

// CalendarDaysBetween returns the signed number of calendar dates between
// from and to in loc. 23:59 and 00:01 of the next day are one day apart.
func CalendarDaysBetween(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	f, t := from.In(loc), to.In(loc)
	// Compare dates on a UTC grid so DST transitions do not shorten a day.
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd) / Day)
}

// IsSameDay checks if two times fall on the same date in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return CalendarDaysBetween(t1, t2, loc) == 0
}

// FormatDate renders t's date in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCKS
// ══════════════════════════════════════════════════════════════════════════════

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is a manually advanced clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
