package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock abstracts the current time.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock, in UTC.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is a manually driven clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a fake clock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Calendar computes wall-clock aligned windows in a fixed location.
// The daily boundary falls at ResetHour local time.
type Calendar struct {
	loc       *time.Location
	resetHour int
}

// NewCalendar creates a calendar for the named location.
func NewCalendar(location string, resetHour int) (*Calendar, error) {
	if location == "" {
		location = "UTC"
	}
	loc, err := time.LoadLocation(location)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", location, err)
	}
	if resetHour < 0 || resetHour > 23 {
		return nil, fmt.Errorf("reset hour %d out of range", resetHour)
	}
	return &Calendar{loc: loc, resetHour: resetHour}, nil
}

// UTCCalendar returns a calendar with midnight UTC resets.
func UTCCalendar() *Calendar {
	return &Calendar{loc: time.UTC}
}

// HourWindow returns the hour containing t, aligned to the top of the hour.
func (c *Calendar) HourWindow(t time.Time) (start, end time.Time) {
	local := t.In(c.loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, c.loc)
	return start.UTC(), start.Add(time.Hour).UTC()
}

// DayWindow returns the ledger day containing t.
func (c *Calendar) DayWindow(t time.Time) (start, end time.Time) {
	local := t.In(c.loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), c.resetHour, 0, 0, 0, c.loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	end = start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}

// Day returns the ledger day containing t as YYYY-MM-DD.
func (c *Calendar) Day(t time.Time) string {
	start, _ := c.DayWindow(t)
	return start.In(c.loc).Format(time.DateOnly)
}
