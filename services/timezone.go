package services

import (
	"fmt"
	"strings"
	"time"
)

const WallClockLayout = "2006-01-02 15:04"

var wallClockLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Normalizer converts between the business operating timezone and UTC storage.
type Normalizer struct {
	loc               *time.Location
	actualStartOffset time.Duration
}

// NewNormalizer builds a Normalizer for a fixed UTC offset in hours. A zero
// actualStartOffset disables the actual-start rule.
func NewNormalizer(utcOffsetHours int, actualStartOffset time.Duration) *Normalizer {
	name := fmt.Sprintf("UTC%+d", utcOffsetHours)
	return &Normalizer{
		loc:               time.FixedZone(name, utcOffsetHours*3600),
		actualStartOffset: actualStartOffset,
	}
}

func (n *Normalizer) Location() *time.Location { return n.loc }

// ToUTC parses a wall-clock string in the business zone. The input is returned
// unchanged as the display value.
func (n *Normalizer) ToUTC(wallClock string) (time.Time, string, error) {
	raw := strings.TrimSpace(wallClock)
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, raw, n.loc); err == nil {
			return t.UTC(), wallClock, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, wallClock)
}

// ParseTimeOfDay normalizes "HH:MM" or "HH:MM:SS" to "HH:MM".
func (n *Normalizer) ParseTimeOfDay(value string) (string, error) {
	raw := strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("%w: time of day %q", ErrInvalidTimeFormat, value)
}

// WallClock renders an instant in the business zone.
func (n *Normalizer) WallClock(t time.Time) string {
	return t.In(n.loc).Format(WallClockLayout)
}

// ActualStart applies the business rule that a lesson really starts
// actualStartOffset before its recorded time. Display only; storage keeps
// scheduled_at untouched.
func (n *Normalizer) ActualStart(scheduledAt time.Time) time.Time {
	return scheduledAt.Add(-n.actualStartOffset).UTC()
}

// NextOccurrence returns the first instant on or after now that falls on
// dayOfWeek at timeOfDay in the business zone.
func (n *Normalizer) NextOccurrence(dayOfWeek int, timeOfDay string, now time.Time) (time.Time, error) {
	hm, err := n.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	clock, _ := time.Parse("15:04", hm)

	local := now.In(n.loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, n.loc)
	delta := (dayOfWeek - int(local.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, delta)
	if candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate.UTC(), nil
}
