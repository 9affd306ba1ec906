package services

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizerToUTC(t *testing.T) {
	tz := NewNormalizer(5, 2*time.Hour)
	cases := []struct {
		input string
		want  time.Time
	}{
		{"2025-03-10 10:00", utc(2025, 3, 10, 5, 0)},
		{"2025-03-10T10:00", utc(2025, 3, 10, 5, 0)},
		{"2025-03-10 02:30:00", utc(2025, 3, 9, 21, 30)},
		{" 2025-03-10T23:15:00 ", utc(2025, 3, 10, 18, 15)},
	}
	for _, tc := range cases {
		got, original, err := tz.ToUTC(tc.input)
		if err != nil {
			t.Fatalf("ToUTC(%q) error: %v", tc.input, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ToUTC(%q) = %s, want %s", tc.input, got, tc.want)
		}
		if original != tc.input {
			t.Fatalf("original string changed: %q -> %q", tc.input, original)
		}
	}

	for _, bad := range []string{"", "10/03/2025 10:00", "2025-03-10", "2025-13-01 10:00"} {
		if _, _, err := tz.ToUTC(bad); !errors.Is(err, ErrInvalidTimeFormat) {
			t.Fatalf("ToUTC(%q): expected ErrInvalidTimeFormat, got %v", bad, err)
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tz := NewNormalizer(5, 0)
	valid := map[string]string{
		"14:00":    "14:00",
		"14:00:00": "14:00",
		"07:05":    "07:05",
	}
	for input, want := range valid {
		got, err := tz.ParseTimeOfDay(input)
		if err != nil || got != want {
			t.Fatalf("ParseTimeOfDay(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	for _, bad := range []string{"25:00", "noon", "14-00"} {
		if _, err := tz.ParseTimeOfDay(bad); !errors.Is(err, ErrInvalidTimeFormat) {
			t.Fatalf("ParseTimeOfDay(%q): expected ErrInvalidTimeFormat, got %v", bad, err)
		}
	}
}

func TestActualStartOffset(t *testing.T) {
	scheduled := utc(2025, 3, 10, 5, 0)

	tz := NewNormalizer(5, 2*time.Hour)
	if got := tz.ActualStart(scheduled); !got.Equal(utc(2025, 3, 10, 3, 0)) {
		t.Fatalf("expected actual start two hours earlier, got %s", got)
	}
	if got := tz.WallClock(scheduled); got != "2025-03-10 10:00" {
		t.Fatalf("display time must not carry the offset, got %q", got)
	}

	disabled := NewNormalizer(5, 0)
	if got := disabled.ActualStart(scheduled); !got.Equal(scheduled) {
		t.Fatalf("zero offset should disable the rule, got %s", got)
	}
}

func TestNextOccurrence(t *testing.T) {
	tz := NewNormalizer(5, 0)
	// Monday 2025-03-10 10:00 local is 05:00 UTC.
	monday10 := utc(2025, 3, 10, 5, 0)
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"exactly at the slot", monday10, monday10},
		{"one minute late", monday10.Add(time.Minute), monday10.Add(week)},
		{"earlier in the week", wednesday, monday10},
		{"local day differs from utc day", utc(2025, 3, 9, 20, 0), monday10},
	}
	for _, tc := range cases {
		got, err := tz.NextOccurrence(1, "10:00", tc.now)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
