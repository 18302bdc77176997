package queue

import (
	"testing"
	"time"
)

func TestFormatTimeFixedWidth(t *testing.T) {
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	width := len(formatTime(base))
	for _, offset := range []time.Duration{
		0,
		100 * time.Millisecond,
		123456789 * time.Nanosecond,
		time.Second,
		time.Hour,
	} {
		if got := formatTime(base.Add(offset)); len(got) != width {
			t.Fatalf("variable width: %q vs %q", got, formatTime(base))
		}
	}
}

func TestFormatTimeLexicographicOrderMatchesChronology(t *testing.T) {
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	// .1s versus .123456789s is exactly the shape a trailing-zero-trimming
	// format misorders under binary TEXT collation.
	earlier := formatTime(base.Add(100 * time.Millisecond))
	later := formatTime(base.Add(123456789 * time.Nanosecond))
	if earlier >= later {
		t.Fatalf("expected %q < %q", earlier, later)
	}

	times := []time.Time{
		base,
		base.Add(time.Nanosecond),
		base.Add(100 * time.Millisecond),
		base.Add(123456789 * time.Nanosecond),
		base.Add(500 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		a, b := formatTime(times[i-1]), formatTime(times[i])
		if a >= b {
			t.Fatalf("order broken at %d: %q >= %q", i, a, b)
		}
	}
}

func TestFormatTimeRoundTrips(t *testing.T) {
	ts := time.Date(2026, 8, 23, 12, 0, 0, 100000000, time.UTC)
	parsed, err := parseTimeString(formatTime(ts))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Fatalf("round trip: %s != %s", parsed, ts)
	}
}
