package markethours

import (
	"testing"
	"time"
)

func et(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, Eastern)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid-session weekday", et(time.March, 4, 11, 0), true},
		{"at open", et(time.March, 4, 9, 30), true},
		{"just before open", et(time.March, 4, 9, 29), false},
		{"at close", et(time.March, 4, 16, 0), false},
		{"last minute", et(time.March, 4, 15, 59), true},
		{"saturday", et(time.March, 7, 11, 0), false},
		{"sunday", et(time.March, 8, 11, 0), false},
		{"christmas", et(time.December, 25, 11, 0), false},
		{"juneteenth", et(time.June, 19, 11, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.t); got != tt.want {
				t.Errorf("IsMarketOpen(%s) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestNextOpen(t *testing.T) {
	// Friday after close rolls over the weekend to Monday.
	friEvening := et(time.March, 6, 18, 0)
	next := NextOpen(friEvening)
	want := et(time.March, 9, 9, 30)
	if !next.Equal(want) {
		t.Errorf("NextOpen(Fri evening) = %s, want %s", next, want)
	}

	// Before open on a trading day returns the same day's open.
	wedMorning := et(time.March, 4, 8, 0)
	next = NextOpen(wedMorning)
	want = et(time.March, 4, 9, 30)
	if !next.Equal(want) {
		t.Errorf("NextOpen(Wed morning) = %s, want %s", next, want)
	}

	// Thanksgiving (Thu Nov 26) is skipped.
	wedBefore := et(time.November, 25, 18, 0)
	next = NextOpen(wedBefore)
	want = et(time.November, 27, 9, 30)
	if !next.Equal(want) {
		t.Errorf("NextOpen(day before Thanksgiving) = %s, want %s", next, want)
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(et(time.March, 4, 15, 0)); d != time.Hour {
		t.Errorf("TimeUntilClose(3pm) = %s, want 1h", d)
	}
	if d := TimeUntilClose(et(time.March, 4, 18, 0)); d != 0 {
		t.Errorf("TimeUntilClose(after close) = %s, want 0", d)
	}
}
