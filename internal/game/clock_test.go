package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMultiplierAt(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{elapsed: -time.Second, want: "1.00"},
		{elapsed: 0, want: "1.00"},
		{elapsed: 100 * time.Millisecond, want: "1.00"},
		{elapsed: time.Second, want: "1.06"},
		{elapsed: 2 * time.Second, want: "1.12"},
		{elapsed: 7 * time.Second, want: "1.52"},
		{elapsed: 12 * time.Second, want: "2.05"},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			got := MultiplierAt(tt.elapsed, GROWTH_RATE)
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestMultiplierAt_Monotonic(t *testing.T) {
	prev := MultiplierAt(0, GROWTH_RATE)
	for ms := 100; ms <= 60000; ms += 100 {
		m := MultiplierAt(time.Duration(ms)*time.Millisecond, GROWTH_RATE)
		if m.LessThan(prev) {
			t.Fatalf("multiplier fell from %s to %s at %dms", prev, m, ms)
		}
		prev = m
	}
}

func TestTimeToReach(t *testing.T) {
	assert.Equal(t, time.Duration(0), TimeToReach(MIN_MULTIPLIER, GROWTH_RATE))

	at := TimeToReach(d("2.00"), GROWTH_RATE)
	assert.InDelta(t, 11.55, at.Seconds(), 0.01)
	assertDecimal(t, "2.00", MultiplierAt(at+time.Millisecond, GROWTH_RATE))
}
