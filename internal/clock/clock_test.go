package clock

import (
	"testing"
	"time"
)

func TestManualNeverGoesBack(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	c.Advance(-time.Hour)
	if !c.Now().Equal(start) {
		t.Fatalf("clock moved backwards: %v", c.Now())
	}
	c.Set(start.Add(-time.Minute))
	if !c.Now().Equal(start) {
		t.Fatalf("Set moved clock backwards: %v", c.Now())
	}
	if got := c.Advance(30 * time.Minute); !got.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("unexpected time after advance: %v", got)
	}
}
