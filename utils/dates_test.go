package utils

import (
	"testing"
	"time"
)

func TestBeginningOfNextDay(t *testing.T) {
	loc := time.FixedZone("X", 2*3600)
	got := BeginningOfNextDay(time.Date(2026, 12, 31, 23, 59, 0, 0, loc))
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if !BeginningOfDay(want.Add(5 * time.Hour)).Equal(want) {
		t.Fatalf("BeginningOfDay mismatch")
	}
}
