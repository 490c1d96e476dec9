package util

import (
    "testing"
    "time"
)

func TestNextBoundary(t *testing.T) {
    now := time.Date(2024, 10, 10, 10, 7, 30, 0, time.UTC)
    got := NextBoundary(now, 15*time.Minute)
    want := time.Date(2024, 10, 10, 10, 15, 0, 0, time.UTC)
    if !got.Equal(want) {
        t.Fatalf("expected %v, got %v", want, got)
    }

    onEdge := time.Date(2024, 10, 10, 10, 15, 0, 0, time.UTC)
    if got := NextBoundary(onEdge, 15*time.Minute); !got.Equal(want.Add(15 * time.Minute)) {
        t.Fatalf("boundary must be strictly after now, got %v", got)
    }
}

func TestParseInterval(t *testing.T) {
    d, err := ParseInterval("4h")
    if err != nil || d != 4*time.Hour {
        t.Fatalf("unexpected %v %v", d, err)
    }
    if _, err := ParseInterval("2m"); err == nil {
        t.Fatalf("expected error for 2m")
    }
}

func TestTruncate(t *testing.T) {
    if got := Truncate("abcdef", 5); got != "ab..." {
        t.Fatalf("unexpected %q", got)
    }
    if got := Truncate("abc", 5); got != "abc" {
        t.Fatalf("unexpected %q", got)
    }
}
