package util

import (
    "fmt"
    "time"
)

var intervals = map[string]time.Duration{
    "1m":  time.Minute,
    "5m":  5 * time.Minute,
    "15m": 15 * time.Minute,
    "30m": 30 * time.Minute,
    "1h":  time.Hour,
    "4h":  4 * time.Hour,
    "1d":  24 * time.Hour,
}

// SupportedIntervals lists intervals in ascending order.
func SupportedIntervals() []string {
    return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// ParseInterval maps an interval label to its duration.
func ParseInterval(s string) (time.Duration, error) {
    d, ok := intervals[s]
    if !ok {
        return 0, fmt.Errorf("unsupported interval %q", s)
    }
    return d, nil
}

// IsInterval reports whether s is a supported interval label.
func IsInterval(s string) bool {
    _, ok := intervals[s]
    return ok
}

// BarsPerYear returns the approximate number of bars per year for an interval,
// assuming a market that trades around the clock.
func BarsPerYear(interval string) float64 {
    d, ok := intervals[interval]
    if !ok {
        d = 15 * time.Minute
    }
    return float64(365*24*time.Hour) / float64(d)
}
