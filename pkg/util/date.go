package util

import "time"

// FromUnixMilli converts exchange millisecond timestamps to UTC.
func FromUnixMilli(ms int64) time.Time {
    return time.UnixMilli(ms).UTC()
}

// NextBoundary returns the first interval boundary strictly after now.
// Boundaries are aligned to the unix epoch in UTC, so 15m fires at :00, :15, :30, :45.
func NextBoundary(now time.Time, every time.Duration) time.Time {
    if every <= 0 {
        return now
    }
    next := now.UTC().Truncate(every).Add(every)
    if !next.After(now) {
        next = next.Add(every)
    }
    return next
}

// LoadLocation returns the named zone or UTC when unknown.
func LoadLocation(name string) *time.Location {
    if name == "" {
        return time.UTC
    }
    loc, err := time.LoadLocation(name)
    if err != nil {
        return time.UTC
    }
    return loc
}
