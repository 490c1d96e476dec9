package util

import (
    "strings"
    "unicode/utf8"
)

// Truncate cuts s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
    if n <= 0 || utf8.RuneCountInString(s) <= n {
        return s
    }
    if n <= 3 {
        return string([]rune(s)[:n])
    }
    return string([]rune(s)[:n-3]) + "..."
}

// SplitList splits a comma separated list and drops blanks.
func SplitList(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}
