package cmd

import (
	"fmt"
	"time"
)

// formatUKDateTime formats a UTC timestamp: "25 Jul 2024 09:00:00 UTC"
func formatUKDateTime(t time.Time) string {
	return t.UTC().Format("2 Jan 2006 15:04:05 MST")
}

// formatDuration returns a short human-readable duration
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
