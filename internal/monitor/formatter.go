package monitor

import "fmt"

// FormatRate formats a per-minute rate with its unit.
func FormatRate(rate float64, unit string) string {
	return fmt.Sprintf("%.1f %s/min", rate, unit)
}

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		ms := latencySeconds * 1000
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatUptime formats uptime in seconds to "Xh Ym" or "Xm"
func FormatUptime(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
