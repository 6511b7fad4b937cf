// Package cliutil holds small formatting helpers shared by cmd/cam's
// subcommands.
package cliutil

// Truncate shortens s to maxLen bytes, replacing the tail with "..."
// when it doesn't fit, so table output (e.g. `cam list`'s prompt column)
// stays on one line regardless of how long a task's prompt is.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
