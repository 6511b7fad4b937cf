package transport

import "regexp"

// ansiPattern matches CSI sequences (ESC [ ... letter), OSC sequences
// (ESC ] ... BEL or ST), and bare two-character escapes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// StripANSI removes terminal escape sequences from captured tmux output.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
