package transport

import "github.com/tuzig/vt10x"

// rawRenderCols and rawRenderRows size the virtual terminal used to replay
// a session's raw output log. tmux's default window is 80x24; callers
// reading the raw log rather than a live tmux pane don't know the
// session's real dimensions, so this is a reasonable fixed default.
const (
	rawRenderCols = 80
	rawRenderRows = 24
)

// RenderRawStream replays a raw captured byte stream (as written to a
// session's on-disk raw output log) through a virtual terminal and returns
// the resulting visible screen as plain text lines, with cursor
// positioning, scrollback, and control sequences resolved the way a real
// terminal would. This is for the optional raw-log read path, where a
// caller wants the screen as it would have looked rather than the literal
// escape-sequence-laden bytes.
func RenderRawStream(raw []byte) []string {
	term := vt10x.New(vt10x.WithSize(rawRenderCols, rawRenderRows))
	_, _ = term.Write(raw)

	lines := make([]string, rawRenderRows)
	for row := 0; row < rawRenderRows; row++ {
		runes := make([]rune, rawRenderCols)
		for col := 0; col < rawRenderCols; col++ {
			g := term.Cell(col, row)
			if g.Char == 0 {
				runes[col] = ' '
			} else {
				runes[col] = g.Char
			}
		}
		lines[row] = trimTrailingSpace(string(runes))
	}
	return lines
}

func trimTrailingSpace(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}
