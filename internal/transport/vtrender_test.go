package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderRawStreamPlainText(t *testing.T) {
	lines := RenderRawStream([]byte("hello world"))
	assert.Equal(t, "hello world", lines[0])
	for _, l := range lines[1:] {
		assert.Empty(t, l)
	}
}

func TestRenderRawStreamResolvesCursorMovement(t *testing.T) {
	// Write "AAAA" then move the cursor back to the start of line and
	// overwrite with "BB" - a real terminal shows "BBAA", not "AAAABB".
	raw := []byte("AAAA\x1b[1;1HBB")
	lines := RenderRawStream(raw)
	assert.True(t, strings.HasPrefix(lines[0], "BBAA"))
}

func TestRenderRawStreamHandlesEmptyInput(t *testing.T) {
	lines := RenderRawStream(nil)
	assert.Len(t, lines, rawRenderRows)
	for _, l := range lines {
		assert.Empty(t, l)
	}
}
