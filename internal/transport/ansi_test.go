package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSIRemovesColorCodes(t *testing.T) {
	input := "\x1b[32mgreen\x1b[0m text"
	assert.Equal(t, "green text", StripANSI(input))
}

func TestStripANSIRemovesCursorMovement(t *testing.T) {
	input := "\x1b[2J\x1b[Hhello"
	assert.Equal(t, "hello", StripANSI(input))
}

func TestStripANSILeavesPlainTextUntouched(t *testing.T) {
	assert.Equal(t, "no escapes here", StripANSI("no escapes here"))
}
