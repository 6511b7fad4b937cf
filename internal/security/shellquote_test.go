package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellQuoteLeavesSafeTokensUntouched(t *testing.T) {
	assert.Equal(t, "hello", ShellQuote("hello"))
	assert.Equal(t, "/usr/bin/tmux", ShellQuote("/usr/bin/tmux"))
}

func TestShellQuoteEscapesUnsafeInput(t *testing.T) {
	assert.Equal(t, `'it'\''s a test'`, ShellQuote("it's a test"))
	assert.Equal(t, "''", ShellQuote(""))
}

func TestQuoteArgvJoinsWithQuoting(t *testing.T) {
	got := QuoteArgv([]string{"claude", "--prompt", "fix the bug; rm -rf /"})
	assert.Equal(t, `claude --prompt 'fix the bug; rm -rf /'`, got)
}

func TestControlSocketHashIsStableAndShort(t *testing.T) {
	a := ControlSocketHash("user", "example.com", 22)
	b := ControlSocketHash("user", "example.com", 22)
	c := ControlSocketHash("other", "example.com", 22)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}
