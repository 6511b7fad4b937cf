package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orlunix/cam/internal/model"
)

const sampleDefinition = `
adapter:
  name: mytool
  display_name: My Tool

launch:
  command: ["mytool", "--prompt", "{prompt}", "--cwd", "{path}"]
  prompt_after_launch: false
  startup_wait: 1.5
  strip_ansi: true
  ready_pattern: "^\\$ $"
  ready_flags: ["MULTILINE"]

state:
  strategy: first
  recent_chars: 1000
  patterns:
    - state: editing
      pattern: "Writing file"

completion:
  strategy: pattern
  completion_pattern: "Done"
  error_pattern: "FAILED"
  min_output_length: 10

confirm:
  - pattern: "Continue\\? \\(y/n\\)"
    response: "y"
    send_enter: true
`

func TestParseDeclarativeBuildsArgvWithSubstitution(t *testing.T) {
	d, err := ParseDeclarative([]byte(sampleDefinition))
	require.NoError(t, err)

	task := model.TaskDefinition{Tool: "mytool", Prompt: "hello world"}
	ctx := model.Context{Path: "/srv/app"}

	argv := d.LaunchArgv(task, ctx)
	assert.Equal(t, []string{"mytool", "--prompt", "hello world", "--cwd", "/srv/app"}, argv)
}

func TestParseDeclarativeState(t *testing.T) {
	d, err := ParseDeclarative([]byte(sampleDefinition))
	require.NoError(t, err)

	state, ok := d.DetectState("Writing file foo.go")
	assert.True(t, ok)
	assert.Equal(t, model.StateEditing, state)
}

func TestParseDeclarativeCompletion(t *testing.T) {
	d, err := ParseDeclarative([]byte(sampleDefinition))
	require.NoError(t, err)

	status, ok := d.DetectCompletion("something FAILED to apply")
	assert.True(t, ok)
	assert.Equal(t, model.StatusFailed, status)

	status, ok = d.DetectCompletion("all steps Done now")
	assert.True(t, ok)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestParseDeclarativeConfirm(t *testing.T) {
	d, err := ParseDeclarative([]byte(sampleDefinition))
	require.NoError(t, err)

	action, ok := d.ShouldAutoConfirm("Continue? (y/n)")
	assert.True(t, ok)
	assert.Equal(t, "y", action.Response)
	assert.True(t, action.SendEnter)
}

func TestParseDeclarativeRejectsUnknownStateStrategy(t *testing.T) {
	bad := `
adapter:
  name: x
  display_name: X
state:
  strategy: sideways
`
	_, err := ParseDeclarative([]byte(bad))
	assert.Error(t, err)
}

func TestParseDeclarativeRejectsUnknownFlag(t *testing.T) {
	bad := `
adapter:
  name: x
  display_name: X
state:
  patterns:
    - state: editing
      pattern: "foo"
      flags: ["BOGUS"]
`
	_, err := ParseDeclarative([]byte(bad))
	assert.Error(t, err)
}

func TestParseDeclarativeRequiresName(t *testing.T) {
	_, err := ParseDeclarative([]byte("adapter:\n  display_name: X\n"))
	assert.Error(t, err)
}
