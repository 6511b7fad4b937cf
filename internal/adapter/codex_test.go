package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orlunix/cam/internal/model"
)

func TestCodexLaunchArgvIncludesPrompt(t *testing.T) {
	task := model.TaskDefinition{Tool: "codex", Prompt: "fix the bug"}
	argv := Codex{}.LaunchArgv(task, model.Context{})
	assert.Equal(t, []string{"codex", "--full-auto", "fix the bug"}, argv)
}

func TestCodexDetectStateFirstMatch(t *testing.T) {
	output := "Committing changes\nThinking about next step"
	state, ok := Codex{}.DetectState(output)
	assert.True(t, ok)
	assert.Equal(t, model.StatePlanning, state)
}

func TestCodexDetectCompletionError(t *testing.T) {
	status, ok := Codex{}.DetectCompletion("Error: something broke")
	assert.True(t, ok)
	assert.Equal(t, model.StatusFailed, status)
}

func TestCodexDetectCompletionDonePattern(t *testing.T) {
	status, ok := Codex{}.DetectCompletion("All changes applied")
	assert.True(t, ok)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestCodexShouldAutoConfirmRespondsYesToDefaultNo(t *testing.T) {
	action, ok := Codex{}.ShouldAutoConfirm("Apply this change? [y/N]")
	assert.True(t, ok)
	assert.Equal(t, "y", action.Response)
	assert.True(t, action.SendEnter)
}

func TestCodexShouldAutoConfirmRespondsYesToDefaultYes(t *testing.T) {
	action, ok := Codex{}.ShouldAutoConfirm("Continue? [Y/n]")
	assert.True(t, ok)
	assert.Equal(t, "y", action.Response)
	assert.True(t, action.SendEnter)
}

func TestCodexShouldAutoConfirmSendsBareEnterForPressEnterPrompt(t *testing.T) {
	action, ok := Codex{}.ShouldAutoConfirm("Press Enter to continue")
	assert.True(t, ok)
	assert.Equal(t, "", action.Response)
	assert.True(t, action.SendEnter)
}
