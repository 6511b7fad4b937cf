package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orlunix/cam/internal/model"
)

func TestClaudeDetectStateLastMatchWins(t *testing.T) {
	output := "● Read(foo.go)\nsome output\n● Edit(bar.go)\n"
	state, ok := Claude{}.DetectState(output)
	assert.True(t, ok)
	assert.Equal(t, model.StateEditing, state)
}

func TestClaudeIsReadyForInput(t *testing.T) {
	assert.True(t, Claude{}.IsReadyForInput("---\n❯ \n---"))
	assert.False(t, Claude{}.IsReadyForInput("still thinking..."))
}

func TestClaudeShouldAutoConfirmYesNoPrompt(t *testing.T) {
	action, ok := Claude{}.ShouldAutoConfirm("Do you want to proceed?\n1. Yes\n2. No")
	assert.True(t, ok)
	assert.Equal(t, "1", action.Response)
}

func TestClaudeDetectCompletionRequiresTwoPrompts(t *testing.T) {
	_, ok := Claude{}.DetectCompletion("❯ ")
	assert.False(t, ok)

	status, ok := Claude{}.DetectCompletion("❯ \nworking\n❯ ")
	assert.True(t, ok)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestClaudeDetectCompletionSingleRoundWithSummary(t *testing.T) {
	status, ok := Claude{}.DetectCompletion("❯ \n✻ Crunched for 1m 11s")
	assert.True(t, ok)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestClaudeEstimateCost(t *testing.T) {
	cost, ok := Claude{}.EstimateCost("Total cost: $1.23")
	assert.True(t, ok)
	assert.InDelta(t, 1.23, cost, 0.0001)

	_, ok = Claude{}.EstimateCost("no cost here")
	assert.False(t, ok)
}
