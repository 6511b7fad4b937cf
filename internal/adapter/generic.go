package adapter

import (
	"regexp"

	"github.com/orlunix/cam/internal/model"
)

// Generic is the fallback adapter for any CLI tool not otherwise
// registered. It launches `<tool> <prompt>` and relies mostly on the
// Monitor's session-exit check for completion; state detection is a no-op.
type Generic struct {
	Base
}

var (
	_ Adapter = Generic{}

	genericShellPromptPattern = regexp.MustCompile(`(?m)(\$|#|>)\s*$`)
	genericErrorPattern       = regexp.MustCompile(`(?i)(Error:|error:|FAILED|fatal:|Exception|command not found|No such file)`)
)

func (Generic) Name() string        { return "generic" }
func (Generic) DisplayName() string { return "Generic CLI" }

func (Generic) LaunchArgv(task model.TaskDefinition, _ model.Context) []string {
	return []string{task.Tool, task.Prompt}
}

func (Generic) StartupWaitSeconds() float64  { return 0.0 }
func (Generic) NeedsPromptAfterLaunch() bool { return false }

func (Generic) IsReadyForInput(output string) bool {
	return genericShellPromptPattern.MatchString(tailRunes(output, 500))
}

func (Generic) DetectState(string) (model.AgentState, bool) { return "", false }

func (Generic) ShouldAutoConfirm(string) (ConfirmAction, bool) { return ConfirmAction{}, false }

func (Generic) DetectCompletion(output string) (model.AgentStatus, bool) {
	if genericErrorPattern.MatchString(output) {
		return model.StatusFailed, true
	}
	recent := tailRunes(output, 500)
	if len(output) > 50 && genericShellPromptPattern.MatchString(recent) {
		return model.StatusCompleted, true
	}
	return "", false
}
