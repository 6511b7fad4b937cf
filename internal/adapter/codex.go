package adapter

import (
	"regexp"

	"github.com/orlunix/cam/internal/model"
)

// Codex drives the OpenAI Codex CLI in full-auto, headless mode: the prompt
// is passed on argv, and state/confirm/completion are all first-match
// pattern lookups (unlike Claude's last-match state resolution) because
// Codex's plain-text log has no reliable "most recent line" marker.
type Codex struct {
	Base
}

var (
	_ Adapter = Codex{}

	codexStateOrder = []model.AgentState{
		model.StatePlanning, model.StateEditing, model.StateTesting, model.StateCommitting,
	}
	codexStatePatterns = map[model.AgentState]*regexp.Regexp{
		model.StatePlanning:   regexp.MustCompile(`(?i)(Thinking|Planning|Analyzing|Reading|Searching|Reviewing)`),
		model.StateEditing:    regexp.MustCompile(`(?i)(Editing|Writing|Creating|Modifying|Applying|Patching)`),
		model.StateTesting:    regexp.MustCompile(`(?i)(Running|Testing|Executing|Verifying|npm test|pytest|cargo test)`),
		model.StateCommitting: regexp.MustCompile(`(?i)(Committing|Pushing|git commit|git push|Creating PR)`),
	}

	codexConfirmRules = []confirmRule{
		{regexp.MustCompile(`(?i)(Apply|Accept|Approve|Continue|Proceed).*\[Y/n\]`), "y"},
		{regexp.MustCompile(`(?i)(Apply|Accept|Approve|Continue|Proceed).*\[y/N\]`), "y"},
		{regexp.MustCompile(`(?i)Press Enter`), ""},
	}

	codexCompletionPattern = regexp.MustCompile(`(?i)(Done|Completed|Finished|All changes applied)`)
	codexErrorPattern      = regexp.MustCompile(`(?i)(Error:|error:|FAILED|fatal:|Exception|command not found)`)
	codexShellPromptPattern = regexp.MustCompile(`(?m)(\$|#|>)\s*$`)
)

func (Codex) Name() string        { return "codex" }
func (Codex) DisplayName() string { return "OpenAI Codex" }

func (Codex) LaunchArgv(task model.TaskDefinition, _ model.Context) []string {
	return []string{"codex", "--full-auto", task.Prompt}
}

func (Codex) StartupWaitSeconds() float64    { return 0.0 }
func (Codex) NeedsPromptAfterLaunch() bool   { return false }
func (Codex) IsReadyForInput(output string) bool {
	return codexShellPromptPattern.MatchString(output)
}

func (Codex) DetectState(output string) (model.AgentState, bool) {
	recent := tailRunes(output, 2000)
	for _, state := range codexStateOrder {
		if codexStatePatterns[state].MatchString(recent) {
			return state, true
		}
	}
	return "", false
}

func (Codex) ShouldAutoConfirm(output string) (ConfirmAction, bool) {
	recent := tailRunes(output, 500)
	for _, rule := range codexConfirmRules {
		if rule.pattern.MatchString(recent) {
			return ConfirmAction{Response: rule.response, SendEnter: true}, true
		}
	}
	return ConfirmAction{}, false
}

func (Codex) DetectCompletion(output string) (model.AgentStatus, bool) {
	if codexErrorPattern.MatchString(output) {
		return model.StatusFailed, true
	}
	recent := tailRunes(output, 500)
	if codexCompletionPattern.MatchString(recent) {
		return model.StatusCompleted, true
	}
	if len(output) > 100 && codexShellPromptPattern.MatchString(recent) {
		return model.StatusCompleted, true
	}
	return "", false
}
