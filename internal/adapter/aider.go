package adapter

import (
	"regexp"

	"github.com/orlunix/cam/internal/model"
)

// Aider drives the Aider AI pair-programming tool, which launches
// interactively and waits for a prompt sent via stdin after startup.
type Aider struct {
	Base
}

var (
	_ Adapter = Aider{}

	aiderStateOrder = []model.AgentState{
		model.StatePlanning, model.StateEditing, model.StateTesting, model.StateCommitting,
	}
	aiderStatePatterns = map[model.AgentState]*regexp.Regexp{
		model.StatePlanning:   regexp.MustCompile(`(?i)(Thinking|Analyzing|Looking at|Searching|Reviewing)`),
		model.StateEditing:    regexp.MustCompile(`(?i)(Applied edit|Wrote|Created|Updated|Modified|SEARCH/REPLACE)`),
		model.StateTesting:    regexp.MustCompile(`(?i)(Running|Testing|Linting|pytest|npm test|make test)`),
		model.StateCommitting: regexp.MustCompile(`(?i)(Commit|commit [a-f0-9]|git add|Added .* to the chat)`),
	}

	aiderConfirmRules = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Create new file.*\?`),
		regexp.MustCompile(`(?i)Allow edits.*\?`),
		regexp.MustCompile(`(?i)Add .* to the chat\?`),
		regexp.MustCompile(`(?i)Apply.*\[Y/n\]`),
		regexp.MustCompile(`(?i)Commit.*\[y/n\]`),
	}

	aiderCompletionPattern = regexp.MustCompile(`(?i)(Tokens:.*sent,.*received|aider>)`)
	aiderErrorPattern      = regexp.MustCompile(`(?i)(Error:|error:|FAILED|APIError|RateLimitError|Can't initialize)`)
)

func (Aider) Name() string        { return "aider" }
func (Aider) DisplayName() string { return "Aider" }

func (Aider) LaunchArgv(_ model.TaskDefinition, _ model.Context) []string {
	return []string{"aider", "--yes", "--no-git"}
}

func (Aider) NeedsPromptAfterLaunch() bool { return true }
func (Aider) StartupWaitSeconds() float64  { return 5.0 }

func (Aider) IsReadyForInput(output string) bool {
	return aiderCompletionPattern.MatchString(tailRunes(output, 500))
}

func (Aider) DetectState(output string) (model.AgentState, bool) {
	recent := tailRunes(output, 2000)
	for _, state := range aiderStateOrder {
		if aiderStatePatterns[state].MatchString(recent) {
			return state, true
		}
	}
	return "", false
}

func (Aider) ShouldAutoConfirm(output string) (ConfirmAction, bool) {
	recent := tailRunes(output, 500)
	for _, pattern := range aiderConfirmRules {
		if pattern.MatchString(recent) {
			return ConfirmAction{Response: "y", SendEnter: true}, true
		}
	}
	return ConfirmAction{}, false
}

func (Aider) DetectCompletion(output string) (model.AgentStatus, bool) {
	if aiderErrorPattern.MatchString(output) {
		return model.StatusFailed, true
	}
	recent := tailRunes(output, 500)
	if len(output) > 200 && aiderCompletionPattern.MatchString(recent) {
		return model.StatusCompleted, true
	}
	return "", false
}
