// Package adapter defines the per-tool protocol CAM uses to drive an
// interactive CLI coding tool inside a terminal session: how to launch it,
// how to read its activity state from raw output, when to auto-confirm a
// permission prompt, and how to tell it has finished.
package adapter

import (
	"regexp"

	"github.com/orlunix/cam/internal/model"
)

// ConfirmAction describes how to respond to a detected permission prompt.
// Response is sent via Transport.SendInput; if SendEnter is true, an Enter
// key press follows (without Enter when Response alone, e.g. "1", selects
// a menu item in tools whose TUI reacts to the raw keystroke).
type ConfirmAction struct {
	Response  string
	SendEnter bool
}

// confirmRule pairs a prompt-detection pattern with the response it calls
// for, for adapters (like Codex) whose confirm prompts don't all want the
// same answer.
type confirmRule struct {
	pattern  *regexp.Regexp
	response string
}

// Adapter is the per-tool protocol contract. Every method operates on
// recently captured terminal output (already ANSI-stripped by the caller
// where noted) and must not block or perform I/O itself.
type Adapter interface {
	// Name is the short identifier used in TaskDefinition.Tool.
	Name() string
	// DisplayName is a human-readable label.
	DisplayName() string

	// LaunchArgv returns the argv used to start the tool (never a shell
	// string — callers must never join it for a shell).
	LaunchArgv(task model.TaskDefinition, ctx model.Context) []string
	// NeedsPromptAfterLaunch reports whether the prompt must be sent via
	// SendInput after the session is ready, rather than passed on argv.
	NeedsPromptAfterLaunch() bool
	// StartupWaitSeconds bounds how long to wait for the tool's TUI to
	// become ready before giving up.
	StartupWaitSeconds() float64
	// IsReadyForInput reports whether output shows the tool's idle input
	// prompt.
	IsReadyForInput(output string) bool

	// DetectState infers the advisory AgentState from output, or returns
	// ("", false) if no state pattern matched.
	DetectState(output string) (model.AgentState, bool)
	// ShouldAutoConfirm checks output for a permission prompt and returns
	// the action to take, or (ConfirmAction{}, false) if none matched.
	ShouldAutoConfirm(output string) (ConfirmAction, bool)
	// DetectCompletion checks output for a terminal status. Only
	// model.StatusCompleted or model.StatusFailed are valid non-zero
	// results; ("", false) means still running.
	DetectCompletion(output string) (model.AgentStatus, bool)

	// EstimateCost parses a running cost estimate from output, if the tool
	// reports one.
	EstimateCost(output string) (float64, bool)
	// ParseFilesChanged extracts file paths the tool reports as modified.
	ParseFilesChanged(output string) []string
}

// Base provides the optional-method defaults from the spec's adapter
// contract (estimate_cost -> none, parse_files_changed -> none,
// startup_wait -> 2s, needs_prompt_after_launch -> false), so concrete
// adapters only override what differs.
type Base struct{}

func (Base) NeedsPromptAfterLaunch() bool                   { return false }
func (Base) StartupWaitSeconds() float64                    { return 2.0 }
func (Base) EstimateCost(string) (float64, bool)             { return 0, false }
func (Base) ParseFilesChanged(string) []string               { return nil }

// findLastMatch returns the state whose pattern matched furthest to the
// right within text (and false if none matched), used by last-match state
// resolution strategies (most recent activity wins).
func findLastMatch(text string, patterns map[model.AgentState]*regexp.Regexp) (model.AgentState, bool) {
	lastPos := -1
	var lastState model.AgentState
	found := false
	for state, pattern := range patterns {
		locs := pattern.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			if loc[0] > lastPos {
				lastPos = loc[0]
				lastState = state
				found = true
			}
		}
	}
	return lastState, found
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
