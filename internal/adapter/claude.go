package adapter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/transport"
)

// Claude drives Claude Code's interactive TUI. It launches with a fixed set
// of pre-authorized tools so most permission prompts never appear; the
// prompt itself is sent via stdin after the TUI reports ready, since
// Claude's launch argv takes no prompt.
type Claude struct {
	Base
}

var (
	_ Adapter = Claude{}

	claudeStatePatterns = map[model.AgentState]*regexp.Regexp{
		model.StatePlanning: regexp.MustCompile(
			`(?i)(● Read\(|● Glob\(|● Grep\(|● WebFetch\(|● WebSearch\(|Thinking|Analyzing)`),
		model.StateEditing: regexp.MustCompile(
			`(● Edit\(|● Write\(|● NotebookEdit\()`),
		model.StateTesting: regexp.MustCompile(
			`(?i)(● Bash\(|Running tests|pytest|npm test|npm run)`),
		model.StateCommitting: regexp.MustCompile(
			`(?i)(git commit|git push|gh pr create)`),
	}

	claudeConfirmRules = []struct {
		pattern *regexp.Regexp
		action  ConfirmAction
	}{
		// Trust-folder select menu: cursor already on "Yes", press Enter.
		{regexp.MustCompile(`(?is)Enter to confirm.*Esc to cancel`), ConfirmAction{SendEnter: true}},
		{regexp.MustCompile(`(?i)Do\s+you\s+want\s+to\s+proceed`), ConfirmAction{Response: "1"}},
		{regexp.MustCompile(`(?i)1\.\s*(Yes|Allow)`), ConfirmAction{Response: "1"}},
		{regexp.MustCompile(`(?i)Allow\s+(once|always)`), ConfirmAction{SendEnter: true}},
		{regexp.MustCompile(`(?i)\(y/n\)|\[Y/n\]|\[y/N\]`), ConfirmAction{Response: "y", SendEnter: true}},
	}

	// claudeReadyPattern matches Claude's input prompt: a line starting
	// with "❯" between horizontal-rule borders.
	claudeReadyPattern = regexp.MustCompile(`(?m)^❯`)

	// claudeTaskSummaryPattern matches Claude's rotating-verb completion
	// summary, e.g. "✻ Crunched for 1m 11s".
	claudeTaskSummaryPattern = regexp.MustCompile(`✻ .+ for \d+`)

	claudeCostPattern = regexp.MustCompile(`(?i)Total cost:\s*\$?([\d.]+)`)
)

func (Claude) Name() string        { return "claude" }
func (Claude) DisplayName() string { return "Claude Code" }

func (Claude) LaunchArgv(_ model.TaskDefinition, _ model.Context) []string {
	return []string{
		"claude",
		"--allowed-tools",
		"Bash,Edit,Read,Write,Glob,Grep,WebFetch,TodoWrite,NotebookEdit",
	}
}

func (Claude) NeedsPromptAfterLaunch() bool { return true }
func (Claude) StartupWaitSeconds() float64  { return 30.0 }

func (Claude) IsReadyForInput(output string) bool {
	return claudeReadyPattern.MatchString(transport.StripANSI(output))
}

func (Claude) DetectState(output string) (model.AgentState, bool) {
	recent := tailRunes(output, 2000)
	clean := transport.StripANSI(recent)
	return findLastMatch(clean, claudeStatePatterns)
}

func (Claude) ShouldAutoConfirm(output string) (ConfirmAction, bool) {
	clean := transport.StripANSI(output)
	lines := strings.Split(clean, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	clean = strings.TrimRight(strings.Join(lines, "\n"), "\n \t")
	recent := tailRunes(clean, 500)

	for _, rule := range claudeConfirmRules {
		if rule.pattern.MatchString(recent) {
			return rule.action, true
		}
	}
	return ConfirmAction{}, false
}

func (Claude) DetectCompletion(output string) (model.AgentStatus, bool) {
	clean := transport.StripANSI(output)
	promptCount := len(claudeReadyPattern.FindAllStringIndex(clean, -1))
	if promptCount >= 2 {
		return model.StatusCompleted, true
	}
	// A single prompt plus the task-summary line means the first prompt
	// scrolled past the capture window (common over a small SSH capture).
	if promptCount == 1 && claudeTaskSummaryPattern.MatchString(clean) {
		return model.StatusCompleted, true
	}
	return "", false
}

func (Claude) EstimateCost(output string) (float64, bool) {
	m := claudeCostPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	cost, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return cost, true
}
