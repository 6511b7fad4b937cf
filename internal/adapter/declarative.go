package adapter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/transport"
)

// declarativeDef is the YAML schema a Declarative adapter is compiled from.
type declarativeDef struct {
	Adapter struct {
		Name        string `yaml:"name"`
		DisplayName string `yaml:"display_name"`
	} `yaml:"adapter"`

	Launch struct {
		Command          []string `yaml:"command"`
		PromptAfterLaunch bool    `yaml:"prompt_after_launch"`
		StartupWait      float64  `yaml:"startup_wait"`
		StripANSI        bool     `yaml:"strip_ansi"`
		ReadyPattern     string   `yaml:"ready_pattern"`
		ReadyFlags       []string `yaml:"ready_flags"`
	} `yaml:"launch"`

	State struct {
		Strategy    string `yaml:"strategy"` // "first" | "last"
		RecentChars int    `yaml:"recent_chars"`
		Patterns    []struct {
			State   string   `yaml:"state"`
			Pattern string   `yaml:"pattern"`
			Flags   []string `yaml:"flags"`
		} `yaml:"patterns"`
	} `yaml:"state"`

	Completion struct {
		Strategy              string   `yaml:"strategy"` // "pattern" | "prompt_count" | "process_exit"
		RecentChars           int      `yaml:"recent_chars"`
		MinOutputLength       int      `yaml:"min_output_length"`
		ErrorSearchFull       bool     `yaml:"error_search_full"`
		CompletionPattern     string   `yaml:"completion_pattern"`
		CompletionFlags       []string `yaml:"completion_flags"`
		ErrorPattern          string   `yaml:"error_pattern"`
		ErrorFlags            []string `yaml:"error_flags"`
		ShellPromptPattern    string   `yaml:"shell_prompt_pattern"`
		ShellPromptFlags      []string `yaml:"shell_prompt_flags"`
		PromptPattern         string   `yaml:"prompt_pattern"`
		PromptFlags           []string `yaml:"prompt_flags"`
		PromptCountThreshold  int      `yaml:"prompt_count_threshold"`
		FallbackSummary       string   `yaml:"fallback_summary_pattern"`
		FallbackSummaryFlags  []string `yaml:"fallback_summary_flags"`
	} `yaml:"completion"`

	Confirm []struct {
		Pattern   string   `yaml:"pattern"`
		Flags     []string `yaml:"flags"`
		Response  string   `yaml:"response"`
		SendEnter bool     `yaml:"send_enter"`
	} `yaml:"confirm"`
}

var reFlagNames = map[string]string{
	"IGNORECASE": "i",
	"MULTILINE":  "m",
	"DOTALL":     "s",
}

func compilePattern(pattern string, flagNames []string) (*regexp.Regexp, error) {
	var flags []string
	for _, name := range flagNames {
		f, ok := reFlagNames[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("unknown regex flag %q (valid: IGNORECASE, MULTILINE, DOTALL)", name)
		}
		flags = append(flags, f)
	}
	if len(flags) == 0 {
		return regexp.Compile(pattern)
	}
	return regexp.Compile("(?" + strings.Join(flags, "") + ")" + pattern)
}

type declarativeConfirmRule struct {
	pattern *regexp.Regexp
	action  ConfirmAction
}

type statePattern struct {
	state   model.AgentState
	pattern *regexp.Regexp
}

// Declarative is an Adapter compiled from a YAML definition, so new tools
// can be onboarded without writing Go. All patterns are precompiled at
// construction time.
type Declarative struct {
	Base

	name        string
	displayName string

	command           []string
	promptAfterLaunch bool
	startupWait       float64
	stripANSI         bool
	readyPattern      *regexp.Regexp

	stateStrategy string // "first" | "last"
	stateRecent   int
	statePatterns []statePattern

	completionStrategy  string
	completionRecent    int
	minOutputLength     int
	errorSearchFull     bool
	completionPattern   *regexp.Regexp
	errorPattern        *regexp.Regexp
	shellPromptPattern  *regexp.Regexp
	promptPattern       *regexp.Regexp
	promptCountThresh   int
	fallbackSummary     *regexp.Regexp

	confirmRules []declarativeConfirmRule
}

var _ Adapter = (*Declarative)(nil)

// LoadDeclarative reads and compiles a Declarative adapter from a YAML file.
func LoadDeclarative(path string) (*Declarative, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading adapter definition: %w", err)
	}
	return ParseDeclarative(data)
}

// ParseDeclarative compiles a Declarative adapter from YAML bytes.
func ParseDeclarative(data []byte) (*Declarative, error) {
	var def declarativeDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing adapter definition: %w", err)
	}

	if def.Adapter.Name == "" {
		return nil, fmt.Errorf("adapter.name is required")
	}
	if def.Adapter.DisplayName == "" {
		return nil, fmt.Errorf("adapter.display_name is required")
	}

	d := &Declarative{
		name:              def.Adapter.Name,
		displayName:       def.Adapter.DisplayName,
		command:           def.Launch.Command,
		promptAfterLaunch: def.Launch.PromptAfterLaunch,
		startupWait:       def.Launch.StartupWait,
		stripANSI:         def.Launch.StripANSI,
	}
	if d.startupWait == 0 {
		d.startupWait = 2.0
	}
	if def.Launch.ReadyPattern != "" {
		p, err := compilePattern(def.Launch.ReadyPattern, def.Launch.ReadyFlags)
		if err != nil {
			return nil, fmt.Errorf("launch.ready_pattern: %w", err)
		}
		d.readyPattern = p
	}

	d.stateStrategy = def.State.Strategy
	if d.stateStrategy == "" {
		d.stateStrategy = "first"
	}
	if d.stateStrategy != "first" && d.stateStrategy != "last" {
		return nil, fmt.Errorf("unknown state.strategy %q (valid: first, last)", d.stateStrategy)
	}
	d.stateRecent = def.State.RecentChars
	if d.stateRecent == 0 {
		d.stateRecent = 2000
	}
	for _, entry := range def.State.Patterns {
		state := model.AgentState(entry.State)
		if !validAgentState(state) {
			return nil, fmt.Errorf("unknown state %q", entry.State)
		}
		p, err := compilePattern(entry.Pattern, entry.Flags)
		if err != nil {
			return nil, fmt.Errorf("state pattern for %q: %w", entry.State, err)
		}
		d.statePatterns = append(d.statePatterns, statePattern{state: state, pattern: p})
	}

	d.completionStrategy = def.Completion.Strategy
	if d.completionStrategy == "" {
		d.completionStrategy = "process_exit"
	}
	switch d.completionStrategy {
	case "pattern", "prompt_count", "process_exit":
	default:
		return nil, fmt.Errorf("unknown completion.strategy %q (valid: pattern, prompt_count, process_exit)", d.completionStrategy)
	}
	d.completionRecent = def.Completion.RecentChars
	if d.completionRecent == 0 {
		d.completionRecent = 500
	}
	d.minOutputLength = def.Completion.MinOutputLength
	if d.minOutputLength == 0 {
		d.minOutputLength = 100
	}
	d.errorSearchFull = def.Completion.ErrorSearchFull
	d.promptCountThresh = def.Completion.PromptCountThreshold
	if d.promptCountThresh == 0 {
		d.promptCountThresh = 2
	}

	var err error
	if d.completionPattern, err = compileOptional(def.Completion.CompletionPattern, def.Completion.CompletionFlags); err != nil {
		return nil, err
	}
	if d.errorPattern, err = compileOptional(def.Completion.ErrorPattern, def.Completion.ErrorFlags); err != nil {
		return nil, err
	}
	if d.shellPromptPattern, err = compileOptional(def.Completion.ShellPromptPattern, def.Completion.ShellPromptFlags); err != nil {
		return nil, err
	}
	if d.promptPattern, err = compileOptional(def.Completion.PromptPattern, def.Completion.PromptFlags); err != nil {
		return nil, err
	}
	if d.fallbackSummary, err = compileOptional(def.Completion.FallbackSummary, def.Completion.FallbackSummaryFlags); err != nil {
		return nil, err
	}

	for _, rule := range def.Confirm {
		p, err := compilePattern(rule.Pattern, rule.Flags)
		if err != nil {
			return nil, fmt.Errorf("confirm rule: %w", err)
		}
		d.confirmRules = append(d.confirmRules, declarativeConfirmRule{
			pattern: p,
			action:  ConfirmAction{Response: rule.Response, SendEnter: rule.SendEnter},
		})
	}

	return d, nil
}

func compileOptional(pattern string, flags []string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return compilePattern(pattern, flags)
}

func validAgentState(s model.AgentState) bool {
	switch s {
	case model.StateInitializing, model.StatePlanning, model.StateEditing,
		model.StateTesting, model.StateCommitting, model.StateIdle:
		return true
	default:
		return false
	}
}

func (d *Declarative) Name() string        { return d.name }
func (d *Declarative) DisplayName() string { return d.displayName }

// LaunchArgv substitutes {prompt} and {path} into the configured command,
// one placeholder per argument (single-pass, so a prompt containing "{path}"
// is never re-substituted).
func (d *Declarative) LaunchArgv(task model.TaskDefinition, ctx model.Context) []string {
	replacements := []struct{ key, value string }{
		{"{prompt}", task.Prompt},
		{"{path}", ctx.Path},
	}
	result := make([]string, len(d.command))
	for i, part := range d.command {
		for _, r := range replacements {
			if strings.Contains(part, r.key) {
				part = strings.ReplaceAll(part, r.key, r.value)
				break
			}
		}
		result[i] = part
	}
	return result
}

func (d *Declarative) NeedsPromptAfterLaunch() bool { return d.promptAfterLaunch }
func (d *Declarative) StartupWaitSeconds() float64  { return d.startupWait }

func (d *Declarative) IsReadyForInput(output string) bool {
	if d.readyPattern == nil {
		return true
	}
	if d.stripANSI {
		output = transport.StripANSI(output)
	}
	return d.readyPattern.MatchString(output)
}

func (d *Declarative) DetectState(output string) (model.AgentState, bool) {
	recent := tailRunes(output, d.stateRecent)
	if d.stripANSI {
		recent = transport.StripANSI(recent)
	}

	if d.stateStrategy == "last" {
		lastPos := -1
		var lastState model.AgentState
		found := false
		for _, sp := range d.statePatterns {
			for _, loc := range sp.pattern.FindAllStringIndex(recent, -1) {
				if loc[0] > lastPos {
					lastPos = loc[0]
					lastState = sp.state
					found = true
				}
			}
		}
		return lastState, found
	}

	for _, sp := range d.statePatterns {
		if sp.pattern.MatchString(recent) {
			return sp.state, true
		}
	}
	return "", false
}

func (d *Declarative) ShouldAutoConfirm(output string) (ConfirmAction, bool) {
	if d.stripANSI {
		output = transport.StripANSI(output)
	}
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	clean := strings.TrimRight(strings.Join(lines, "\n"), "\n \t")
	recent := tailRunes(clean, 500)

	for _, rule := range d.confirmRules {
		if rule.pattern.MatchString(recent) {
			return rule.action, true
		}
	}
	return ConfirmAction{}, false
}

func (d *Declarative) DetectCompletion(output string) (model.AgentStatus, bool) {
	switch d.completionStrategy {
	case "process_exit":
		return "", false
	case "prompt_count":
		return d.detectCompletionPromptCount(output)
	default:
		return d.detectCompletionPattern(output)
	}
}

func (d *Declarative) detectCompletionPattern(output string) (model.AgentStatus, bool) {
	if d.stripANSI {
		output = transport.StripANSI(output)
	}

	if d.errorPattern != nil {
		searchText := output
		if !d.errorSearchFull {
			searchText = tailRunes(output, d.completionRecent)
		}
		if d.errorPattern.MatchString(searchText) {
			return model.StatusFailed, true
		}
	}

	recent := tailRunes(output, d.completionRecent)
	if d.completionPattern != nil && d.completionPattern.MatchString(recent) {
		return model.StatusCompleted, true
	}
	if d.shellPromptPattern != nil && d.shellPromptPattern.MatchString(recent) && len(output) > d.minOutputLength {
		return model.StatusCompleted, true
	}
	return "", false
}

func (d *Declarative) detectCompletionPromptCount(output string) (model.AgentStatus, bool) {
	if d.promptPattern == nil {
		return "", false
	}
	clean := output
	if d.stripANSI {
		clean = transport.StripANSI(output)
	}

	count := len(d.promptPattern.FindAllStringIndex(clean, -1))
	if count >= d.promptCountThresh {
		return model.StatusCompleted, true
	}
	if count == 1 && d.fallbackSummary != nil && d.fallbackSummary.MatchString(clean) {
		return model.StatusCompleted, true
	}
	return "", false
}
