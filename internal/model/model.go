// Package model defines the core CAM data types: Context, TaskDefinition,
// Agent and AgentEvent, along with the enums and validation rules that
// govern them.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the execution status of an agent.
type AgentStatus string

const (
	StatusPending  AgentStatus = "pending"
	StatusStarting AgentStatus = "starting"
	StatusRunning  AgentStatus = "running"
	StatusRetrying AgentStatus = "retrying"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
	StatusTimeout   AgentStatus = "timeout"
	StatusKilled    AgentStatus = "killed"
)

// IsTerminal reports whether the status ends the agent's lifecycle.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusKilled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the status represents an in-flight execution.
func (s AgentStatus) IsActive() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusRetrying:
		return true
	default:
		return false
	}
}

// AgentState is the advisory activity state reported while an agent runs.
type AgentState string

const (
	StateInitializing AgentState = "initializing"
	StatePlanning     AgentState = "planning"
	StateEditing      AgentState = "editing"
	StateTesting      AgentState = "testing"
	StateCommitting   AgentState = "committing"
	StateIdle         AgentState = "idle"
)

// TransportType selects the mechanism used to reach an agent's session.
type TransportType string

const (
	TransportLocal     TransportType = "local"
	TransportSSH       TransportType = "ssh"
	TransportWebSocket TransportType = "websocket"
	TransportDocker    TransportType = "docker"
)

// MachineConfig describes how to reach the machine an agent runs on.
type MachineConfig struct {
	Type      TransportType     `json:"type"`
	Host      string            `json:"host,omitempty"`
	User      string            `json:"user,omitempty"`
	Port      int               `json:"port,omitempty"`
	KeyFile   string            `json:"key_file,omitempty"`
	AgentPort int               `json:"agent_port,omitempty"`
	AuthToken string            `json:"auth_token,omitempty"`
	Image     string            `json:"image,omitempty"`
	Volumes   map[string]string `json:"volumes,omitempty"`
	EnvSetup  string            `json:"env_setup,omitempty"`
}

// Validate checks the fields required for the configured transport type.
func (m MachineConfig) Validate() error {
	switch m.Type {
	case "", TransportLocal:
		return nil
	case TransportSSH:
		if m.Host == "" {
			return fmt.Errorf("%w: ssh transport requires host", ErrInvalidMachineConfig)
		}
		if m.User == "" {
			return fmt.Errorf("%w: ssh transport requires user", ErrInvalidMachineConfig)
		}
	case TransportDocker:
		if m.Image == "" {
			return fmt.Errorf("%w: docker transport requires image", ErrInvalidMachineConfig)
		}
	case TransportWebSocket:
		if m.Host == "" {
			return fmt.Errorf("%w: websocket transport requires host", ErrInvalidMachineConfig)
		}
		if m.AgentPort == 0 {
			return fmt.Errorf("%w: websocket transport requires agent_port", ErrInvalidMachineConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport type %q", ErrInvalidMachineConfig, m.Type)
	}
	return nil
}

var contextNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Context is a development workspace: a name, an absolute path, and the
// machine it lives on.
type Context struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Machine    MachineConfig `json:"machine"`
	Tags       []string      `json:"tags,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsedAt *time.Time    `json:"last_used_at,omitempty"`
}

// NewContext builds a Context with a generated ID and CreatedAt set to now.
func NewContext(name, path string, machine MachineConfig) Context {
	return Context{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      path,
		Machine:   machine,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate enforces the name/path invariants the spec requires.
func (c Context) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidContext)
	}
	if !contextNamePattern.MatchString(c.Name) {
		return fmt.Errorf("%w: name must contain only alphanumeric characters, hyphens, and underscores", ErrInvalidContext)
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path must be absolute", ErrInvalidContext)
	}
	return c.Machine.Validate()
}

// RetryPolicy controls how AgentManager retries a failed agent; timed-out
// agents are not retried.
type RetryPolicy struct {
	MaxRetries  int     `json:"max_retries"`
	BackoffBase float64 `json:"backoff_base"`
	BackoffMax  float64 `json:"backoff_max"`
}

// DefaultRetryPolicy matches the original's defaults: no retries, 2x backoff
// capped at 300 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, BackoffBase: 2.0, BackoffMax: 300.0}
}

// Validate enforces the backoff invariants.
func (r RetryPolicy) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidRetryPolicy)
	}
	if r.BackoffBase <= 1.0 {
		return fmt.Errorf("%w: backoff_base must be > 1.0", ErrInvalidRetryPolicy)
	}
	if r.BackoffMax <= 0 {
		return fmt.Errorf("%w: backoff_max must be > 0", ErrInvalidRetryPolicy)
	}
	if r.BackoffMax < r.BackoffBase {
		return fmt.Errorf("%w: backoff_max must be >= backoff_base", ErrInvalidRetryPolicy)
	}
	return nil
}

// TaskDefinition is the caller's request: which tool, which prompt, which
// context, and how to retry.
type TaskDefinition struct {
	Name       string            `json:"name,omitempty"`
	Tool       string            `json:"tool"`
	Prompt     string            `json:"prompt"`
	Context    string            `json:"context,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	Retry      RetryPolicy       `json:"retry"`
	Env        map[string]string `json:"env,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	OnComplete string            `json:"on_complete,omitempty"`
}

const maxTaskTimeout = 24 * time.Hour

// Validate checks the fields required to launch a task.
func (t TaskDefinition) Validate() error {
	if t.Tool == "" {
		return fmt.Errorf("%w: tool is required", ErrInvalidTask)
	}
	if t.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidTask)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidTask)
	}
	if t.Timeout > maxTaskTimeout {
		return fmt.Errorf("%w: timeout cannot exceed 24 hours", ErrInvalidTask)
	}
	return t.Retry.Validate()
}

// AgentEvent is one entry in an agent's append-only event log.
type AgentEvent struct {
	AgentID   string                 `json:"agent_id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Agent tracks the full lifecycle of one task execution.
type Agent struct {
	ID            string        `json:"id"`
	Task          TaskDefinition `json:"task"`
	ContextID     string        `json:"context_id"`
	ContextName   string        `json:"context_name"`
	ContextPath   string        `json:"context_path"`
	TransportType TransportType `json:"transport_type"`
	Status        AgentStatus   `json:"status"`
	State         AgentState    `json:"state"`
	TmuxSession   string        `json:"tmux_session,omitempty"`
	TmuxSocket    string        `json:"tmux_socket,omitempty"`
	PID           int           `json:"pid,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ExitReason    string        `json:"exit_reason,omitempty"`
	RetryCount    int           `json:"retry_count"`
	Events        []AgentEvent  `json:"events,omitempty"`
	CostEstimate  *float64      `json:"cost_estimate,omitempty"`
	FilesChanged  []string      `json:"files_changed,omitempty"`
}

// maxInlineEvents bounds the in-memory ring of recent events; the Store
// keeps the full history.
const maxInlineEvents = 50

// NewAgent builds a pending Agent for task running against ctx.
func NewAgent(task TaskDefinition, ctx Context) Agent {
	return Agent{
		ID:            uuid.NewString(),
		Task:          task,
		ContextID:     ctx.ID,
		ContextName:   ctx.Name,
		ContextPath:   ctx.Path,
		TransportType: ctx.Machine.Type,
		Status:        StatusPending,
		State:         StateInitializing,
	}
}

// AddEvent appends an event to the in-memory ring, dropping the oldest
// entry once maxInlineEvents is exceeded.
func (a *Agent) AddEvent(eventType string, detail map[string]interface{}) AgentEvent {
	ev := AgentEvent{
		AgentID:   a.ID,
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Detail:    detail,
	}
	a.Events = append(a.Events, ev)
	if len(a.Events) > maxInlineEvents {
		a.Events = a.Events[len(a.Events)-maxInlineEvents:]
	}
	return ev
}

// DurationSeconds returns elapsed execution time, or nil if the agent
// hasn't started yet.
func (a Agent) DurationSeconds() *float64 {
	if a.StartedAt == nil {
		return nil
	}
	end := time.Now().UTC()
	if a.CompletedAt != nil {
		end = *a.CompletedAt
	}
	secs := end.Sub(*a.StartedAt).Seconds()
	return &secs
}

// IsTerminal reports whether the agent has finished (in any outcome).
func (a Agent) IsTerminal() bool { return a.Status.IsTerminal() }

// IsActive reports whether the agent is actively starting/running/retrying.
func (a Agent) IsActive() bool { return a.Status.IsActive() }
