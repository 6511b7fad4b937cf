// Package camapi defines the wire-level contract between CAM's core
// (internal/manager, internal/store, internal/eventbus) and an external
// HTTP/WS layer. It fixes the shape of that boundary — DTOs plus the
// Launcher and Subscriber interfaces an adapter over the core would
// implement (no type in this module implements them) — without
// implementing the handlers themselves; that layer is out of scope here.
package camapi

import "time"

// AgentDTO is the wire representation of model.Agent.
type AgentDTO struct {
	ID          string            `json:"id"`
	Tool        string            `json:"tool"`
	Prompt      string            `json:"prompt"`
	Status      string            `json:"status"`
	State       string            `json:"state"`
	ContextID   string            `json:"context_id"`
	ContextName string            `json:"context_name"`
	TmuxSession string            `json:"tmux_session"`
	RetryCount  int               `json:"retry_count"`
	ExitReason  string            `json:"exit_reason,omitempty"`
	FilesChanged []string         `json:"files_changed,omitempty"`
	CostUSD      *float64         `json:"cost_usd,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ContextDTO is the wire representation of model.Context.
type ContextDTO struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Transport  string     `json:"transport"`
	Tags       []string   `json:"tags,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// TaskRequestDTO is what a caller POSTs to launch an agent: a task plus
// either an existing context name or enough to create one.
type TaskRequestDTO struct {
	Tool        string            `json:"tool"`
	Prompt      string            `json:"prompt"`
	Timeout     string            `json:"timeout,omitempty"`
	ContextName string            `json:"context_name"`
	ContextPath string            `json:"context_path,omitempty"`
	Follow      bool              `json:"follow"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EventDTO is the wire representation of model.AgentEvent, as streamed
// over a WebSocket subscription.
type EventDTO struct {
	AgentID   string                 `json:"agent_id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Launcher is the subset of internal/manager.Manager's API an external
// front door needs: accept a task against a context, and manage the
// resulting agents. *manager.Manager does not implement it directly: its
// RunAgent, StopAgent, GetAgent and ListAgents take a context and use model
// and store types rather than these DTOs.
type Launcher interface {
	Launch(req TaskRequestDTO) (AgentDTO, error)
	Stop(agentID string, graceful bool) error
	Get(agentID string) (AgentDTO, error)
	List(filter AgentFilterDTO) ([]AgentDTO, error)
}

// AgentFilterDTO mirrors store.AgentFilter for callers outside internal/.
type AgentFilterDTO struct {
	Status      string
	ContextName string
	Tool        string
	Limit       int
}

// Subscriber receives a stream of events for agents matching filter.
// eventbus.Bus.Subscribe is the in-process counterpart, but it takes an
// event type and a handler callback and returns a Subscription, so it does
// not implement this interface; an external layer would bridge this to a
// WebSocket connection per subscriber.
type Subscriber interface {
	Subscribe(filter EventFilterDTO) (<-chan EventDTO, func(), error)
}

// EventFilterDTO selects which events a Subscriber should deliver.
// An empty AgentID or EventType matches any value for that field.
type EventFilterDTO struct {
	AgentID   string
	EventType string
}
