// Package store persists Context and Agent records (and their event
// histories) in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/orlunix/cam/internal/model"
)

// ErrNotFound is returned when a lookup by ID finds no matching row.
var ErrNotFound = errors.New("store: not found")

const busyTimeoutMillis = 5000

// Store wraps a SQLite-backed database holding contexts, agents, and agent
// events.
type Store struct {
	db *sqlx.DB
}

// Open creates (if needed) and migrates the database at path.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("preparing database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeoutMillis,
	)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// schemaVersion is the current schema generation. migrate() reads
// max(version) from schema_version and applies anything newer, the same
// forward-only linear migration shape the store is ported from.
const schemaVersion = 1

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);
`

const schema = `
CREATE TABLE IF NOT EXISTS contexts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL,
	machine_json TEXT NOT NULL,
	tags_json TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	last_used_at DATETIME
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	task_json TEXT NOT NULL,
	context_id TEXT NOT NULL,
	context_name TEXT NOT NULL,
	context_path TEXT NOT NULL,
	transport_type TEXT NOT NULL,
	status TEXT NOT NULL,
	state TEXT NOT NULL,
	tmux_session TEXT,
	tmux_socket TEXT,
	pid INTEGER,
	started_at DATETIME,
	completed_at DATETIME,
	exit_reason TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	cost_estimate REAL,
	files_changed_json TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_agents_context_id ON agents(context_id);

CREATE TABLE IF NOT EXISTS agent_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_agent_events_agent_id ON agent_events(agent_id);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if _, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// agentRow mirrors the agents table for sqlx scanning.
type agentRow struct {
	ID                string         `db:"id"`
	TaskJSON          string         `db:"task_json"`
	ContextID         string         `db:"context_id"`
	ContextName       string         `db:"context_name"`
	ContextPath       string         `db:"context_path"`
	TransportType     string         `db:"transport_type"`
	Status            string         `db:"status"`
	State             string         `db:"state"`
	TmuxSession       sql.NullString `db:"tmux_session"`
	TmuxSocket        sql.NullString `db:"tmux_socket"`
	PID               sql.NullInt64  `db:"pid"`
	StartedAt         sql.NullTime   `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	ExitReason        sql.NullString `db:"exit_reason"`
	RetryCount        int            `db:"retry_count"`
	CostEstimate      sql.NullFloat64 `db:"cost_estimate"`
	FilesChangedJSON  string         `db:"files_changed_json"`
	CreatedAt         time.Time      `db:"created_at"`
}

func (r agentRow) toAgent() (model.Agent, error) {
	var task model.TaskDefinition
	if err := json.Unmarshal([]byte(r.TaskJSON), &task); err != nil {
		return model.Agent{}, fmt.Errorf("decoding task: %w", err)
	}
	var files []string
	if err := json.Unmarshal([]byte(r.FilesChangedJSON), &files); err != nil {
		files = nil
	}

	agent := model.Agent{
		ID:            r.ID,
		Task:          task,
		ContextID:     r.ContextID,
		ContextName:   r.ContextName,
		ContextPath:   r.ContextPath,
		TransportType: model.TransportType(r.TransportType),
		Status:        model.AgentStatus(r.Status),
		State:         model.AgentState(r.State),
		RetryCount:    r.RetryCount,
		FilesChanged:  files,
	}
	if r.TmuxSession.Valid {
		agent.TmuxSession = r.TmuxSession.String
	}
	if r.TmuxSocket.Valid {
		agent.TmuxSocket = r.TmuxSocket.String
	}
	if r.PID.Valid {
		agent.PID = int(r.PID.Int64)
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		agent.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		agent.CompletedAt = &t
	}
	if r.ExitReason.Valid {
		agent.ExitReason = r.ExitReason.String
	}
	if r.CostEstimate.Valid {
		v := r.CostEstimate.Float64
		agent.CostEstimate = &v
	}
	return agent, nil
}

// SaveAgent inserts or updates an agent row.
func (s *Store) SaveAgent(ctx context.Context, agent model.Agent) error {
	taskJSON, err := json.Marshal(agent.Task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	filesJSON, err := json.Marshal(agent.FilesChanged)
	if err != nil {
		return fmt.Errorf("encoding files_changed: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, task_json, context_id, context_name, context_path,
			transport_type, status, state, tmux_session, tmux_socket,
			pid, started_at, completed_at, exit_reason, retry_count,
			cost_estimate, files_changed_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_json = excluded.task_json,
			status = excluded.status,
			state = excluded.state,
			tmux_session = excluded.tmux_session,
			tmux_socket = excluded.tmux_socket,
			pid = excluded.pid,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			exit_reason = excluded.exit_reason,
			retry_count = excluded.retry_count,
			cost_estimate = excluded.cost_estimate,
			files_changed_json = excluded.files_changed_json
	`,
		agent.ID, string(taskJSON), agent.ContextID, agent.ContextName, agent.ContextPath,
		string(agent.TransportType), string(agent.Status), string(agent.State),
		nullString(agent.TmuxSession), nullString(agent.TmuxSocket),
		nullInt(agent.PID), nullTime(agent.StartedAt), nullTime(agent.CompletedAt),
		nullString(agent.ExitReason), agent.RetryCount,
		nullFloat(agent.CostEstimate), string(filesJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving agent %s: %w", agent.ID, err)
	}
	return nil
}

// GetAgent looks up an agent by exact ID, falling back to a unique prefix
// match (the most recently created match wins) so callers can use short IDs.
func (s *Store) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM agents WHERE id = ?", id)
	if err == nil {
		return row.toAgent()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, fmt.Errorf("querying agent %s: %w", id, err)
	}

	err = s.db.GetContext(ctx, &row,
		"SELECT * FROM agents WHERE id LIKE ? ORDER BY created_at DESC LIMIT 1", id+"%")
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("querying agent prefix %s: %w", id, err)
	}
	return row.toAgent()
}

// AgentFilter narrows ListAgents results.
type AgentFilter struct {
	Status    model.AgentStatus
	ContextID string
	Tool      string
	Limit     int
}

// ListAgents returns agents matching filter, most recently created first.
func (s *Store) ListAgents(ctx context.Context, filter AgentFilter) ([]model.Agent, error) {
	query := "SELECT * FROM agents WHERE 1=1"
	var args []interface{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.ContextID != "" {
		query += " AND context_id = ?"
		args = append(args, filter.ContextID)
	}
	if filter.Tool != "" {
		query += " AND json_extract(task_json, '$.tool') = ?"
		args = append(args, filter.Tool)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	agents := make([]model.Agent, 0, len(rows))
	for _, r := range rows {
		agent, err := r.toAgent()
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// AgentIDFilter narrows ListAgentIDsByFilter. Unlike AgentFilter, Statuses
// accepts a set (matched via SQL IN) and Before restricts to agents started
// strictly before a given time, for prune-style sweeps over old runs.
type AgentIDFilter struct {
	Statuses  []model.AgentStatus
	Before    *time.Time
	ContextID string
}

// AgentIDAndSession is one row of a ListAgentIDsByFilter result: an agent id
// paired with the tmux session it was using, if any.
type AgentIDAndSession struct {
	AgentID     string
	TmuxSession string
}

// ListAgentIDsByFilter returns (agent id, tmux session) pairs matching
// filter, for callers that need to act on a filtered set (e.g. pruning
// long-finished agents) without loading full agent records.
func (s *Store) ListAgentIDsByFilter(ctx context.Context, filter AgentIDFilter) ([]AgentIDAndSession, error) {
	query := "SELECT id, tmux_session FROM agents WHERE 1=1"
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " AND status IN (" + strings.Join(placeholders, ",") + ")"
	}
	if filter.Before != nil {
		query += " AND started_at < ?"
		args = append(args, *filter.Before)
	}
	if filter.ContextID != "" {
		query += " AND context_id = ?"
		args = append(args, filter.ContextID)
	}

	type idRow struct {
		ID          string         `db:"id"`
		TmuxSession sql.NullString `db:"tmux_session"`
	}
	var rows []idRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing agent ids by filter: %w", err)
	}

	out := make([]AgentIDAndSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, AgentIDAndSession{AgentID: r.ID, TmuxSession: r.TmuxSession.String})
	}
	return out, nil
}

// UpdateStatus patches an agent's status, and optionally its state and exit
// reason. Reaching a terminal status also stamps completed_at.
func (s *Store) UpdateStatus(ctx context.Context, agentID string, status model.AgentStatus, state model.AgentState, exitReason string) error {
	query := "UPDATE agents SET status = ?"
	args := []interface{}{string(status)}

	if state != "" {
		query += ", state = ?"
		args = append(args, string(state))
	}
	if exitReason != "" {
		query += ", exit_reason = ?"
		args = append(args, exitReason)
	}
	if status.IsTerminal() {
		query += ", completed_at = ?"
		args = append(args, time.Now().UTC())
	}
	query += " WHERE id = ?"
	args = append(args, agentID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating agent %s status: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result for agent %s: %w", agentID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEvent appends one event row.
func (s *Store) AddEvent(ctx context.Context, event model.AgentEvent) error {
	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("encoding event detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_events (agent_id, timestamp, event_type, detail_json)
		VALUES (?, ?, ?, ?)
	`, event.AgentID, event.Timestamp, event.EventType, string(detailJSON))
	if err != nil {
		return fmt.Errorf("adding event for agent %s: %w", event.AgentID, err)
	}
	return nil
}

// GetEvents returns all events for an agent, oldest first.
func (s *Store) GetEvents(ctx context.Context, agentID string) ([]model.AgentEvent, error) {
	type eventRow struct {
		AgentID    string    `db:"agent_id"`
		Timestamp  time.Time `db:"timestamp"`
		EventType  string    `db:"event_type"`
		DetailJSON string    `db:"detail_json"`
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT agent_id, timestamp, event_type, detail_json FROM agent_events
		WHERE agent_id = ? ORDER BY timestamp ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing events for agent %s: %w", agentID, err)
	}

	events := make([]model.AgentEvent, 0, len(rows))
	for _, r := range rows {
		var detail map[string]interface{}
		_ = json.Unmarshal([]byte(r.DetailJSON), &detail)
		events = append(events, model.AgentEvent{
			AgentID:   r.AgentID,
			Timestamp: r.Timestamp,
			EventType: r.EventType,
			Detail:    detail,
		})
	}
	return events, nil
}

// DeleteAgents removes the given agents and their events, returning the
// number of agent rows deleted.
func (s *Store) DeleteAgents(ctx context.Context, agentIDs []string) (int, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sqlx.In("DELETE FROM agent_events WHERE agent_id IN (?)", agentIDs)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("deleting agent events: %w", err)
	}

	query, args, err = sqlx.In("DELETE FROM agents WHERE id IN (?)", agentIDs)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("deleting agents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return int(n), nil
}

// AllAgentIDs returns every agent ID in the database.
func (s *Store) AllAgentIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM agents"); err != nil {
		return nil, fmt.Errorf("listing agent ids: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// SaveContext inserts or updates a context row.
func (s *Store) SaveContext(ctx context.Context, c model.Context) error {
	machineJSON, err := json.Marshal(c.Machine)
	if err != nil {
		return fmt.Errorf("encoding machine config: %w", err)
	}
	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, name, path, machine_json, tags_json, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			machine_json = excluded.machine_json,
			tags_json = excluded.tags_json,
			last_used_at = excluded.last_used_at
	`, c.ID, c.Name, c.Path, string(machineJSON), string(tagsJSON), c.CreatedAt, nullTimePtr(c.LastUsedAt))
	if err != nil {
		return fmt.Errorf("saving context %s: %w", c.Name, err)
	}
	return nil
}

// GetContextByName looks up a context by its unique name.
func (s *Store) GetContextByName(ctx context.Context, name string) (model.Context, error) {
	type contextRow struct {
		ID          string       `db:"id"`
		Name        string       `db:"name"`
		Path        string       `db:"path"`
		MachineJSON string       `db:"machine_json"`
		TagsJSON    string       `db:"tags_json"`
		CreatedAt   time.Time    `db:"created_at"`
		LastUsedAt  sql.NullTime `db:"last_used_at"`
	}
	var row contextRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM contexts WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Context{}, ErrNotFound
	}
	if err != nil {
		return model.Context{}, fmt.Errorf("querying context %s: %w", name, err)
	}

	var machine model.MachineConfig
	if err := json.Unmarshal([]byte(row.MachineJSON), &machine); err != nil {
		return model.Context{}, fmt.Errorf("decoding machine config: %w", err)
	}
	var tags []string
	_ = json.Unmarshal([]byte(row.TagsJSON), &tags)

	result := model.Context{
		ID:        row.ID,
		Name:      row.Name,
		Path:      row.Path,
		Machine:   machine,
		Tags:      tags,
		CreatedAt: row.CreatedAt,
	}
	if row.LastUsedAt.Valid {
		t := row.LastUsedAt.Time
		result.LastUsedAt = &t
	}
	return result, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullTimePtr(t *time.Time) interface{} {
	return nullTime(t)
}
