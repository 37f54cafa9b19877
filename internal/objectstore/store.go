package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tapemaint/internal/storage"
)

// Schema creates the agent registry and the ownership records.
var Schema = storage.Schema{
	`CREATE TABLE IF NOT EXISTS agent (
  agent_id        TEXT PRIMARY KEY,
  description     TEXT NOT NULL DEFAULT '',
  heartbeat_ms    INTEGER NOT NULL,
  timeout_ms      INTEGER NOT NULL,
  created_at_ms   INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS owned_object (
  object_id       TEXT PRIMARY KEY,
  object_type     TEXT NOT NULL DEFAULT '',
  owner_agent_id  TEXT,
  last_update_ms  INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS owned_object_owner_idx ON owned_object(owner_agent_id);`,
}

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrObjectNotFound = errors.New("object not found")
	ErrAlreadyOwned   = errors.New("object owned by another agent")
)

// Agent is a worker process that may own objects while it heartbeats.
type Agent struct {
	ID          string
	Description string
	Heartbeat   time.Time
	Timeout     time.Duration
	CreatedAt   time.Time
}

// Dead reports whether the agent missed its heartbeat deadline at now.
func (a Agent) Dead(now time.Time) bool {
	return now.Sub(a.Heartbeat) > a.Timeout
}

// Object is a mutable object and its current owner, if any.
type Object struct {
	ID         string
	Type       string
	Owner      string
	LastUpdate time.Time
}

// Store is the SQLite-backed object store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for heartbeats.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the object store database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RegisterAgent creates a new agent with a fresh heartbeat.
func (s *Store) RegisterAgent(ctx context.Context, description string, timeout time.Duration) (Agent, error) {
	if timeout <= 0 {
		return Agent{}, fmt.Errorf("agent timeout must be positive")
	}
	now := s.now()
	a := Agent{
		ID:          uuid.NewString(),
		Description: description,
		Heartbeat:   now,
		Timeout:     timeout,
		CreatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agent(agent_id, description, heartbeat_ms, timeout_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?);
`, a.ID, a.Description, now.UnixMilli(), timeout.Milliseconds(), now.UnixMilli())
	if err != nil {
		return Agent{}, fmt.Errorf("register agent: %w", err)
	}
	return a, nil
}

// Heartbeat refreshes the agent's liveness timestamp.
func (s *Store) Heartbeat(ctx context.Context, agentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent SET heartbeat_ms = ? WHERE agent_id = ?;`, s.now().UnixMilli(), agentID)
	if err != nil {
		return fmt.Errorf("heartbeat agent %s: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// UnregisterAgent releases everything the agent owns and removes it.
func (s *Store) UnregisterAgent(ctx context.Context, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE owned_object SET owner_agent_id = NULL, last_update_ms = ? WHERE owner_agent_id = ?;
`, s.now().UnixMilli(), agentID); err != nil {
		return fmt.Errorf("release objects of agent %s: %w", agentID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agent WHERE agent_id = ?;`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return tx.Commit()
}

// ListAgents returns every registered agent.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT agent_id, description, heartbeat_ms, timeout_ms, created_at_ms
FROM agent ORDER BY created_at_ms ASC, agent_id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var (
			a                       Agent
			heartbeat, timeout, crt int64
		)
		if err := rows.Scan(&a.ID, &a.Description, &heartbeat, &timeout, &crt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Heartbeat = time.UnixMilli(heartbeat).UTC()
		a.Timeout = time.Duration(timeout) * time.Millisecond
		a.CreatedAt = time.UnixMilli(crt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Own makes agentID the owner of objectID, creating the object if needed.
// Objects owned by a different agent are refused.
func (s *Store) Own(ctx context.Context, agentID, objectID, objectType string) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO owned_object(object_id, object_type, owner_agent_id, last_update_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(object_id) DO UPDATE SET
  owner_agent_id = excluded.owner_agent_id,
  last_update_ms = excluded.last_update_ms
WHERE owned_object.owner_agent_id IS NULL OR owned_object.owner_agent_id = excluded.owner_agent_id;
`, objectID, objectType, agentID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("own object %s: %w", objectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyOwned
	}
	return nil
}

// Release clears agentID's ownership of objectID.
func (s *Store) Release(ctx context.Context, agentID, objectID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE owned_object SET owner_agent_id = NULL, last_update_ms = ?
WHERE object_id = ? AND owner_agent_id = ?;
`, s.now().UnixMilli(), objectID, agentID)
	if err != nil {
		return fmt.Errorf("release object %s: %w", objectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrObjectNotFound
	}
	return nil
}

// ListObjects returns every object and its owner.
func (s *Store) ListObjects(ctx context.Context) ([]Object, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT object_id, object_type, owner_agent_id, last_update_ms FROM owned_object ORDER BY object_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var (
			o     Object
			owner sql.NullString
			ms    int64
		)
		if err := rows.Scan(&o.ID, &o.Type, &owner, &ms); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if owner.Valid {
			o.Owner = owner.String
		}
		o.LastUpdate = time.UnixMilli(ms).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}
