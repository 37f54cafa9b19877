package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// GCStats summarises one collection pass.
type GCStats struct {
	AgentsCollected int
	ObjectsReleased int64
}

// GarbageCollector detects dead agents and returns their objects to the
// unowned pool. The collector registers itself as an agent on first use so
// a second daemon sees it as alive.
type GarbageCollector struct {
	store   *Store
	timeout time.Duration

	mu      sync.Mutex
	agentID string
}

func NewGarbageCollector(store *Store, agentTimeout time.Duration) *GarbageCollector {
	return &GarbageCollector{store: store, timeout: agentTimeout}
}

// AgentID returns the collector's own agent id, empty before the first pass.
func (gc *GarbageCollector) AgentID() string {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.agentID
}

// RunOnePass performs exactly one collection pass.
func (gc *GarbageCollector) RunOnePass(ctx context.Context) (GCStats, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	var stats GCStats
	if err := gc.ensureAgent(ctx); err != nil {
		return stats, err
	}

	agents, err := gc.store.ListAgents(ctx)
	if err != nil {
		return stats, err
	}
	now := gc.store.now()
	for _, a := range agents {
		if a.ID == gc.agentID || !a.Dead(now) {
			continue
		}
		n, err := gc.collect(ctx, a.ID)
		if errors.Is(err, ErrAgentNotFound) {
			// Another collector got there first.
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("collect agent %s: %w", a.ID, err)
		}
		stats.AgentsCollected++
		stats.ObjectsReleased += n
	}
	return stats, nil
}

// Close unregisters the collector's own agent.
func (gc *GarbageCollector) Close(ctx context.Context) error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.agentID == "" {
		return nil
	}
	err := gc.store.UnregisterAgent(ctx, gc.agentID)
	gc.agentID = ""
	if errors.Is(err, ErrAgentNotFound) {
		return nil
	}
	return err
}

func (gc *GarbageCollector) ensureAgent(ctx context.Context) error {
	if gc.agentID != "" {
		err := gc.store.Heartbeat(ctx, gc.agentID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrAgentNotFound) {
			return err
		}
		// Collected by a peer while we were stalled; start over.
	}
	a, err := gc.store.RegisterAgent(ctx, "garbage-collector", gc.timeout)
	if err != nil {
		return err
	}
	gc.agentID = a.ID
	return nil
}

// collect takes over the dead agent's objects, releases them and removes
// the agent, all in one transaction.
func (gc *GarbageCollector) collect(ctx context.Context, deadID string) (int64, error) {
	s := gc.store
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMS := s.now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
UPDATE owned_object SET owner_agent_id = ?, last_update_ms = ? WHERE owner_agent_id = ?;
`, gc.agentID, nowMS, deadID)
	if err != nil {
		return 0, fmt.Errorf("take over objects: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
UPDATE owned_object SET owner_agent_id = NULL, last_update_ms = ? WHERE owner_agent_id = ?;
`, nowMS, gc.agentID); err != nil {
		return 0, fmt.Errorf("release objects: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM agent WHERE agent_id = ?;`, deadID)
	if err != nil {
		return 0, fmt.Errorf("delete agent: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, ErrAgentNotFound
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}
