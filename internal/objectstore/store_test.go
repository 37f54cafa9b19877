package objectstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tapemaint/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "objectstore.db"), Schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(db, WithClock(clock.Now)), clock
}

func TestOwnAndRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)

	a, err := s.RegisterAgent(ctx, "worker-a", time.Minute)
	require.NoError(t, err)
	b, err := s.RegisterAgent(ctx, "worker-b", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Own(ctx, a.ID, "queue-1", "archive_queue"))
	require.NoError(t, s.Own(ctx, a.ID, "queue-1", "archive_queue"), "re-owning is idempotent")
	assert.ErrorIs(t, s.Own(ctx, b.ID, "queue-1", "archive_queue"), ErrAlreadyOwned)

	require.NoError(t, s.Release(ctx, a.ID, "queue-1"))
	assert.ErrorIs(t, s.Release(ctx, a.ID, "queue-1"), ErrObjectNotFound)
	require.NoError(t, s.Own(ctx, b.ID, "queue-1", "archive_queue"))

	objects, err := s.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, b.ID, objects[0].Owner)
}

func TestUnregisterAgentReleasesObjects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)

	a, err := s.RegisterAgent(ctx, "worker", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Own(ctx, a.ID, "obj", "repack_request"))
	require.NoError(t, s.UnregisterAgent(ctx, a.ID))
	assert.ErrorIs(t, s.UnregisterAgent(ctx, a.ID), ErrAgentNotFound)
	assert.ErrorIs(t, s.Heartbeat(ctx, a.ID), ErrAgentNotFound)

	objects, err := s.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Empty(t, objects[0].Owner)
}

func TestGarbageCollectorRunOnePass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := openTestStore(t)

	dead, err := s.RegisterAgent(ctx, "stalled-worker", time.Minute)
	require.NoError(t, err)
	alive, err := s.RegisterAgent(ctx, "busy-worker", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Own(ctx, dead.ID, "obj-1", "archive_queue"))
	require.NoError(t, s.Own(ctx, dead.ID, "obj-2", "archive_queue"))
	require.NoError(t, s.Own(ctx, alive.ID, "obj-3", "retrieve_queue"))

	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Heartbeat(ctx, alive.ID))

	gc := NewGarbageCollector(s, time.Minute)
	stats, err := gc.RunOnePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AgentsCollected)
	assert.Equal(t, int64(2), stats.ObjectsReleased)
	assert.NotEmpty(t, gc.AgentID())

	objects, err := s.ListObjects(ctx)
	require.NoError(t, err)
	owners := map[string]string{}
	for _, o := range objects {
		owners[o.ID] = o.Owner
	}
	assert.Equal(t, "", owners["obj-1"])
	assert.Equal(t, "", owners["obj-2"])
	assert.Equal(t, alive.ID, owners["obj-3"])

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 2, "busy worker and the collector remain")

	// A second pass finds nothing to do.
	stats, err = gc.RunOnePass(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.AgentsCollected)

	require.NoError(t, gc.Close(ctx))
	agents, err = s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestGarbageCollectorReRegistersAfterBeingCollected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clock := openTestStore(t)

	gc := NewGarbageCollector(s, time.Minute)
	_, err := gc.RunOnePass(ctx)
	require.NoError(t, err)
	first := gc.AgentID()

	// A peer collector removes our stale agent.
	clock.Advance(5 * time.Minute)
	peer := NewGarbageCollector(s, time.Minute)
	stats, err := peer.RunOnePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AgentsCollected)

	_, err = gc.RunOnePass(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, gc.AgentID())
}
