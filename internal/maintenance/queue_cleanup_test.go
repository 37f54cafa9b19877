package maintenance_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tapemaint/internal/maintenance"
	"github.com/mattjoyce/tapemaint/internal/maintenance/mocks"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

func TestDeadMounts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		active    map[string]*uint64
		scheduled []uint64
		want      []uint64
	}{
		{
			name:      "one dead one alive",
			active:    map[string]*uint64{"d1": uint64Ptr(5), "d2": uint64Ptr(7)},
			scheduled: []uint64{5, 9},
			want:      []uint64{9},
		},
		{
			name:      "nil sessions ignored",
			active:    map[string]*uint64{"d1": uint64Ptr(5), "d2": nil},
			scheduled: []uint64{9, 5, 3},
			want:      []uint64{3, 9},
		},
		{
			name:      "no active mounts means nothing is dead",
			active:    map[string]*uint64{"d1": nil},
			scheduled: []uint64{1, 2},
			want:      nil,
		},
		{
			name:      "empty catalogue",
			active:    nil,
			scheduled: []uint64{1},
			want:      nil,
		},
		{
			name:      "nothing scheduled",
			active:    map[string]*uint64{"d1": uint64Ptr(1)},
			scheduled: nil,
			want:      nil,
		},
		{
			name:      "duplicates collapse",
			active:    map[string]*uint64{"d1": uint64Ptr(1)},
			scheduled: []uint64{4, 4, 2},
			want:      []uint64{2, 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maintenance.DeadMounts(tt.active, tt.scheduled))
		})
	}
}

func TestDeadMountsSetDifference(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		active := map[string]*uint64{"anchor": uint64Ptr(1000)}
		live := map[uint64]bool{1000: true}
		nActive := rng.Intn(8)
		for i := 0; i < nActive; i++ {
			id := uint64(rng.Intn(20))
			active[string(rune('a'+i))] = &id
			live[id] = true
		}
		var scheduled []uint64
		nScheduled := rng.Intn(12) + 1
		for i := 0; i < nScheduled; i++ {
			scheduled = append(scheduled, uint64(rng.Intn(20)))
		}

		dead := maintenance.DeadMounts(active, scheduled)
		inScheduled := make(map[uint64]bool)
		for _, id := range scheduled {
			inScheduled[id] = true
		}
		for _, id := range dead {
			assert.True(t, inScheduled[id], "dead mount %d was never scheduled", id)
			assert.False(t, live[id], "live mount %d reported dead", id)
		}
		for id := range inScheduled {
			if !live[id] {
				assert.Contains(t, dead, id)
			}
		}
	}
}

func TestQueueCleanupRoutine(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cat := mocks.NewMockMountCatalogue(ctrl)
	store := mocks.NewMockQueueStore(ctrl)
	slogger, logBuf := NewTestSlogger()
	r := maintenance.NewQueueCleanupRoutine(schedstore.CategoryRetrieve, cat, store, 50, slogger)
	ctx := context.Background()

	assert.Equal(t, "retrieve_queue_cleanup", r.Name())

	t.Run("no active mounts skips the scheduler", func(t *testing.T) {
		cat.EXPECT().GetActiveMountIDs(ctx).Return(map[string]*uint64{"d1": nil}, nil)
		assert.NoError(t, r.Execute(ctx))
	})

	t.Run("nothing scheduled", func(t *testing.T) {
		cat.EXPECT().GetActiveMountIDs(ctx).Return(map[string]*uint64{"d1": uint64Ptr(5)}, nil)
		store.EXPECT().GetScheduledMountIDs(ctx, schedstore.CategoryRetrieve).Return(nil, nil)
		assert.NoError(t, r.Execute(ctx))
	})

	t.Run("all scheduled mounts alive", func(t *testing.T) {
		cat.EXPECT().GetActiveMountIDs(ctx).Return(map[string]*uint64{"d1": uint64Ptr(5)}, nil)
		store.EXPECT().GetScheduledMountIDs(ctx, schedstore.CategoryRetrieve).Return([]uint64{5}, nil)
		assert.NoError(t, r.Execute(ctx))
	})

	t.Run("dead mounts requeued", func(t *testing.T) {
		logBuf.Reset()
		cat.EXPECT().GetActiveMountIDs(ctx).Return(map[string]*uint64{"d1": uint64Ptr(5), "d2": uint64Ptr(7)}, nil)
		store.EXPECT().GetScheduledMountIDs(ctx, schedstore.CategoryRetrieve).Return([]uint64{5, 9}, nil)
		store.EXPECT().HandleInactiveMountQueues(ctx, []uint64{9}, schedstore.CategoryRetrieve, 50).Return(int64(3), nil)
		assert.NoError(t, r.Execute(ctx))
		assert.Contains(t, logBuf.String(), "Requeued jobs of dead mounts")
		assert.Contains(t, logBuf.String(), `"routine":"retrieve_queue_cleanup"`)
	})

	t.Run("catalogue error", func(t *testing.T) {
		cat.EXPECT().GetActiveMountIDs(ctx).Return(nil, errors.New("catalogue down"))
		err := r.Execute(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalogue down")
	})

	t.Run("store error", func(t *testing.T) {
		cat.EXPECT().GetActiveMountIDs(ctx).Return(map[string]*uint64{"d1": uint64Ptr(5)}, nil)
		store.EXPECT().GetScheduledMountIDs(ctx, schedstore.CategoryRetrieve).Return([]uint64{6}, nil)
		store.EXPECT().HandleInactiveMountQueues(ctx, []uint64{6}, schedstore.CategoryRetrieve, 50).Return(int64(0), errors.New("locked"))
		assert.Error(t, r.Execute(ctx))
	})
}

func TestQueueCleanupRoutinesCoverEveryCategory(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	slogger, _ := NewTestSlogger()
	routines := maintenance.NewQueueCleanupRoutines(mocks.NewMockMountCatalogue(ctrl), mocks.NewMockQueueStore(ctrl), 10, slogger)

	var names []string
	for _, r := range routines {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{
		"archive_queue_cleanup",
		"retrieve_queue_cleanup",
		"repack_archive_queue_cleanup",
		"repack_retrieve_queue_cleanup",
	}, names)
}

func TestQueueCleanupAgainstStores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openBackends(t)
	slogger, _ := NewTestSlogger()

	b.mountDrive(t, "d1", 5)
	b.mountDrive(t, "d2", 7)

	b.queueJobs(t, schedstore.CategoryArchive, 5)
	_, err := b.store.ReserveForMount(ctx, schedstore.CategoryArchive, 5, 2)
	require.NoError(t, err)
	_, err = b.store.ReserveForMount(ctx, schedstore.CategoryArchive, 9, 2)
	require.NoError(t, err)
	moved, err := b.store.ActivateReserved(ctx, schedstore.CategoryArchive, 9)
	require.NoError(t, err)
	require.Equal(t, int64(2), moved)

	r := maintenance.NewQueueCleanupRoutine(schedstore.CategoryArchive, b.cat, b.store, 1, slogger)
	require.NoError(t, r.Execute(ctx))

	scheduled, err := b.store.GetScheduledMountIDs(ctx, schedstore.CategoryArchive)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, scheduled)

	active, err := b.store.ListJobs(ctx, schedstore.CategoryArchive, schedstore.QueueActive, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	pending, err := b.store.ListJobs(ctx, schedstore.CategoryArchive, schedstore.QueuePending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	owned := 0
	for _, j := range pending {
		if j.MountID != nil {
			assert.Equal(t, uint64(5), *j.MountID)
			owned++
			continue
		}
		assert.Equal(t, schedstore.JobPending, j.Status)
	}
	assert.Equal(t, 2, owned)

	// A second pass finds nothing to do.
	require.NoError(t, r.Execute(ctx))
	scheduled, err = b.store.GetScheduledMountIDs(ctx, schedstore.CategoryArchive)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, scheduled)
}
