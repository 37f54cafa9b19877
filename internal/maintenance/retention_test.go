package maintenance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tapemaint/internal/maintenance"
	"github.com/mattjoyce/tapemaint/internal/maintenance/mocks"
	"github.com/mattjoyce/tapemaint/internal/objectstore"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

const twoWeeks = 336 * time.Hour

func TestRetentionRoutinesDelegate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockRetentionStore(ctrl)
	slogger, logBuf := NewTestSlogger()
	ctx := context.Background()

	failed := maintenance.NewFailedQueueRetentionRoutine(store, 100, twoWeeks, slogger)
	fetch := maintenance.NewMountFetchRetentionRoutine(store, 20, time.Hour, slogger)
	assert.Equal(t, "failed_queue_retention", failed.Name())
	assert.Equal(t, "mount_fetch_retention", fetch.Name())

	store.EXPECT().DeleteOldFailedQueues(ctx, twoWeeks, 100).Return(int64(100), nil)
	require.NoError(t, failed.Execute(ctx))
	assert.Contains(t, logBuf.String(), "Deleted old failed jobs")

	logBuf.Reset()
	store.EXPECT().DeleteOldFailedQueues(ctx, twoWeeks, 100).Return(int64(0), nil)
	require.NoError(t, failed.Execute(ctx))
	assert.NotContains(t, logBuf.String(), "Deleted old failed jobs")

	store.EXPECT().CleanOldMountLastFetchTimes(ctx, time.Hour, 20).Return(int64(4), nil)
	require.NoError(t, fetch.Execute(ctx))

	store.EXPECT().CleanOldMountLastFetchTimes(ctx, time.Hour, 20).Return(int64(0), errors.New("disk I/O error"))
	err := fetch.Execute(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestFailedQueueRetentionDrainsInBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openBackends(t)
	slogger, _ := NewTestSlogger()

	b.queueJobs(t, schedstore.CategoryArchive, 300)
	_, err := b.store.ReserveForMount(ctx, schedstore.CategoryArchive, 1, 300)
	require.NoError(t, err)
	_, err = b.store.ActivateReserved(ctx, schedstore.CategoryArchive, 1)
	require.NoError(t, err)
	active, err := b.store.ListJobs(ctx, schedstore.CategoryArchive, schedstore.QueueActive, 300)
	require.NoError(t, err)
	require.Len(t, active, 300)

	for _, j := range active[:250] {
		require.NoError(t, b.store.FailJob(ctx, schedstore.CategoryArchive, j.ID, "tape full"))
	}
	b.clock.Advance(13 * 24 * time.Hour)
	for _, j := range active[250:] {
		require.NoError(t, b.store.FailJob(ctx, schedstore.CategoryArchive, j.ID, "tape full"))
	}
	b.clock.Advance(24*time.Hour + time.Second)

	r := maintenance.NewFailedQueueRetentionRoutine(b.store, 100, twoWeeks, slogger)
	remaining := func() int {
		rows, err := b.store.ListJobs(ctx, schedstore.CategoryArchive, schedstore.QueueFailed, 500)
		require.NoError(t, err)
		return len(rows)
	}

	require.Equal(t, 300, remaining())
	for _, want := range []int{200, 100, 50, 50} {
		require.NoError(t, r.Execute(ctx))
		assert.Equal(t, want, remaining())
	}
}

func TestMountFetchRetentionAgainstStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openBackends(t)
	slogger, _ := NewTestSlogger()

	require.NoError(t, b.store.TouchMountLastFetch(ctx, 1, schedstore.CategoryArchive))
	require.NoError(t, b.store.TouchMountLastFetch(ctx, 2, schedstore.CategoryRetrieve))
	b.clock.Advance(2 * time.Hour)
	require.NoError(t, b.store.TouchMountLastFetch(ctx, 3, schedstore.CategoryArchive))

	store := countingRetention{RetentionStore: b.store}
	r := maintenance.NewMountFetchRetentionRoutine(&store, 10, time.Hour, slogger)
	require.NoError(t, r.Execute(ctx))
	require.NoError(t, r.Execute(ctx))
	assert.Equal(t, []int64{2, 0}, store.cleaned)
}

type countingRetention struct {
	maintenance.RetentionStore
	cleaned []int64
}

func (c *countingRetention) CleanOldMountLastFetchTimes(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error) {
	n, err := c.RetentionStore.CleanOldMountLastFetchTimes(ctx, olderThan, batchSize)
	c.cleaned = append(c.cleaned, n)
	return n, err
}

func TestGCRoutine(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gc := mocks.NewMockGarbageCollector(ctrl)
	slogger, logBuf := NewTestSlogger()
	r := maintenance.NewGCRoutine(gc, slogger)
	ctx := context.Background()
	assert.Equal(t, "garbage_collector", r.Name())

	gc.EXPECT().RunOnePass(ctx).Return(objectstore.GCStats{}, nil)
	require.NoError(t, r.Execute(ctx))
	assert.NotContains(t, logBuf.String(), "Collected dead agents")

	gc.EXPECT().RunOnePass(ctx).Return(objectstore.GCStats{AgentsCollected: 2, ObjectsReleased: 7}, nil)
	require.NoError(t, r.Execute(ctx))
	assert.Contains(t, logBuf.String(), "Collected dead agents")
	assert.Contains(t, logBuf.String(), `"objects_released":7`)

	gc.EXPECT().RunOnePass(ctx).Return(objectstore.GCStats{}, errors.New("database is locked"))
	assert.Error(t, r.Execute(ctx))
}
