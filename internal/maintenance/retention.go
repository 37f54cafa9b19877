package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/tapemaint/internal/metrics"
)

// FailedQueueRetentionRoutine deletes failed-queue rows untouched for longer
// than the inactive time limit, at most batchSize per Execute.
type FailedQueueRetentionRoutine struct {
	store     RetentionStore
	batchSize int
	limit     time.Duration
	logger    *slog.Logger
}

// NewFailedQueueRetentionRoutine deletes rows idle for inactiveTimeLimit.
func NewFailedQueueRetentionRoutine(store RetentionStore, batchSize int, inactiveTimeLimit time.Duration, logger *slog.Logger) *FailedQueueRetentionRoutine {
	return &FailedQueueRetentionRoutine{
		store:     store,
		batchSize: batchSize,
		limit:     inactiveTimeLimit,
		logger:    routineLogger(logger, "failed_queue_retention"),
	}
}

func (r *FailedQueueRetentionRoutine) Name() string { return "failed_queue_retention" }

// Execute deletes one batch of expired failed-queue rows.
func (r *FailedQueueRetentionRoutine) Execute(ctx context.Context) error {
	n, err := r.store.DeleteOldFailedQueues(ctx, r.limit, r.batchSize)
	if err != nil {
		return fmt.Errorf("delete old failed jobs: %w", err)
	}
	if n > 0 {
		metrics.RetentionRowsDeleted.WithLabelValues("failed_queue").Add(float64(n))
		r.logger.Info("Deleted old failed jobs", "rows", n, "batch_size", r.batchSize, "inactive_time_limit", r.limit.String())
	}
	return nil
}

// MountFetchRetentionRoutine deletes stale mount last-fetch markers.
type MountFetchRetentionRoutine struct {
	store     RetentionStore
	batchSize int
	limit     time.Duration
	logger    *slog.Logger
}

// NewMountFetchRetentionRoutine deletes markers idle for inactiveTimeLimit.
func NewMountFetchRetentionRoutine(store RetentionStore, batchSize int, inactiveTimeLimit time.Duration, logger *slog.Logger) *MountFetchRetentionRoutine {
	return &MountFetchRetentionRoutine{
		store:     store,
		batchSize: batchSize,
		limit:     inactiveTimeLimit,
		logger:    routineLogger(logger, "mount_fetch_retention"),
	}
}

func (r *MountFetchRetentionRoutine) Name() string { return "mount_fetch_retention" }

// Execute deletes one batch of stale last-fetch markers.
func (r *MountFetchRetentionRoutine) Execute(ctx context.Context) error {
	n, err := r.store.CleanOldMountLastFetchTimes(ctx, r.limit, r.batchSize)
	if err != nil {
		return fmt.Errorf("clean mount last fetch times: %w", err)
	}
	if n > 0 {
		metrics.RetentionRowsDeleted.WithLabelValues("mount_queue_last_fetch").Add(float64(n))
		r.logger.Info("Deleted stale mount fetch markers", "rows", n, "batch_size", r.batchSize)
	}
	return nil
}
