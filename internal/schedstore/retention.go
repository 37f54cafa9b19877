package schedstore

import (
	"context"
	"fmt"
	"time"
)

// DeleteOldFailedQueues removes failed-queue rows whose last update is at
// least olderThan ago. At most batchSize rows are removed per call, shared
// across the four categories.
func (s *Store) DeleteOldFailedQueues(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	cutoff := s.now().Add(-olderThan).Unix()

	var total int64
	for _, c := range Categories() {
		budget := int64(batchSize) - total
		if budget <= 0 {
			break
		}
		table := c.Table(QueueFailed)
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE job_id IN (
  SELECT job_id FROM %s
  WHERE last_update_time <= ?
  ORDER BY last_update_time ASC
  LIMIT ?
);
`, table, table), cutoff, budget)
		if err != nil {
			return total, fmt.Errorf("delete old rows from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// CleanOldMountLastFetchTimes removes mount fetch markers last touched at
// least olderThan ago, at most batchSize per call.
func (s *Store) CleanOldMountLastFetchTimes(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	cutoff := s.now().Add(-olderThan).Unix()

	res, err := s.db.ExecContext(ctx, `
DELETE FROM mount_queue_last_fetch
WHERE rowid IN (
  SELECT rowid FROM mount_queue_last_fetch
  WHERE last_update_time <= ?
  ORDER BY last_update_time ASC
  LIMIT ?
);
`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clean mount last fetch times: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
