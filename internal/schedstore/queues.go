package schedstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueueJob inserts a new unowned pending job.
func (s *Store) QueueJob(ctx context.Context, c Category, req QueueJobRequest) (string, error) {
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	id := uuid.NewString()
	if err := insertPendingJob(ctx, s.db, c, id, req, s.now().Unix()); err != nil {
		return "", fmt.Errorf("queue %s job: %w", c, err)
	}
	return id, nil
}

// ReserveForMount assigns up to max unowned pending jobs to mountID and
// records the fetch time for the mount.
func (s *Store) ReserveForMount(ctx context.Context, c Category, mountID uint64, max int) ([]string, error) {
	if !c.Valid() {
		return nil, ErrInvalidCategory
	}
	if max <= 0 {
		return nil, nil
	}

	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		table := c.Table(QueuePending)
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT job_id FROM %s
WHERE mount_id IS NULL
ORDER BY creation_time ASC, rowid ASC
LIMIT ?;
`, table), max)
		if err != nil {
			return fmt.Errorf("select pending jobs: %w", err)
		}
		ids, err = collectIDs(rows)
		if err != nil {
			return fmt.Errorf("scan pending jobs: %w", err)
		}
		if len(ids) > 0 {
			args := append([]any{int64(mountID), s.now().Unix()}, stringArgs(ids)...)
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET mount_id = ?, last_update_time = ?
WHERE job_id IN (%s);
`, table, placeholders(len(ids))), args...); err != nil {
				return fmt.Errorf("reserve pending jobs: %w", err)
			}
		}
		return touchMountLastFetch(ctx, tx, mountID, c, s.now().Unix())
	})
	if err != nil {
		return nil, fmt.Errorf("reserve %s jobs for mount %d: %w", c, mountID, err)
	}
	return ids, nil
}

// ActivateReserved moves every pending job reserved by mountID into the
// active queue.
func (s *Store) ActivateReserved(ctx context.Context, c Category, mountID uint64) (int64, error) {
	if !c.Valid() {
		return 0, ErrInvalidCategory
	}
	var moved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		pending, active := c.Table(QueuePending), c.Table(QueueActive)
		now := s.now().Unix()
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s(%s)
SELECT job_id, mount_id, ?, archive_file_id, vid, fseq, tape_pool, copy_nb,
  rearchive_copies, size_in_bytes, repack_request_id, buffer_url, 0, failure_log,
  creation_time, ?
FROM %s WHERE mount_id = ?;
`, active, jobColumns, pending), JobActive, now, int64(mountID))
		if err != nil {
			return fmt.Errorf("copy reserved jobs: %w", err)
		}
		moved, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE mount_id = ?;`, pending), int64(mountID)); err != nil {
			return fmt.Errorf("delete reserved jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("activate %s jobs for mount %d: %w", c, mountID, err)
	}
	return moved, nil
}

// CompleteJob records a successful transfer. Repack jobs stay in the active
// queue awaiting report; user jobs are removed.
func (s *Store) CompleteJob(ctx context.Context, c Category, jobID string) error {
	if !c.Valid() {
		return ErrInvalidCategory
	}
	table := c.Table(QueueActive)

	var (
		res sql.Result
		err error
	)
	if c.IsRepack() {
		res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = ?, mount_id = NULL, is_reporting = 0, last_update_time = ?
WHERE job_id = ? AND status = ?;
`, table), JobToReportSuccess, s.now().Unix(), jobID, JobActive)
	} else {
		res, err = s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = ?;`, table), jobID)
	}
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FailJob moves an active job to the failed queue. Repack jobs await a
// failure report there.
func (s *Store) FailJob(ctx context.Context, c Category, jobID, reason string) error {
	if !c.Valid() {
		return ErrInvalidCategory
	}
	status := JobFailed
	if c.IsRepack() {
		status = JobToReportFailure
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		active, failed := c.Table(QueueActive), c.Table(QueueFailed)
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s(%s)
SELECT job_id, NULL, ?, archive_file_id, vid, fseq, tape_pool, copy_nb,
  rearchive_copies, size_in_bytes, repack_request_id, buffer_url, 0, ?,
  creation_time, ?
FROM %s WHERE job_id = ?;
`, failed, jobColumns, active), status, reason, s.now().Unix(), jobID)
		if err != nil {
			return fmt.Errorf("fail job %s: %w", jobID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrJobNotFound
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = ?;`, active), jobID); err != nil {
			return fmt.Errorf("delete active job %s: %w", jobID, err)
		}
		return nil
	})
}

// TouchMountLastFetch records that mountID fetched from queue c.
func (s *Store) TouchMountLastFetch(ctx context.Context, mountID uint64, c Category) error {
	if !c.Valid() {
		return ErrInvalidCategory
	}
	return touchMountLastFetch(ctx, s.db, mountID, c, s.now().Unix())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touchMountLastFetch(ctx context.Context, ex execer, mountID uint64, c Category, now int64) error {
	_, err := ex.ExecContext(ctx, `
INSERT INTO mount_queue_last_fetch(mount_id, queue_type, last_update_time)
VALUES(?, ?, ?)
ON CONFLICT(mount_id, queue_type) DO UPDATE SET last_update_time = excluded.last_update_time;
`, int64(mountID), string(c), now)
	if err != nil {
		return fmt.Errorf("touch mount %d last fetch: %w", mountID, err)
	}
	return nil
}

// GetScheduledMountIDs returns the distinct mount ids referenced by the
// pending or active queue of category c.
func (s *Store) GetScheduledMountIDs(ctx context.Context, c Category) ([]uint64, error) {
	if !c.Valid() {
		return nil, ErrInvalidCategory
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT mount_id FROM %s WHERE mount_id IS NOT NULL
UNION
SELECT mount_id FROM %s WHERE mount_id IS NOT NULL
ORDER BY 1;
`, c.Table(QueuePending), c.Table(QueueActive)))
	if err != nil {
		return nil, fmt.Errorf("query %s scheduled mounts: %w", c, err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s scheduled mount: %w", c, err)
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

// HandleInactiveMountQueues returns the jobs owned by dead mounts to the
// unowned pending queue. Active jobs are moved back to pending and pending
// reservations are released. Each transaction touches at most batchSize
// rows. It returns the number of jobs requeued.
func (s *Store) HandleInactiveMountQueues(ctx context.Context, dead []uint64, c Category, batchSize int) (int64, error) {
	if !c.Valid() {
		return 0, ErrInvalidCategory
	}
	if len(dead) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var total int64
	for start := 0; start < len(dead); start += maxInArgs {
		chunk := dead[start:min(start+maxInArgs, len(dead))]

		n, err := s.requeueActive(ctx, c, chunk, batchSize)
		total += n
		if err != nil {
			return total, err
		}
		n, err = s.releasePending(ctx, c, chunk, batchSize)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Store) requeueActive(ctx context.Context, c Category, mounts []uint64, batchSize int) (int64, error) {
	pending, active := c.Table(QueuePending), c.Table(QueueActive)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var moved int
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			args := append(mountArgs(mounts), batchSize)
			rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT job_id FROM %s WHERE mount_id IN (%s) LIMIT ?;
`, active, placeholders(len(mounts))), args...)
			if err != nil {
				return fmt.Errorf("select dead mount jobs: %w", err)
			}
			ids, err := collectIDs(rows)
			if err != nil {
				return fmt.Errorf("scan dead mount jobs: %w", err)
			}
			if len(ids) == 0 {
				return nil
			}

			idIn := placeholders(len(ids))
			insertArgs := append([]any{JobPending, s.now().Unix()}, stringArgs(ids)...)
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s(%s)
SELECT job_id, NULL, ?, archive_file_id, vid, fseq, tape_pool, copy_nb,
  rearchive_copies, size_in_bytes, repack_request_id, buffer_url, 0, failure_log,
  creation_time, ?
FROM %s WHERE job_id IN (%s);
`, pending, jobColumns, active, idIn), insertArgs...); err != nil {
				return fmt.Errorf("requeue dead mount jobs: %w", err)
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id IN (%s);`, active, idIn), stringArgs(ids)...); err != nil {
				return fmt.Errorf("delete dead mount jobs: %w", err)
			}
			moved = len(ids)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("requeue %s active jobs: %w", c, err)
		}
		total += int64(moved)
		if moved < batchSize {
			return total, nil
		}
	}
}

func (s *Store) releasePending(ctx context.Context, c Category, mounts []uint64, batchSize int) (int64, error) {
	pending := c.Table(QueuePending)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		args := append([]any{s.now().Unix()}, mountArgs(mounts)...)
		args = append(args, batchSize)
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET mount_id = NULL, last_update_time = ?
WHERE job_id IN (SELECT job_id FROM %s WHERE mount_id IN (%s) LIMIT ?);
`, pending, pending, placeholders(len(mounts))), args...)
		if err != nil {
			return total, fmt.Errorf("release %s pending jobs: %w", c, err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

// ListJobs returns up to limit jobs of one category queue, oldest first.
func (s *Store) ListJobs(ctx context.Context, c Category, q Queue, limit int) ([]Job, error) {
	if !c.Valid() {
		return nil, ErrInvalidCategory
	}
	if limit <= 0 {
		limit = defaultBatchSize
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s ORDER BY creation_time ASC, rowid ASC LIMIT ?;
`, jobColumns, c.Table(q)), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", c.Table(q), err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows, c, q)
		if err != nil {
			return nil, fmt.Errorf("scan %s job: %w", c.Table(q), err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// QueueSummary counts the rows of every category queue.
func (s *Store) QueueSummary(ctx context.Context) ([]QueueCount, error) {
	var out []QueueCount
	for _, c := range Categories() {
		for _, q := range []Queue{QueuePending, QueueActive, QueueFailed} {
			var n int
			if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, c.Table(q))).Scan(&n); err != nil {
				return nil, fmt.Errorf("count %s: %w", c.Table(q), err)
			}
			out = append(out, QueueCount{Category: c, Queue: q, Count: n})
		}
	}
	return out, nil
}
