package schedstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// RepackReportBatch is a set of claimed report rows of one kind. Rows stay
// claimed until Report commits or the reclaim delay expires.
type RepackReportBatch struct {
	Kind  ReportKind
	Jobs  []Job
	store *Store
}

// Empty reports whether the batch holds no rows.
func (b *RepackReportBatch) Empty() bool {
	return b == nil || len(b.Jobs) == 0
}

func reportSource(kind ReportKind) (Category, Queue, JobStatus, error) {
	switch kind {
	case ReportRetrieveSuccess:
		return CategoryRepackRetrieve, QueueActive, JobToReportSuccess, nil
	case ReportArchiveSuccess:
		return CategoryRepackArchive, QueueActive, JobToReportSuccess, nil
	case ReportRetrieveFailed:
		return CategoryRepackRetrieve, QueueFailed, JobToReportFailure, nil
	case ReportArchiveFailed:
		return CategoryRepackArchive, QueueFailed, JobToReportFailure, nil
	}
	return "", "", "", fmt.Errorf("unknown report kind: %q", kind)
}

// FetchRepackReportBatch claims up to max rows awaiting a report of kind.
// Rows claimed by a reporter that has not finished within the reclaim delay
// are eligible again.
func (s *Store) FetchRepackReportBatch(ctx context.Context, kind ReportKind, max int) (*RepackReportBatch, error) {
	c, q, status, err := reportSource(kind)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = defaultBatchSize
	}

	batch := &RepackReportBatch{Kind: kind, store: s}
	table := c.Table(q)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT job_id FROM %s
WHERE status = ? AND (is_reporting = 0 OR last_update_time <= ?)
ORDER BY last_update_time ASC, rowid ASC
LIMIT ?;
`, table), status, now.Add(-s.reclaimDelay).Unix(), max)
		if err != nil {
			return fmt.Errorf("select report rows: %w", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return fmt.Errorf("scan report rows: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		idIn := placeholders(len(ids))
		args := append([]any{now.Unix()}, stringArgs(ids)...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET is_reporting = 1, last_update_time = ? WHERE job_id IN (%s);
`, table, idIn), args...); err != nil {
			return fmt.Errorf("claim report rows: %w", err)
		}

		jobRows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s WHERE job_id IN (%s) ORDER BY creation_time ASC, rowid ASC;
`, jobColumns, table, idIn), stringArgs(ids)...)
		if err != nil {
			return fmt.Errorf("load report rows: %w", err)
		}
		defer jobRows.Close()
		for jobRows.Next() {
			j, err := scanJob(jobRows, c, q)
			if err != nil {
				return fmt.Errorf("scan report row: %w", err)
			}
			batch.Jobs = append(batch.Jobs, *j)
		}
		return jobRows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s report batch: %w", kind, err)
	}
	return batch, nil
}

// Report applies the batch to its repack requests in one transaction.
// Rows removed since the batch was claimed are skipped, so a batch reported
// twice never double counts.
func (b *RepackReportBatch) Report(ctx context.Context) error {
	if b.Empty() {
		return nil
	}
	s := b.store
	c, q, status, err := reportSource(b.Kind)
	if err != nil {
		return err
	}
	table := c.Table(q)

	var bufferFiles, bufferDirs []string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().Unix()
		deltas := make(map[string]*RepackStats)
		exists := make(map[string]bool)

		for _, j := range b.Jobs {
			var claimed int
			err := tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT is_reporting FROM %s WHERE job_id = ? AND status = ?;
`, table), j.ID, status).Scan(&claimed)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("check report row %s: %w", j.ID, err)
			}

			live, ok := exists[j.RepackRequestID]
			if !ok {
				live, err = repackRequestExists(ctx, tx, j.RepackRequestID)
				if err != nil {
					return err
				}
				exists[j.RepackRequestID] = live
			}
			d := deltas[j.RepackRequestID]
			if d == nil {
				d = &RepackStats{}
				deltas[j.RepackRequestID] = d
			}

			switch b.Kind {
			case ReportRetrieveSuccess:
				if live {
					for _, cp := range j.RearchiveCopies {
						if err := insertPendingJob(ctx, tx, CategoryRepackArchive, uuid.NewString(), QueueJobRequest{
							ArchiveFileID:   j.ArchiveFileID,
							FSeq:            j.FSeq,
							TapePool:        cp.TapePool,
							CopyNb:          cp.CopyNb,
							SizeInBytes:     j.SizeInBytes,
							RepackRequestID: j.RepackRequestID,
							BufferURL:       j.BufferURL,
						}, now); err != nil {
							return err
						}
					}
				}
				if err := deleteJob(ctx, tx, table, j.ID); err != nil {
					return err
				}
				d.RetrievedFiles++
				d.RetrievedBytes += j.SizeInBytes

			case ReportArchiveSuccess:
				if err := deleteJob(ctx, tx, table, j.ID); err != nil {
					return err
				}
				done, err := bufferFileReleased(ctx, tx, j.BufferURL)
				if err != nil {
					return err
				}
				if done {
					bufferFiles = append(bufferFiles, j.BufferURL)
				}
				d.ArchivedFiles++
				d.ArchivedBytes += j.SizeInBytes

			case ReportRetrieveFailed:
				if err := markJobReported(ctx, tx, table, j.ID, now); err != nil {
					return err
				}
				d.FailedToRetrieveFiles++
				d.FailedToRetrieveBytes += j.SizeInBytes
				// The copies this file would have produced can no longer be archived.
				n := uint64(len(j.RearchiveCopies))
				d.FailedToArchiveFiles += n
				d.FailedToArchiveBytes += n * j.SizeInBytes

			case ReportArchiveFailed:
				if err := markJobReported(ctx, tx, table, j.ID, now); err != nil {
					return err
				}
				d.FailedToArchiveFiles++
				d.FailedToArchiveBytes += j.SizeInBytes
			}
		}

		for id, d := range deltas {
			if !exists[id] {
				continue
			}
			if err := applyReportDelta(ctx, tx, id, d, now); err != nil {
				return err
			}
			dir, err := finishIfComplete(ctx, tx, id, now)
			if err != nil {
				return err
			}
			if dir != "" {
				bufferDirs = append(bufferDirs, dir)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("report %s batch: %w", b.Kind, err)
	}
	s.cleanBuffer(bufferFiles, bufferDirs)
	return nil
}

// bufferFileReleased reports whether no pending or active repack archive
// job still reads the buffer file at path.
func bufferFileReleased(ctx context.Context, tx *sql.Tx, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	var n int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT (SELECT COUNT(*) FROM %s WHERE buffer_url = ?) + (SELECT COUNT(*) FROM %s WHERE buffer_url = ?);
`, CategoryRepackArchive.Table(QueuePending), CategoryRepackArchive.Table(QueueActive)), path, path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count readers of %s: %w", path, err)
	}
	return n == 0, nil
}

// cleanBuffer removes archived buffer files and the buffer directories of
// finished requests. Failures leave files behind and are only logged.
func (s *Store) cleanBuffer(files, dirs []string) {
	for _, f := range files {
		err := os.Remove(f)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			s.logger.Warn("Repack buffer file already gone", "path", f)
		default:
			s.logger.Warn("Failed to remove repack buffer file", "path", f, "error", err)
		}
	}
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			s.logger.Warn("Failed to remove repack buffer directory", "buffer_dir", d, "error", err)
			continue
		}
		s.logger.Info("Removed repack buffer directory", "buffer_dir", d)
	}
}

func repackRequestExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM repack_request WHERE request_id = ?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup repack request %s: %w", id, err)
	}
	return true, nil
}

func deleteJob(ctx context.Context, tx *sql.Tx, table, id string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = ?;`, table), id); err != nil {
		return fmt.Errorf("delete reported job %s: %w", id, err)
	}
	return nil
}

func markJobReported(ctx context.Context, tx *sql.Tx, table, id string, now int64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET status = ?, is_reporting = 0, last_update_time = ? WHERE job_id = ?;
`, table), JobFailed, now, id); err != nil {
		return fmt.Errorf("mark job %s reported: %w", id, err)
	}
	return nil
}

func applyReportDelta(ctx context.Context, tx *sql.Tx, id string, d *RepackStats, now int64) error {
	_, err := tx.ExecContext(ctx, `
UPDATE repack_request SET
  retrieved_files = retrieved_files + ?,
  retrieved_bytes = retrieved_bytes + ?,
  archived_files = archived_files + ?,
  archived_bytes = archived_bytes + ?,
  failed_to_retrieve_files = failed_to_retrieve_files + ?,
  failed_to_retrieve_bytes = failed_to_retrieve_bytes + ?,
  failed_to_archive_files = failed_to_archive_files + ?,
  failed_to_archive_bytes = failed_to_archive_bytes + ?,
  last_update_time = ?
WHERE request_id = ?;
`, int64(d.RetrievedFiles), int64(d.RetrievedBytes),
		int64(d.ArchivedFiles), int64(d.ArchivedBytes),
		int64(d.FailedToRetrieveFiles), int64(d.FailedToRetrieveBytes),
		int64(d.FailedToArchiveFiles), int64(d.FailedToArchiveBytes),
		now, id)
	if err != nil {
		return fmt.Errorf("update repack %s counters: %w", id, err)
	}
	return nil
}
