package schedstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const repackColumns = `request_id, vid, status, repack_type, buffer_url, no_recall, submitted_by,
  last_expanded_fseq, is_expand_started, is_expand_finished,
  files_to_retrieve, bytes_to_retrieve, files_to_archive, bytes_to_archive,
  user_provided_files, user_provided_bytes, retrieved_files, retrieved_bytes,
  archived_files, archived_bytes, failed_to_retrieve_files, failed_to_retrieve_bytes,
  failed_to_archive_files, failed_to_archive_bytes, failure_message,
  creation_time, last_update_time`

func scanRepack(sc rowScanner) (*RepackRequest, error) {
	var (
		r                 RepackRequest
		status, rtype     string
		noRecall          int
		lastFSeq          int64
		started, finished int
		st                [14]int64
		failure           sql.NullString
		created, updated  int64
	)
	if err := sc.Scan(
		&r.ID, &r.VID, &status, &rtype, &r.BufferURL, &noRecall, &r.SubmittedBy,
		&lastFSeq, &started, &finished,
		&st[0], &st[1], &st[2], &st[3], &st[4], &st[5], &st[6], &st[7],
		&st[8], &st[9], &st[10], &st[11], &st[12], &st[13], &failure,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	r.Status = RepackStatus(status)
	r.Type = RepackType(rtype)
	r.NoRecall = noRecall != 0
	r.LastExpandedFSeq = uint64(lastFSeq)
	r.ExpandStarted = started != 0
	r.ExpandFinished = finished != 0
	r.Stats = RepackStats{
		FilesToRetrieve:       uint64(st[0]),
		BytesToRetrieve:       uint64(st[1]),
		FilesToArchive:        uint64(st[2]),
		BytesToArchive:        uint64(st[3]),
		UserProvidedFiles:     uint64(st[4]),
		UserProvidedBytes:     uint64(st[5]),
		RetrievedFiles:        uint64(st[6]),
		RetrievedBytes:        uint64(st[7]),
		ArchivedFiles:         uint64(st[8]),
		ArchivedBytes:         uint64(st[9]),
		FailedToRetrieveFiles: uint64(st[10]),
		FailedToRetrieveBytes: uint64(st[11]),
		FailedToArchiveFiles:  uint64(st[12]),
		FailedToArchiveBytes:  uint64(st[13]),
	}
	if failure.Valid {
		r.FailureMessage = failure.String
	}
	r.CreationTime = time.Unix(created, 0).UTC()
	r.LastUpdate = time.Unix(updated, 0).UTC()
	return &r, nil
}

// QueueRepack submits a new repack request in the Pending state.
func (s *Store) QueueRepack(ctx context.Context, req SubmitRepackRequest) (string, error) {
	if req.VID == "" {
		return "", fmt.Errorf("vid is empty")
	}
	if !req.Type.Valid() {
		return "", fmt.Errorf("invalid repack type: %q", req.Type)
	}
	if req.BufferURL == "" {
		return "", fmt.Errorf("buffer url is empty")
	}

	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM repack_request WHERE vid = ?;`, req.VID).Scan(&exists)
		if err == nil {
			return ErrRepackExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing repack: %w", err)
		}

		now := s.now().Unix()
		noRecall := 0
		if req.NoRecall {
			noRecall = 1
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO repack_request(request_id, vid, status, repack_type, buffer_url, no_recall, submitted_by, creation_time, last_update_time)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.VID, RepackPending, req.Type, req.BufferURL, noRecall, req.SubmittedBy, now, now); err != nil {
			return fmt.Errorf("insert repack request: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("queue repack %s: %w", req.VID, err)
	}
	return id, nil
}

// GetRepackRequest returns the request for vid or ErrNoSuchObject.
func (s *Store) GetRepackRequest(ctx context.Context, vid string) (*RepackRequest, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM repack_request WHERE vid = ?;`, repackColumns), vid)
	r, err := scanRepack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchObject
	}
	if err != nil {
		return nil, fmt.Errorf("get repack %s: %w", vid, err)
	}
	return r, nil
}

// ListRepackRequests returns all requests, oldest first.
func (s *Store) ListRepackRequests(ctx context.Context) ([]RepackRequest, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM repack_request ORDER BY creation_time ASC, rowid ASC;
`, repackColumns))
	if err != nil {
		return nil, fmt.Errorf("list repack requests: %w", err)
	}
	defer rows.Close()

	var out []RepackRequest
	for rows.Next() {
		r, err := scanRepack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repack request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CancelRepack deletes the request for vid together with every queued
// sub-job it owns.
func (s *Store) CancelRepack(ctx context.Context, vid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT request_id FROM repack_request WHERE vid = ?;`, vid).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoSuchObject
		}
		if err != nil {
			return fmt.Errorf("lookup repack %s: %w", vid, err)
		}
		for _, c := range []Category{CategoryRepackRetrieve, CategoryRepackArchive} {
			for _, q := range []Queue{QueuePending, QueueActive, QueueFailed} {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE repack_request_id = ?;`, c.Table(q)), id); err != nil {
					return fmt.Errorf("delete repack sub-jobs from %s: %w", c.Table(q), err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM repack_request WHERE request_id = ?;`, id); err != nil {
			return fmt.Errorf("delete repack %s: %w", vid, err)
		}
		return nil
	})
}

// GetRepackStatistics counts requests per status.
func (s *Store) GetRepackStatistics(ctx context.Context) (map[RepackStatus]int, error) {
	return repackCounts(ctx, s.db)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func repackCounts(ctx context.Context, q queryer) (map[RepackStatus]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM repack_request GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count repack requests: %w", err)
	}
	defer rows.Close()

	out := make(map[RepackStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan repack count: %w", err)
		}
		out[RepackStatus(status)] = n
	}
	return out, rows.Err()
}

// PromotePendingRepackRequests moves the oldest Pending requests to
// ToExpand so that no more than max requests are in ToExpand or Starting.
func (s *Store) PromotePendingRepackRequests(ctx context.Context, max int) (PromotionStats, error) {
	var stats PromotionStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		counts, err := repackCounts(ctx, tx)
		if err != nil {
			return err
		}
		stats.Pending = counts[RepackPending]
		stats.ToExpand = counts[RepackToExpand]
		stats.Starting = counts[RepackStarting]

		n := min(stats.Pending, max-(stats.ToExpand+stats.Starting))
		if n <= 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, `
UPDATE repack_request SET status = ?, last_update_time = ?
WHERE request_id IN (
  SELECT request_id FROM repack_request
  WHERE status = ?
  ORDER BY creation_time ASC, rowid ASC
  LIMIT ?
);
`, RepackToExpand, s.now().Unix(), RepackPending, n)
		if err != nil {
			return fmt.Errorf("promote repack requests: %w", err)
		}
		promoted, _ := res.RowsAffected()
		stats.Promoted = int(promoted)
		return nil
	})
	return stats, err
}

// GetNextRepackRequestToExpand claims the oldest ToExpand request and
// marks it Starting. It returns (nil, nil) when none is waiting.
func (s *Store) GetNextRepackRequestToExpand(ctx context.Context) (*RepackRequest, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
WITH next AS (
  SELECT request_id FROM repack_request
  WHERE status = ?
  ORDER BY creation_time ASC, rowid ASC
  LIMIT 1
)
UPDATE repack_request
SET status = ?, is_expand_started = 1, last_update_time = ?
WHERE request_id IN (SELECT request_id FROM next)
RETURNING %s;
`, repackColumns), RepackToExpand, RepackStarting, s.now().Unix())
	r, err := scanRepack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim repack request: %w", err)
	}
	return r, nil
}

// ReclaimStaleRepackRequests hands back to ToExpand every request whose
// expansion was claimed but not recorded within the expand reclaim delay,
// such as one held by a daemon that died mid-expansion. Sub-jobs and
// totals are written in one transaction, so the next expansion resumes
// after LastExpandedFSeq without duplicating work. It returns the VIDs
// reclaimed.
func (s *Store) ReclaimStaleRepackRequests(ctx context.Context) ([]string, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
UPDATE repack_request SET status = ?, last_update_time = ?
WHERE is_expand_finished = 0
  AND status IN (?, ?)
  AND last_update_time <= ?
RETURNING vid;
`, RepackToExpand, now.Unix(), RepackStarting, RepackExpanding, now.Add(-s.expandReclaimDelay).Unix())
	if err != nil {
		return nil, fmt.Errorf("reclaim stale repack requests: %w", err)
	}
	vids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale repack requests: %w", err)
	}
	slices.Sort(vids)
	return vids, nil
}

// RepackBufferDir returns the local directory holding the repack buffer
// of vid under bufferURL.
func RepackBufferDir(bufferURL, vid string) string {
	return filepath.Join(strings.TrimPrefix(bufferURL, "file://"), vid)
}

// SetRepackExpanding moves a claimed request to Expanding.
func (s *Store) SetRepackExpanding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE repack_request SET status = ?, last_update_time = ? WHERE request_id = ?;
`, RepackExpanding, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set repack %s expanding: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchObject
	}
	return nil
}

// MarkRepackFailed records a terminal failure for the request.
func (s *Store) MarkRepackFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE repack_request SET status = ?, failure_message = ?, last_update_time = ? WHERE request_id = ?;
`, RepackFailed, reason, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark repack %s failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchObject
	}
	return nil
}

// AddSubrequestsAndUpdateStats queues the retrieve or archive jobs produced
// by expansion and folds the totals into the request. A request with no
// work left is finished in the same transaction. It returns the number of
// jobs queued.
func (s *Store) AddSubrequestsAndUpdateStats(ctx context.Context, id string, result ExpansionResult) (int, error) {
	var queued int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var vid string
		err := tx.QueryRowContext(ctx, `SELECT vid FROM repack_request WHERE request_id = ?;`, id).Scan(&vid)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoSuchObject
		}
		if err != nil {
			return fmt.Errorf("lookup repack request: %w", err)
		}

		now := s.now().Unix()
		for _, sub := range result.Subrequests {
			if sub.UserProvided {
				for _, cp := range sub.Copies {
					if err := insertPendingJob(ctx, tx, CategoryRepackArchive, uuid.NewString(), QueueJobRequest{
						ArchiveFileID:   sub.ArchiveFileID,
						FSeq:            sub.FSeq,
						TapePool:        cp.TapePool,
						CopyNb:          cp.CopyNb,
						SizeInBytes:     sub.SizeInBytes,
						RepackRequestID: id,
						BufferURL:       sub.BufferURL,
					}, now); err != nil {
						return err
					}
					queued++
				}
				continue
			}
			if err := insertPendingJob(ctx, tx, CategoryRepackRetrieve, uuid.NewString(), QueueJobRequest{
				ArchiveFileID:   sub.ArchiveFileID,
				VID:             vid,
				FSeq:            sub.FSeq,
				RearchiveCopies: sub.Copies,
				SizeInBytes:     sub.SizeInBytes,
				RepackRequestID: id,
				BufferURL:       sub.BufferURL,
			}, now); err != nil {
				return err
			}
			queued++
		}

		t := result.Totals
		if _, err := tx.ExecContext(ctx, `
UPDATE repack_request SET
  status = ?,
  last_expanded_fseq = MAX(last_expanded_fseq, ?),
  is_expand_finished = 1,
  files_to_retrieve = files_to_retrieve + ?,
  bytes_to_retrieve = bytes_to_retrieve + ?,
  files_to_archive = files_to_archive + ?,
  bytes_to_archive = bytes_to_archive + ?,
  user_provided_files = user_provided_files + ?,
  user_provided_bytes = user_provided_bytes + ?,
  last_update_time = ?
WHERE request_id = ?;
`, RepackExpanding, int64(result.LastExpandedFSeq),
			int64(t.FilesToRetrieve), int64(t.BytesToRetrieve),
			int64(t.FilesToArchive), int64(t.BytesToArchive),
			int64(t.UserProvidedFiles), int64(t.UserProvidedBytes),
			now, id); err != nil {
			return fmt.Errorf("update repack stats: %w", err)
		}
		_, err = finishIfComplete(ctx, tx, id, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("add repack subrequests for %s: %w", id, err)
	}
	return queued, nil
}

func insertPendingJob(ctx context.Context, ex execer, c Category, id string, req QueueJobRequest, now int64) error {
	copies, err := encodeCopies(req.RearchiveCopies)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s(%s)
VALUES(?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?);
`, c.Table(QueuePending), jobColumns),
		id, JobPending, int64(req.ArchiveFileID), req.VID, int64(req.FSeq), req.TapePool, int(req.CopyNb),
		copies, int64(req.SizeInBytes), nullString(req.RepackRequestID), req.BufferURL, now, now)
	if err != nil {
		return fmt.Errorf("insert %s job: %w", c, err)
	}
	return nil
}

// finishIfComplete moves an Expanding request whose every file is accounted
// for to Done, or Failed when any transfer failed. It returns the request's
// buffer directory when it finished, "" otherwise.
func finishIfComplete(ctx context.Context, tx *sql.Tx, id string, now int64) (string, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM repack_request WHERE request_id = ?;`, repackColumns), id)
	r, err := scanRepack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reload repack request: %w", err)
	}
	if r.Status != RepackExpanding || !r.ExpandFinished {
		return "", nil
	}
	st := r.Stats
	if st.RetrievedFiles+st.FailedToRetrieveFiles < st.FilesToRetrieve {
		return "", nil
	}
	if st.ArchivedFiles+st.FailedToArchiveFiles < st.FilesToArchive {
		return "", nil
	}

	final := RepackDone
	if st.FailedToRetrieveFiles > 0 || st.FailedToArchiveFiles > 0 {
		final = RepackFailed
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE repack_request SET status = ?, last_update_time = ? WHERE request_id = ?;
`, final, now, id); err != nil {
		return "", fmt.Errorf("finish repack request: %w", err)
	}
	return RepackBufferDir(r.BufferURL, r.VID), nil
}
