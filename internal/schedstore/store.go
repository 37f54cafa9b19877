package schedstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultBatchSize    = 500
	defaultReclaimDelay = 5 * time.Minute
	// defaultExpandReclaimDelay outlasts any healthy expansion.
	defaultExpandReclaimDelay = 30 * time.Minute
	// maxInArgs bounds the number of mount ids bound into one IN clause.
	maxInArgs = 500
)

// Store is the SQLite-backed scheduler database: job queues, mount fetch
// markers and repack requests.
type Store struct {
	db                 *sql.DB
	now                func() time.Time
	reclaimDelay       time.Duration
	expandReclaimDelay time.Duration
	logger             *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReportReclaimDelay sets how long a claimed report row stays invisible
// to other reporters before it may be claimed again.
func WithReportReclaimDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reclaimDelay = d
		}
	}
}

// WithExpandReclaimDelay sets how long a request may sit in Starting, or
// in Expanding before its expansion is recorded, before it is handed out
// for expansion again.
func WithExpandReclaimDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.expandReclaimDelay = d
		}
	}
}

// WithLogger sets the logger used for repack buffer housekeeping.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps an open scheduler database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:                 db,
		now:                time.Now,
		reclaimDelay:       defaultReclaimDelay,
		expandReclaimDelay: defaultExpandReclaimDelay,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the scheduler database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(sc rowScanner, c Category, q Queue) (*Job, error) {
	var (
		j             Job
		mountID       sql.NullInt64
		status        string
		archiveFileID int64
		fseq          int64
		copyNb        int
		copies        sql.NullString
		size          int64
		repackID      sql.NullString
		isReporting   int
		failureLog    sql.NullString
		created       int64
		updated       int64
	)
	if err := sc.Scan(
		&j.ID, &mountID, &status, &archiveFileID, &j.VID, &fseq, &j.TapePool, &copyNb,
		&copies, &size, &repackID, &j.BufferURL, &isReporting, &failureLog,
		&created, &updated,
	); err != nil {
		return nil, err
	}

	j.Category = c
	j.Queue = q
	j.Status = JobStatus(status)
	j.ArchiveFileID = uint64(archiveFileID)
	j.FSeq = uint64(fseq)
	j.CopyNb = uint8(copyNb)
	j.SizeInBytes = uint64(size)
	j.IsReporting = isReporting != 0
	j.CreationTime = time.Unix(created, 0).UTC()
	j.LastUpdate = time.Unix(updated, 0).UTC()
	if mountID.Valid {
		id := uint64(mountID.Int64)
		j.MountID = &id
	}
	if repackID.Valid {
		j.RepackRequestID = repackID.String
	}
	if failureLog.Valid {
		j.FailureLog = failureLog.String
	}
	if copies.Valid && copies.String != "" {
		if err := json.Unmarshal([]byte(copies.String), &j.RearchiveCopies); err != nil {
			return nil, fmt.Errorf("decode rearchive copies for job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func encodeCopies(copies []RearchiveCopy) (any, error) {
	if len(copies) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(copies)
	if err != nil {
		return nil, fmt.Errorf("encode rearchive copies: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func mountArgs(ids []uint64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
