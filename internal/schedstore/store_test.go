package schedstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tapemaint/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T, opts ...Option) (*Store, *testClock) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "scheduler.db"), Schema)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clock := newTestClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(db, opts...), clock
}

func seedFailedRows(t *testing.T, s *Store, c Category, n int, lastUpdate time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.db.Exec(`INSERT INTO `+c.Table(QueueFailed)+`(job_id, status, creation_time, last_update_time) VALUES(?, ?, ?, ?);`,
			uuid.NewString(), JobFailed, lastUpdate.Unix(), lastUpdate.Unix())
		if err != nil {
			t.Fatalf("seed failed row: %v", err)
		}
	}
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func queueJobs(t *testing.T, s *Store, c Category, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.QueueJob(context.Background(), c, QueueJobRequest{
			ArchiveFileID: uint64(i + 1),
			VID:           "V00001",
			FSeq:          uint64(i + 1),
			SizeInBytes:   1024,
		})
		if err != nil {
			t.Fatalf("QueueJob: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestCategoryTableAndParse(t *testing.T) {
	t.Parallel()

	if got := CategoryRepackArchive.Table(QueueFailed); got != "repack_archive_failed_queue" {
		t.Fatalf("Table() = %q", got)
	}

	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{in: "ARCHIVE_", want: CategoryArchive},
		{in: "retrieve", want: CategoryRetrieve},
		{in: "repack-archive", want: CategoryRepackArchive},
		{in: "REPACK_RETRIEVE", want: CategoryRepackRetrieve},
		{in: "tape", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseCategory(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseCategory(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestQueueSummaryCountsEveryQueue(t *testing.T) {
	t.Parallel()
	s, _ := openTestStore(t)
	queueJobs(t, s, CategoryArchive, 3)

	summary, err := s.QueueSummary(context.Background())
	if err != nil {
		t.Fatalf("QueueSummary: %v", err)
	}
	if len(summary) != 12 {
		t.Fatalf("expected 12 queue counts, got %d", len(summary))
	}
	for _, qc := range summary {
		want := 0
		if qc.Category == CategoryArchive && qc.Queue == QueuePending {
			want = 3
		}
		if qc.Count != want {
			t.Fatalf("%s %s count = %d, want %d", qc.Category, qc.Queue, qc.Count, want)
		}
	}
}
