package maintenance_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tapemaint/internal/catalogue"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
	"github.com/mattjoyce/tapemaint/internal/storage"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.String()
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type backends struct {
	cat   *catalogue.Catalogue
	store *schedstore.Store
	clock *testClock
}

func openBackends(t *testing.T) *backends {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	clock := newTestClock()

	catDB, err := storage.OpenSQLite(ctx, filepath.Join(dir, "catalogue.db"), catalogue.Schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = catDB.Close() })
	schedDB, err := storage.OpenSQLite(ctx, filepath.Join(dir, "scheduler.db"), schedstore.Schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = schedDB.Close() })

	return &backends{
		cat:   catalogue.New(catDB, catalogue.WithClock(clock.Now)),
		store: schedstore.New(schedDB, schedstore.WithClock(clock.Now)),
		clock: clock,
	}
}

func (b *backends) mountDrive(t *testing.T, name string, session uint64) {
	t.Helper()
	require.NoError(t, b.cat.UpsertDrive(context.Background(), catalogue.Drive{
		Name:           name,
		LogicalLibrary: "lib1",
		Status:         catalogue.DriveTransferring,
		MountType:      "ARCHIVE_FOR_USER",
		SessionID:      &session,
		VID:            "V" + name,
	}))
}

func (b *backends) queueJobs(t *testing.T, c schedstore.Category, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := b.store.QueueJob(context.Background(), c, schedstore.QueueJobRequest{
			ArchiveFileID: uint64(i + 1),
			TapePool:      "pool-a",
			CopyNb:        1,
			SizeInBytes:   1024,
		})
		require.NoError(t, err)
	}
}

func uint64Ptr(v uint64) *uint64 { return &v }
