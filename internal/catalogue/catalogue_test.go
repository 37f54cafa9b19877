package catalogue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/tapemaint/internal/storage"
)

func openTestCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalogue.db"), Schema)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
}

func mountID(v uint64) *uint64 { return &v }

func TestGetActiveMountIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCatalogue(t)

	drives := []Drive{
		{Name: "drive-a", Status: DriveTransferring, SessionID: mountID(5), VID: "V00001"},
		{Name: "drive-b", Status: DriveUp},
		{Name: "drive-c", Status: DriveMounting, SessionID: mountID(7)},
		// A stale session id on an idle drive is not a live mount.
		{Name: "drive-d", Status: DriveDown, SessionID: mountID(9)},
	}
	for _, d := range drives {
		if err := c.UpsertDrive(ctx, d); err != nil {
			t.Fatalf("UpsertDrive(%s): %v", d.Name, err)
		}
	}

	got, err := c.GetActiveMountIDs(ctx)
	if err != nil {
		t.Fatalf("GetActiveMountIDs: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 drives, got %d", len(got))
	}
	if got["drive-a"] == nil || *got["drive-a"] != 5 {
		t.Fatalf("drive-a mount = %v", got["drive-a"])
	}
	if got["drive-c"] == nil || *got["drive-c"] != 7 {
		t.Fatalf("drive-c mount = %v", got["drive-c"])
	}
	if got["drive-b"] != nil || got["drive-d"] != nil {
		t.Fatalf("idle drives should map to nil, got b=%v d=%v", got["drive-b"], got["drive-d"])
	}
}

func TestUpsertDriveUpdatesAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCatalogue(t)

	if err := c.UpsertDrive(ctx, Drive{Name: "d1", Status: DriveTransferring, SessionID: mountID(1)}); err != nil {
		t.Fatalf("UpsertDrive: %v", err)
	}
	if err := c.UpsertDrive(ctx, Drive{Name: "d1", Status: DriveUp}); err != nil {
		t.Fatalf("UpsertDrive update: %v", err)
	}

	list, err := c.ListDrives(ctx)
	if err != nil {
		t.Fatalf("ListDrives: %v", err)
	}
	if len(list) != 1 || list[0].Status != DriveUp || list[0].SessionID != nil {
		t.Fatalf("unexpected drives: %+v", list)
	}

	if err := c.UpsertDrive(ctx, Drive{Name: "d2", Status: "BROKEN"}); err == nil {
		t.Fatal("expected invalid status error")
	}

	if err := c.DeleteDrive(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDrive: %v", err)
	}
	if err := c.DeleteDrive(ctx, "d1"); !errors.Is(err, ErrDriveNotFound) {
		t.Fatalf("expected ErrDriveNotFound, got %v", err)
	}
}

func TestArchiveRouteRequiresStorageClass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCatalogue(t)

	err := c.CreateArchiveRoute(ctx, ArchiveRoute{StorageClass: "missing", CopyNb: 1, TapePool: "pool"})
	if !errors.Is(err, ErrStorageClassNotFound) {
		t.Fatalf("expected ErrStorageClassNotFound, got %v", err)
	}

	if err := c.CreateStorageClass(ctx, StorageClass{Name: "dual", NbCopies: 2}); err != nil {
		t.Fatalf("CreateStorageClass: %v", err)
	}
	for _, r := range []ArchiveRoute{
		{StorageClass: "dual", CopyNb: 1, TapePool: "pool-a"},
		{StorageClass: "dual", CopyNb: 2, TapePool: "pool-b"},
	} {
		if err := c.CreateArchiveRoute(ctx, r); err != nil {
			t.Fatalf("CreateArchiveRoute: %v", err)
		}
	}

	routes, err := c.GetArchiveRoutes(ctx)
	if err != nil {
		t.Fatalf("GetArchiveRoutes: %v", err)
	}
	if len(routes) != 2 || routes[1].TapePool != "pool-b" {
		t.Fatalf("unexpected routes: %+v", routes)
	}
	classes, err := c.GetStorageClasses(ctx)
	if err != nil {
		t.Fatalf("GetStorageClasses: %v", err)
	}
	if len(classes) != 1 || classes[0].NbCopies != 2 {
		t.Fatalf("unexpected classes: %+v", classes)
	}
}

func TestGetArchiveFilesForRepack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := openTestCatalogue(t)

	if err := c.CreateStorageClass(ctx, StorageClass{Name: "dual", NbCopies: 2}); err != nil {
		t.Fatalf("CreateStorageClass: %v", err)
	}
	files := []ArchiveFile{
		{ID: 1, SizeInBytes: 100, StorageClass: "dual", TapeFiles: []TapeFile{{VID: "V001", FSeq: 1, CopyNb: 1}, {VID: "V002", FSeq: 10, CopyNb: 2}}},
		{ID: 2, SizeInBytes: 200, StorageClass: "dual", TapeFiles: []TapeFile{{VID: "V001", FSeq: 2, CopyNb: 1}}},
		{ID: 3, SizeInBytes: 300, StorageClass: "dual", TapeFiles: []TapeFile{{VID: "V001", FSeq: 3, CopyNb: 1}}},
		{ID: 4, SizeInBytes: 400, StorageClass: "dual", TapeFiles: []TapeFile{{VID: "V002", FSeq: 11, CopyNb: 1}}},
	}
	for _, f := range files {
		if err := c.AddArchiveFile(ctx, f); err != nil {
			t.Fatalf("AddArchiveFile(%d): %v", f.ID, err)
		}
	}

	got, err := c.GetArchiveFilesForRepack(ctx, "V001", 0)
	if err != nil {
		t.Fatalf("GetArchiveFilesForRepack: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 files on V001, got %d", len(got))
	}
	if got[0].ID != 1 || len(got[0].TapeFiles) != 2 {
		t.Fatalf("file 1 should carry both copies: %+v", got[0])
	}
	if tf, ok := got[0].CopyOn("V001"); !ok || tf.FSeq != 1 {
		t.Fatalf("CopyOn(V001) = %+v, %v", tf, ok)
	}

	resumed, err := c.GetArchiveFilesForRepack(ctx, "V001", 2)
	if err != nil {
		t.Fatalf("GetArchiveFilesForRepack resumed: %v", err)
	}
	if len(resumed) != 1 || resumed[0].ID != 3 {
		t.Fatalf("expected only file 3 after fSeq 2, got %+v", resumed)
	}
}
