package catalogue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Catalogue is the SQLite-backed view of drives, storage classes, archive
// routes and archive files.
type Catalogue struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Catalogue.
type Option func(*Catalogue)

// WithClock overrides the time source used for last_update_time.
func WithClock(now func() time.Time) Option {
	return func(c *Catalogue) {
		if now != nil {
			c.now = now
		}
	}
}

func New(db *sql.DB, opts ...Option) *Catalogue {
	c := &Catalogue{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks the catalogue database is reachable.
func (c *Catalogue) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// GetActiveMountIDs returns every known drive with the id of the mount it
// currently holds, or nil when the drive holds no live mount.
func (c *Catalogue) GetActiveMountIDs(ctx context.Context) (map[string]*uint64, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT drive_name, drive_status, session_id
FROM tape_drive;
`)
	if err != nil {
		return nil, fmt.Errorf("query active mounts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*uint64)
	for rows.Next() {
		var (
			name      string
			status    string
			sessionID sql.NullInt64
		)
		if err := rows.Scan(&name, &status, &sessionID); err != nil {
			return nil, fmt.Errorf("scan active mount: %w", err)
		}
		if sessionID.Valid && DriveStatus(status).HasMount() {
			id := uint64(sessionID.Int64)
			out[name] = &id
		} else {
			out[name] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active mounts: %w", err)
	}
	return out, nil
}

// UpsertDrive records the current state of a drive.
func (c *Catalogue) UpsertDrive(ctx context.Context, d Drive) error {
	if d.Name == "" {
		return fmt.Errorf("drive name is empty")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid drive status: %q", d.Status)
	}

	var sessionID any
	if d.SessionID != nil {
		sessionID = int64(*d.SessionID)
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO tape_drive(drive_name, logical_library, drive_status, mount_type, session_id, vid, last_update_time)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(drive_name) DO UPDATE SET
  logical_library = excluded.logical_library,
  drive_status = excluded.drive_status,
  mount_type = excluded.mount_type,
  session_id = excluded.session_id,
  vid = excluded.vid,
  last_update_time = excluded.last_update_time;
`, d.Name, d.LogicalLibrary, string(d.Status), d.MountType, sessionID, d.VID, c.now().Unix())
	if err != nil {
		return fmt.Errorf("upsert drive %s: %w", d.Name, err)
	}
	return nil
}

// ListDrives returns all drives ordered by name.
func (c *Catalogue) ListDrives(ctx context.Context) ([]Drive, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT drive_name, logical_library, drive_status, mount_type, session_id, vid, last_update_time
FROM tape_drive
ORDER BY drive_name ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list drives: %w", err)
	}
	defer rows.Close()

	var out []Drive
	for rows.Next() {
		var (
			d          Drive
			status     string
			sessionID  sql.NullInt64
			lastUpdate int64
		)
		if err := rows.Scan(&d.Name, &d.LogicalLibrary, &status, &d.MountType, &sessionID, &d.VID, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan drive: %w", err)
		}
		d.Status = DriveStatus(status)
		if sessionID.Valid {
			id := uint64(sessionID.Int64)
			d.SessionID = &id
		}
		d.LastUpdate = time.Unix(lastUpdate, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDrive removes a drive row.
func (c *Catalogue) DeleteDrive(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM tape_drive WHERE drive_name = ?;`, name)
	if err != nil {
		return fmt.Errorf("delete drive %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDriveNotFound
	}
	return nil
}

// CreateStorageClass inserts or updates a storage class.
func (c *Catalogue) CreateStorageClass(ctx context.Context, sc StorageClass) error {
	if sc.Name == "" {
		return fmt.Errorf("storage class name is empty")
	}
	if sc.NbCopies == 0 {
		return fmt.Errorf("storage class %s: nb_copies must be positive", sc.Name)
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO storage_class(storage_class_name, nb_copies)
VALUES(?, ?)
ON CONFLICT(storage_class_name) DO UPDATE SET nb_copies = excluded.nb_copies;
`, sc.Name, int(sc.NbCopies))
	if err != nil {
		return fmt.Errorf("create storage class %s: %w", sc.Name, err)
	}
	return nil
}

// GetStorageClasses returns all storage classes.
func (c *Catalogue) GetStorageClasses(ctx context.Context) ([]StorageClass, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT storage_class_name, nb_copies FROM storage_class ORDER BY storage_class_name;
`)
	if err != nil {
		return nil, fmt.Errorf("query storage classes: %w", err)
	}
	defer rows.Close()

	var out []StorageClass
	for rows.Next() {
		var (
			sc       StorageClass
			nbCopies int
		)
		if err := rows.Scan(&sc.Name, &nbCopies); err != nil {
			return nil, fmt.Errorf("scan storage class: %w", err)
		}
		sc.NbCopies = uint8(nbCopies)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CreateArchiveRoute inserts or updates an archive route. The storage class
// must already exist.
func (c *Catalogue) CreateArchiveRoute(ctx context.Context, r ArchiveRoute) error {
	if r.TapePool == "" {
		return fmt.Errorf("archive route tape pool is empty")
	}
	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM storage_class WHERE storage_class_name = ?;`, r.StorageClass).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("archive route for %s: %w", r.StorageClass, ErrStorageClassNotFound)
	}
	if err != nil {
		return fmt.Errorf("check storage class %s: %w", r.StorageClass, err)
	}

	_, err = c.db.ExecContext(ctx, `
INSERT INTO archive_route(storage_class_name, copy_nb, tape_pool)
VALUES(?, ?, ?)
ON CONFLICT(storage_class_name, copy_nb) DO UPDATE SET tape_pool = excluded.tape_pool;
`, r.StorageClass, int(r.CopyNb), r.TapePool)
	if err != nil {
		return fmt.Errorf("create archive route %s/%d: %w", r.StorageClass, r.CopyNb, err)
	}
	return nil
}

// GetArchiveRoutes returns all archive routes.
func (c *Catalogue) GetArchiveRoutes(ctx context.Context) ([]ArchiveRoute, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT storage_class_name, copy_nb, tape_pool FROM archive_route ORDER BY storage_class_name, copy_nb;
`)
	if err != nil {
		return nil, fmt.Errorf("query archive routes: %w", err)
	}
	defer rows.Close()

	var out []ArchiveRoute
	for rows.Next() {
		var (
			r      ArchiveRoute
			copyNb int
		)
		if err := rows.Scan(&r.StorageClass, &copyNb, &r.TapePool); err != nil {
			return nil, fmt.Errorf("scan archive route: %w", err)
		}
		r.CopyNb = uint8(copyNb)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddArchiveFile records a file and its tape copies in one transaction.
func (c *Catalogue) AddArchiveFile(ctx context.Context, f ArchiveFile) error {
	if f.StorageClass == "" {
		return fmt.Errorf("archive file %d: storage class is empty", f.ID)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := f.CreationTime
	if created.IsZero() {
		created = c.now()
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO archive_file(archive_file_id, disk_instance, disk_file_id, size_in_bytes, storage_class_name, checksum_blob, creation_time)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, int64(f.ID), f.DiskInstance, f.DiskFileID, int64(f.SizeInBytes), f.StorageClass, f.Checksum, created.Unix()); err != nil {
		return fmt.Errorf("insert archive file %d: %w", f.ID, err)
	}

	for _, tf := range f.TapeFiles {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tape_file(vid, fseq, archive_file_id, copy_nb, block_id)
VALUES(?, ?, ?, ?, ?);
`, tf.VID, int64(tf.FSeq), int64(f.ID), int(tf.CopyNb), int64(tf.BlockID)); err != nil {
			return fmt.Errorf("insert tape file %s/%d: %w", tf.VID, tf.FSeq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetArchiveFilesForRepack lists the files with a copy on vid at an fSeq
// strictly greater than afterFSeq, in fSeq order. Each file carries all of
// its tape copies, not only the one on vid.
func (c *Catalogue) GetArchiveFilesForRepack(ctx context.Context, vid string, afterFSeq uint64) ([]ArchiveFile, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT
  af.archive_file_id, af.disk_instance, af.disk_file_id, af.size_in_bytes, af.storage_class_name,
  af.checksum_blob, af.creation_time,
  tf.vid, tf.fseq, tf.copy_nb, tf.block_id
FROM tape_file rt
JOIN archive_file af ON af.archive_file_id = rt.archive_file_id
JOIN tape_file tf ON tf.archive_file_id = af.archive_file_id
WHERE rt.vid = ? AND rt.fseq > ?
ORDER BY rt.fseq ASC, tf.copy_nb ASC, tf.vid ASC;
`, vid, int64(afterFSeq))
	if err != nil {
		return nil, fmt.Errorf("query archive files for repack of %s: %w", vid, err)
	}
	defer rows.Close()

	var (
		out   []ArchiveFile
		index = make(map[uint64]int)
		// A file with two copies on vid joins twice per copy; keep copies unique.
		seenCopy = make(map[uint64]map[string]bool)
	)
	for rows.Next() {
		var (
			id, size, created int64
			f                 ArchiveFile
			tf                TapeFile
			fseq, blockID     int64
			copyNb            int
		)
		if err := rows.Scan(&id, &f.DiskInstance, &f.DiskFileID, &size, &f.StorageClass, &f.Checksum, &created,
			&tf.VID, &fseq, &copyNb, &blockID); err != nil {
			return nil, fmt.Errorf("scan archive file: %w", err)
		}
		tf.FSeq = uint64(fseq)
		tf.CopyNb = uint8(copyNb)
		tf.BlockID = uint64(blockID)

		fileID := uint64(id)
		pos, ok := index[fileID]
		if !ok {
			f.ID = fileID
			f.SizeInBytes = uint64(size)
			f.CreationTime = time.Unix(created, 0).UTC()
			out = append(out, f)
			pos = len(out) - 1
			index[fileID] = pos
			seenCopy[fileID] = make(map[string]bool)
		}
		key := fmt.Sprintf("%s/%d", tf.VID, tf.FSeq)
		if seenCopy[fileID][key] {
			continue
		}
		seenCopy[fileID][key] = true
		out[pos].TapeFiles = append(out[pos].TapeFiles, tf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive files: %w", err)
	}
	return out, nil
}
