package catalogue

import "github.com/mattjoyce/tapemaint/internal/storage"

// Schema creates the catalogue tables used by the maintenance daemon.
var Schema = storage.Schema{
	`CREATE TABLE IF NOT EXISTS tape_drive (
  drive_name       TEXT PRIMARY KEY,
  logical_library  TEXT NOT NULL DEFAULT '',
  drive_status     TEXT NOT NULL,
  mount_type       TEXT NOT NULL DEFAULT '',
  session_id       INTEGER,
  vid              TEXT NOT NULL DEFAULT '',
  last_update_time INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS storage_class (
  storage_class_name TEXT PRIMARY KEY,
  nb_copies          INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS archive_route (
  storage_class_name TEXT NOT NULL REFERENCES storage_class(storage_class_name),
  copy_nb            INTEGER NOT NULL,
  tape_pool          TEXT NOT NULL,
  PRIMARY KEY (storage_class_name, copy_nb)
);`,
	`CREATE TABLE IF NOT EXISTS archive_file (
  archive_file_id    INTEGER PRIMARY KEY,
  disk_instance      TEXT NOT NULL DEFAULT '',
  disk_file_id       TEXT NOT NULL DEFAULT '',
  size_in_bytes      INTEGER NOT NULL,
  storage_class_name TEXT NOT NULL,
  checksum_blob      TEXT NOT NULL DEFAULT '',
  creation_time      INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS tape_file (
  vid             TEXT NOT NULL,
  fseq            INTEGER NOT NULL,
  archive_file_id INTEGER NOT NULL REFERENCES archive_file(archive_file_id) ON DELETE CASCADE,
  copy_nb         INTEGER NOT NULL,
  block_id        INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (vid, fseq)
);`,
	`CREATE INDEX IF NOT EXISTS tape_file_archive_file_idx ON tape_file(archive_file_id);`,
}
