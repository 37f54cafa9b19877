package schedstore

import (
	"fmt"

	"github.com/mattjoyce/tapemaint/internal/storage"
)

// Schema creates every queue table plus the mount fetch markers and repack
// requests.
var Schema = buildSchema()

const jobColumns = `job_id, mount_id, status, archive_file_id, vid, fseq, tape_pool, copy_nb,
  rearchive_copies, size_in_bytes, repack_request_id, buffer_url, is_reporting, failure_log,
  creation_time, last_update_time`

func buildSchema() storage.Schema {
	var stmts storage.Schema
	for _, c := range Categories() {
		for _, q := range []Queue{QueuePending, QueueActive, QueueFailed} {
			table := c.Table(q)
			stmts = append(stmts,
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  job_id            TEXT PRIMARY KEY,
  mount_id          INTEGER,
  status            TEXT NOT NULL,
  archive_file_id   INTEGER NOT NULL DEFAULT 0,
  vid               TEXT NOT NULL DEFAULT '',
  fseq              INTEGER NOT NULL DEFAULT 0,
  tape_pool         TEXT NOT NULL DEFAULT '',
  copy_nb           INTEGER NOT NULL DEFAULT 0,
  rearchive_copies  JSON,
  size_in_bytes     INTEGER NOT NULL DEFAULT 0,
  repack_request_id TEXT,
  buffer_url        TEXT NOT NULL DEFAULT '',
  is_reporting      INTEGER NOT NULL DEFAULT 0,
  failure_log       TEXT,
  creation_time     INTEGER NOT NULL,
  last_update_time  INTEGER NOT NULL
);`, table),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_mount_idx ON %s(mount_id);`, table, table),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_last_update_idx ON %s(last_update_time);`, table, table),
			)
		}
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS mount_queue_last_fetch (
  mount_id         INTEGER NOT NULL,
  queue_type       TEXT NOT NULL,
  last_update_time INTEGER NOT NULL,
  PRIMARY KEY (mount_id, queue_type)
);`,
		`CREATE INDEX IF NOT EXISTS mount_queue_last_fetch_time_idx ON mount_queue_last_fetch(last_update_time);`,
		`CREATE TABLE IF NOT EXISTS repack_request (
  request_id               TEXT PRIMARY KEY,
  vid                      TEXT NOT NULL UNIQUE,
  status                   TEXT NOT NULL,
  repack_type              TEXT NOT NULL,
  buffer_url               TEXT NOT NULL,
  no_recall                INTEGER NOT NULL DEFAULT 0,
  submitted_by             TEXT NOT NULL DEFAULT '',
  last_expanded_fseq       INTEGER NOT NULL DEFAULT 0,
  is_expand_started        INTEGER NOT NULL DEFAULT 0,
  is_expand_finished       INTEGER NOT NULL DEFAULT 0,
  files_to_retrieve        INTEGER NOT NULL DEFAULT 0,
  bytes_to_retrieve        INTEGER NOT NULL DEFAULT 0,
  files_to_archive         INTEGER NOT NULL DEFAULT 0,
  bytes_to_archive         INTEGER NOT NULL DEFAULT 0,
  user_provided_files      INTEGER NOT NULL DEFAULT 0,
  user_provided_bytes      INTEGER NOT NULL DEFAULT 0,
  retrieved_files          INTEGER NOT NULL DEFAULT 0,
  retrieved_bytes          INTEGER NOT NULL DEFAULT 0,
  archived_files           INTEGER NOT NULL DEFAULT 0,
  archived_bytes           INTEGER NOT NULL DEFAULT 0,
  failed_to_retrieve_files INTEGER NOT NULL DEFAULT 0,
  failed_to_retrieve_bytes INTEGER NOT NULL DEFAULT 0,
  failed_to_archive_files  INTEGER NOT NULL DEFAULT 0,
  failed_to_archive_bytes  INTEGER NOT NULL DEFAULT 0,
  failure_message          TEXT,
  creation_time            INTEGER NOT NULL,
  last_update_time         INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS repack_request_status_idx ON repack_request(status, creation_time);`,
	)
	return stmts
}
