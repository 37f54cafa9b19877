package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Schema is an ordered list of idempotent DDL statements.
type Schema []string

var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	q := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		q = append(q, "_pragma="+p)
	}
	return "file:" + path + "?" + strings.Join(q, "&")
}

// OpenSQLite opens the database at path, creating it and its directory when
// missing, and applies schemas in a single transaction.
func OpenSQLite(ctx context.Context, path string, schemas ...Schema) (*sql.DB, error) {
	if err := CheckFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := Bootstrap(ctx, db, schemas...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// Bootstrap applies every statement of schemas atomically.
func Bootstrap(ctx context.Context, db *sql.DB, schemas ...Schema) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, schema := range schemas {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Ping checks that the database answers within the context deadline.
func Ping(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}
