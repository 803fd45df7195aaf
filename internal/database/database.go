package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	connMaxLifetime = 5 * time.Minute
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "version catalogue",
		SQL: `
CREATE TABLE IF NOT EXISTS versions_version (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  release_date TEXT,
  data TEXT NOT NULL DEFAULT '{}'
);
`,
	},
	{
		Version:     2,
		Description: "review schedule: reviews, results, people",
		SQL: `
CREATE TABLE IF NOT EXISTS versions_review (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  submission TEXT NOT NULL,
  submitter_raw TEXT NOT NULL,
  review_manager_raw TEXT NOT NULL DEFAULT '',
  review_dates TEXT NOT NULL DEFAULT '',
  github_link TEXT NOT NULL DEFAULT '',
  documentation_link TEXT NOT NULL DEFAULT '',
  UNIQUE(submission, submitter_raw)
);

CREATE TABLE IF NOT EXISTS versions_reviewresult (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  review_id INTEGER NOT NULL,
  short_description TEXT NOT NULL,
  announcement_link TEXT NOT NULL DEFAULT '',
  is_most_recent INTEGER NOT NULL DEFAULT 0,
  FOREIGN KEY (review_id) REFERENCES versions_review(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS versions_reviewperson (
  review_id INTEGER NOT NULL,
  role TEXT NOT NULL,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  UNIQUE(review_id, role, first_name, last_name),
  FOREIGN KEY (review_id) REFERENCES versions_review(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_reviewresult_review ON versions_reviewresult(review_id);
`,
	},
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	dsn := (&url.URL{Scheme: "file", Path: path}).String()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	return nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
