// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. A scene store
// needs exactly what it offers: unique IDs (we generate them), indexed lookup
// by ID, and atomic single-row writes.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code: no C compiler needed.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB     : a connection pool (NOT a single connection!)
//   - sql.Tx     : a transaction
//   - sql.Row    : a single result row
//   - sql.Rows   : multiple result rows (must be closed!)
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	// Side-effect import: registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.SceneRepository.
// The user store is reached through db.Users().
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/scenes.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (great for tests, lost on close)
//
// IN-MEMORY DATABASES AND THE POOL:
// Every connection to ":memory:" gets its OWN empty database. Because sql.DB
// is a pool, a second connection would see no tables at all. We pin the pool
// to one connection in that case so the whole test sees one database.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		conn.SetMaxOpenConns(1)
	}

	// Ping verifies the connection actually works. Without this, a bad path
	// would only surface on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// connPragmas run on every new connection the pool opens.
//
// PRAGMAS ARE PER CONNECTION:
// foreign_keys and busy_timeout live on the connection, not the file. A
// one-off db.Exec("PRAGMA ...") only reaches whichever pooled connection ran
// it. The driver runs each _pragma DSN parameter on connect, so every
// connection gets them.
//   - busy_timeout(5000): wait up to 5s for a competing writer instead of
//     failing with SQLITE_BUSY
//   - foreign_keys(1): OFF by default in SQLite; scenes reference users
//   - journal_mode(WAL): readers proceed while a write is in progress
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// dsn appends connPragmas to dbPath as _pragma query parameters.
func dsn(dbPath string) string {
	q := url.Values{"_pragma": connPragmas}.Encode()
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + q
	}
	return dbPath + "?" + q
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is idempotent, so running this on every start
// is safe. Columns added after the first release go through
// addColumnIfNotExists.
func (db *DB) migrate() error {
	// Users: email and username are each globally unique.
	// COLLATE NOCASE makes "Alice" and "alice" the same username.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// GitHub sign-in. NULL for password accounts; UNIQUE ignores NULLs.
	if err := db.addColumnIfNotExists("users", "github_id", "INTEGER"); err != nil {
		return fmt.Errorf("adding github_id to users: %w", err)
	}
	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_github_id ON users(github_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users github_id index: %w", err)
	}

	// Scenes: audio_data and audio_mime_type are NULL together or set together.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS scenes (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			video_url       TEXT NOT NULL,
			video_title     TEXT NOT NULL DEFAULT '',
			start_timecode  REAL NOT NULL DEFAULT 0,
			end_timecode    REAL NOT NULL DEFAULT 0,
			transcript      TEXT NOT NULL DEFAULT '',
			audio_data      BLOB,
			audio_mime_type TEXT,
			is_public       INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK ((audio_data IS NULL) = (audio_mime_type IS NULL))
		);
		CREATE INDEX IF NOT EXISTS idx_scenes_user_id ON scenes(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_scenes_public ON scenes(is_public, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating scenes table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent: safe to run multiple times.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
