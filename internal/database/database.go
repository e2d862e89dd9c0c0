package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the local SQLite database holding the offline queue, the submission
// journal and the blocklist.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS offline_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			form_id TEXT NOT NULL UNIQUE,
			session_key TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_attempt_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS submission_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			form_id TEXT NOT NULL,
			event TEXT NOT NULL,
			name TEXT,
			reservation_type TEXT,
			reservation_date TEXT,
			party_size INTEGER,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submission_log_form ON submission_log(form_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submission_log_created ON submission_log(created_at)`,

		`CREATE TABLE IF NOT EXISTS blocked_users (
			user_id INTEGER PRIMARY KEY,
			reason TEXT,
			blocked_by INTEGER,
			blocked_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(q), err)
		}
	}
	return db.ensureColumn("offline_queue", "session_key", "TEXT NOT NULL DEFAULT ''")
}

// ensureColumn adds a column that older databases were created without.
func (db *DB) ensureColumn(table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	db.logger.Info().Str("table", table).Str("column", column).Msg("Database column added")
	return nil
}

func firstLine(q string) string {
	for i, r := range q {
		if r == '\n' {
			return q[:i]
		}
	}
	return q
}
